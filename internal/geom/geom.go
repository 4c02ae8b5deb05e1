package geom

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// nlerpThreshold is the quaternion dot product above which Slerp falls back
// to a normalized linear blend.
const nlerpThreshold = 0.9995

// Finite reports whether every component of v is a finite number.
func Finite(v mgl64.Vec3) bool {
	for _, c := range v {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return false
		}
	}
	return true
}

// FiniteQuat reports whether every component of q is a finite number.
func FiniteQuat(q mgl64.Quat) bool {
	if math.IsNaN(q.W) || math.IsInf(q.W, 0) {
		return false
	}
	return Finite(q.V)
}

// Clamp01 limits value to the [0, 1] range. NaN collapses to 0.
func Clamp01(value float64) float64 {
	if !(value > 0) {
		return 0
	}
	if value > 1 {
		return 1
	}
	return value
}

// Lerp blends a toward b by alpha.
func Lerp(a, b mgl64.Vec3, alpha float64) mgl64.Vec3 {
	return a.Add(b.Sub(a).Mul(alpha))
}

// Slerp interpolates between two unit quaternions along the shortest arc.
func Slerp(a, b mgl64.Quat, alpha float64) mgl64.Quat {
	if alpha <= 0 {
		return a
	}
	dot := a.Dot(b)
	if dot < 0 {
		b = b.Scale(-1)
		dot = -dot
	}
	if alpha >= 1 {
		return b
	}
	if dot > nlerpThreshold {
		return a.Add(b.Sub(a).Scale(alpha)).Normalize()
	}
	theta0 := math.Acos(math.Min(dot, 1))
	theta := theta0 * alpha
	sinTheta0 := math.Sin(theta0)
	s0 := math.Cos(theta) - dot*math.Sin(theta)/sinTheta0
	s1 := math.Sin(theta) / sinTheta0
	return a.Scale(s0).Add(b.Scale(s1))
}

// SameRotation reports whether a and b describe the same orientation within
// epsilon, treating q and -q as equal.
func SameRotation(a, b mgl64.Quat, epsilon float64) bool {
	return math.Abs(a.Dot(b)) >= 1-epsilon
}

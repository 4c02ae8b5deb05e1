package geom

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// parallelEpsilon is the per-axis segment length below which a sweep is
// treated as parallel to the slab.
const parallelEpsilon = 1e-12

// Box is an oriented bounding box.
type Box struct {
	Center      mgl64.Vec3
	Rotation    mgl64.Quat
	HalfExtents mgl64.Vec3
}

// ToLocal expresses a world-space point in the box frame.
func (b Box) ToLocal(point mgl64.Vec3) mgl64.Vec3 {
	return b.Rotation.Conjugate().Rotate(point.Sub(b.Center))
}

// ContainsPoint reports whether point lies inside or on the box.
func (b Box) ContainsPoint(point mgl64.Vec3) bool {
	local := b.ToLocal(point)
	for i := 0; i < 3; i++ {
		if math.Abs(local[i]) > b.HalfExtents[i] {
			return false
		}
	}
	return true
}

// SweepSphere returns the fraction along from→to at which a sphere of the
// given radius first touches the box. The sphere is approximated by inflating
// the box by radius on each local axis. A sphere that already overlaps at
// from reports fraction 0.
func (b Box) SweepSphere(from, to mgl64.Vec3, radius float64) (float64, bool) {
	start := b.ToLocal(from)
	end := b.ToLocal(to)
	dir := end.Sub(start)

	tMin := 0.0
	tMax := 1.0
	for i := 0; i < 3; i++ {
		extent := b.HalfExtents[i] + radius
		if math.Abs(dir[i]) < parallelEpsilon {
			if start[i] < -extent || start[i] > extent {
				return 0, false
			}
			continue
		}
		inv := 1 / dir[i]
		t1 := (-extent - start[i]) * inv
		t2 := (extent - start[i]) * inv
		if t1 > t2 {
			t1, t2 = t2, t1
		}
		if t1 > tMin {
			tMin = t1
		}
		if t2 < tMax {
			tMax = t2
		}
		if tMin > tMax {
			return 0, false
		}
	}
	return tMin, true
}

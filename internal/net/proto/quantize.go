package proto

import (
	"errors"
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// ErrNotQuantizable is returned for vectors that are non-finite or do not fit
// the wire range.
var ErrNotQuantizable = errors.New("proto: vector cannot be quantized")

// QuantizedVec is a vector rounded to whole units.
type QuantizedVec [3]int32

// QuantizedVec100 is a vector rounded to hundredths of a unit.
type QuantizedVec100 [3]int32

// Quantize rounds v to whole units.
func Quantize(v mgl64.Vec3) (QuantizedVec, error) {
	var q QuantizedVec
	for i := range v {
		component, err := quantizeComponent(v[i], 1)
		if err != nil {
			return QuantizedVec{}, fmt.Errorf("%w: component %d: %w", ErrNotQuantizable, i, err)
		}
		q[i] = component
	}
	return q, nil
}

// Quantize100 rounds v to hundredths of a unit.
func Quantize100(v mgl64.Vec3) (QuantizedVec100, error) {
	var q QuantizedVec100
	for i := range v {
		component, err := quantizeComponent(v[i], 100)
		if err != nil {
			return QuantizedVec100{}, fmt.Errorf("%w: component %d: %w", ErrNotQuantizable, i, err)
		}
		q[i] = component
	}
	return q, nil
}

// Vec reconstructs the vector. The result is always finite.
func (q QuantizedVec) Vec() mgl64.Vec3 {
	return mgl64.Vec3{float64(q[0]), float64(q[1]), float64(q[2])}
}

// Vec reconstructs the vector. The result is always finite.
func (q QuantizedVec100) Vec() mgl64.Vec3 {
	return mgl64.Vec3{float64(q[0]) / 100, float64(q[1]) / 100, float64(q[2]) / 100}
}

// MaxQuantizationError is the worst-case per-component reconstruction error
// for the given scale.
func MaxQuantizationError(scale float64) float64 {
	return 0.5 / scale
}

func quantizeComponent(value, scale float64) (int32, error) {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, errors.New("not finite")
	}
	scaled := math.Round(value * scale)
	if scaled > math.MaxInt32 || scaled < math.MinInt32 {
		return 0, fmt.Errorf("%.2f out of range", value)
	}
	return int32(scaled), nil
}

package nn

import (
	"errors"
	"fmt"

	"github.com/chewxy/math32"
	"github.com/viterin/vek/vek32"
)

var ErrZeroVector = errors.New("vector has zero norm")

func Norm(v []float32) float32 {
	if len(v) == 0 {
		return 0
	}
	return math32.Sqrt(vek32.Dot(v, v))
}

// L2Normalize returns a copy of v scaled to unit Euclidean norm.
func L2Normalize(v []float32) ([]float32, error) {
	n := Norm(v)
	if n == 0 || math32.IsNaN(n) || math32.IsInf(n, 0) {
		return nil, ErrZeroVector
	}
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = x / n
	}
	return out, nil
}

func EuclideanDistance(a, b []float32) (float32, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("vectors have different dimensions: %d vs %d", len(a), len(b))
	}
	var sum float32
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return math32.Sqrt(sum), nil
}

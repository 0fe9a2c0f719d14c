package nn

import (
	"fmt"

	"github.com/chewxy/math32"
)

type LayerNorm struct {
	Dim int
	Eps float32

	gamma []float32
	beta  []float32
}

func NewLayerNorm(dim int, gamma, beta []float32, eps float32) (*LayerNorm, error) {
	if len(gamma) != dim || len(beta) != dim {
		return nil, fmt.Errorf("layer norm expects %d weights, got gamma=%d beta=%d", dim, len(gamma), len(beta))
	}
	return &LayerNorm{
		Dim:   dim,
		Eps:   eps,
		gamma: append([]float32(nil), gamma...),
		beta:  append([]float32(nil), beta...),
	}, nil
}

// Apply normalizes every Dim-sized row of x into a new slice.
func (l *LayerNorm) Apply(x []float32) ([]float32, error) {
	if len(x)%l.Dim != 0 {
		return nil, fmt.Errorf("layer norm input length %d is not a multiple of %d", len(x), l.Dim)
	}
	out := make([]float32, len(x))
	for r := 0; r < len(x)/l.Dim; r++ {
		src := x[r*l.Dim : (r+1)*l.Dim]
		dst := out[r*l.Dim : (r+1)*l.Dim]
		var mean float32
		for _, v := range src {
			mean += v
		}
		mean /= float32(l.Dim)
		var variance float32
		for _, v := range src {
			d := v - mean
			variance += d * d
		}
		variance /= float32(l.Dim)
		inv := 1 / math32.Sqrt(variance+l.Eps)
		for i, v := range src {
			dst[i] = (v-mean)*inv*l.gamma[i] + l.beta[i]
		}
	}
	return out, nil
}

package nn

import (
	"context"
	"fmt"

	"github.com/viterin/vek/vek32"
)

// Attention computes softmax(q k^T) v for every head. q, k and v hold seq
// rows of heads*headDim values each; q is expected to be scaled already.
// Heads run in parallel and each writes only its own output columns.
func Attention(ctx context.Context, q, k, v []float32, seq, heads, headDim int) ([]float32, error) {
	dim := heads * headDim
	if seq <= 0 || heads <= 0 || headDim <= 0 {
		return nil, fmt.Errorf("invalid attention shape seq=%d heads=%d head_dim=%d", seq, heads, headDim)
	}
	for _, m := range [][]float32{q, k, v} {
		if len(m) != seq*dim {
			return nil, fmt.Errorf("attention input has %d values, want %d", len(m), seq*dim)
		}
	}
	out := make([]float32, seq*dim)
	err := parallelFor(ctx, heads, func(lo, hi int) {
		scores := make([]float32, seq)
		for h := lo; h < hi; h++ {
			off := h * headDim
			for i := 0; i < seq; i++ {
				qi := q[i*dim+off : i*dim+off+headDim]
				for j := 0; j < seq; j++ {
					scores[j] = vek32.Dot(qi, k[j*dim+off:j*dim+off+headDim])
				}
				Softmax(scores)
				dst := out[i*dim+off : i*dim+off+headDim]
				for j, w := range scores {
					vj := v[j*dim+off : j*dim+off+headDim]
					for d := range dst {
						dst[d] += w * vj[d]
					}
				}
			}
		}
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

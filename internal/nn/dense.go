package nn

import (
	"context"
	"fmt"

	"github.com/viterin/vek/vek32"
)

// Dense is a fully connected layer. Weights are kept as one contiguous row
// of In values per output unit.
type Dense struct {
	In         int
	Out        int
	Activation Activation

	weight []float32
	bias   []float32
}

// NewDense builds a layer from a kernel in (in, out) order, the Keras layout.
func NewDense(in, out int, kernel, bias []float32, act Activation) (*Dense, error) {
	if in <= 0 || out <= 0 {
		return nil, fmt.Errorf("invalid dense shape %dx%d", in, out)
	}
	if len(kernel) != in*out {
		return nil, fmt.Errorf("dense kernel has %d values, want %d", len(kernel), in*out)
	}
	weight := make([]float32, in*out)
	for i := 0; i < in; i++ {
		for o := 0; o < out; o++ {
			weight[o*in+i] = kernel[i*out+o]
		}
	}
	return newDense(in, out, weight, bias, act)
}

// NewLinear builds a layer from a weight in (out, in) order, the PyTorch
// nn.Linear layout. A nil bias means no bias.
func NewLinear(in, out int, weight, bias []float32, act Activation) (*Dense, error) {
	if in <= 0 || out <= 0 {
		return nil, fmt.Errorf("invalid linear shape %dx%d", out, in)
	}
	if len(weight) != in*out {
		return nil, fmt.Errorf("linear weight has %d values, want %d", len(weight), in*out)
	}
	return newDense(in, out, append([]float32(nil), weight...), bias, act)
}

func newDense(in, out int, weight, bias []float32, act Activation) (*Dense, error) {
	if bias == nil {
		bias = make([]float32, out)
	}
	if len(bias) != out {
		return nil, fmt.Errorf("dense bias has %d values, want %d", len(bias), out)
	}
	return &Dense{
		In:         in,
		Out:        out,
		Activation: act,
		weight:     weight,
		bias:       append([]float32(nil), bias...),
	}, nil
}

func (d *Dense) Forward(ctx context.Context, x []float32) ([]float32, error) {
	if len(x) != d.In {
		return nil, fmt.Errorf("dense expects %d inputs, got %d", d.In, len(x))
	}
	out := make([]float32, d.Out)
	err := parallelFor(ctx, d.Out, func(lo, hi int) {
		for o := lo; o < hi; o++ {
			v := vek32.Dot(x, d.weight[o*d.In:(o+1)*d.In]) + d.bias[o]
			out[o] = d.Activation.apply(v)
		}
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ForwardRows applies the layer to each of rows consecutive input vectors.
func (d *Dense) ForwardRows(ctx context.Context, x []float32, rows int) ([]float32, error) {
	if rows <= 0 || len(x) != rows*d.In {
		return nil, fmt.Errorf("dense expects %d rows of %d inputs, got %d values", rows, d.In, len(x))
	}
	out := make([]float32, rows*d.Out)
	err := parallelFor(ctx, rows, func(lo, hi int) {
		for r := lo; r < hi; r++ {
			src := x[r*d.In : (r+1)*d.In]
			dst := out[r*d.Out : (r+1)*d.Out]
			for o := 0; o < d.Out; o++ {
				dst[o] = vek32.Dot(src, d.weight[o*d.In:(o+1)*d.In]) + d.bias[o]
			}
			d.Activation.Apply(dst)
		}
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

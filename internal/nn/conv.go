package nn

import (
	"context"
	"fmt"

	"github.com/viterin/vek/vek32"
)

// Conv2D is a stride-1 convolution with "same" zero padding.
type Conv2D struct {
	KernelH    int
	KernelW    int
	In         int
	Out        int
	Activation Activation

	// packed holds one contiguous row of KernelH*KernelW*In weights per
	// output channel, ordered (ky, kx, in) to match the gathered patch.
	packed []float32
	bias   []float32
}

// NewConv2D builds a convolution from a kernel in (kh, kw, in, out) order,
// the layout Keras stores Conv2D kernels in.
func NewConv2D(kh, kw, in, out int, kernel, bias []float32, act Activation) (*Conv2D, error) {
	if kh <= 0 || kw <= 0 || in <= 0 || out <= 0 {
		return nil, fmt.Errorf("invalid conv shape %dx%dx%dx%d", kh, kw, in, out)
	}
	if len(kernel) != kh*kw*in*out {
		return nil, fmt.Errorf("conv kernel has %d values, want %d", len(kernel), kh*kw*in*out)
	}
	if bias == nil {
		bias = make([]float32, out)
	}
	if len(bias) != out {
		return nil, fmt.Errorf("conv bias has %d values, want %d", len(bias), out)
	}
	patch := kh * kw * in
	packed := make([]float32, out*patch)
	for p := 0; p < patch; p++ {
		for o := 0; o < out; o++ {
			packed[o*patch+p] = kernel[p*out+o]
		}
	}
	return &Conv2D{
		KernelH:    kh,
		KernelW:    kw,
		In:         in,
		Out:        out,
		Activation: act,
		packed:     packed,
		bias:       append([]float32(nil), bias...),
	}, nil
}

func (c *Conv2D) Forward(ctx context.Context, x Tensor) (Tensor, error) {
	if err := x.Validate(); err != nil {
		return Tensor{}, err
	}
	if x.Channels != c.In {
		return Tensor{}, fmt.Errorf("conv expects %d input channels, got %d", c.In, x.Channels)
	}
	out := NewTensor(x.Height, x.Width, c.Out)
	patchLen := c.KernelH * c.KernelW * c.In
	padY := (c.KernelH - 1) / 2
	padX := (c.KernelW - 1) / 2
	err := parallelFor(ctx, x.Height, func(lo, hi int) {
		patch := make([]float32, patchLen)
		for y := lo; y < hi; y++ {
			for px := 0; px < x.Width; px++ {
				idx := 0
				for ky := 0; ky < c.KernelH; ky++ {
					iy := y + ky - padY
					for kx := 0; kx < c.KernelW; kx++ {
						ix := px + kx - padX
						seg := patch[idx : idx+c.In]
						if iy < 0 || iy >= x.Height || ix < 0 || ix >= x.Width {
							for i := range seg {
								seg[i] = 0
							}
						} else {
							base := (iy*x.Width + ix) * c.In
							copy(seg, x.Data[base:base+c.In])
						}
						idx += c.In
					}
				}
				dst := out.Data[(y*x.Width+px)*c.Out : (y*x.Width+px+1)*c.Out]
				for o := 0; o < c.Out; o++ {
					v := vek32.Dot(patch, c.packed[o*patchLen:(o+1)*patchLen]) + c.bias[o]
					dst[o] = c.Activation.apply(v)
				}
			}
		}
	})
	if err != nil {
		return Tensor{}, err
	}
	return out, nil
}

// MaxPool2D applies a size x size max pool with stride size and no padding.
// Trailing rows and columns that do not fill a window are dropped.
func MaxPool2D(x Tensor, size int) (Tensor, error) {
	if err := x.Validate(); err != nil {
		return Tensor{}, err
	}
	if size <= 0 {
		return Tensor{}, fmt.Errorf("invalid pool size %d", size)
	}
	oh, ow := x.Height/size, x.Width/size
	if oh == 0 || ow == 0 {
		return Tensor{}, fmt.Errorf("pool size %d larger than input %dx%d", size, x.Height, x.Width)
	}
	out := NewTensor(oh, ow, x.Channels)
	for y := 0; y < oh; y++ {
		for px := 0; px < ow; px++ {
			dst := out.Data[(y*ow+px)*x.Channels : (y*ow+px+1)*x.Channels]
			first := true
			for ky := 0; ky < size; ky++ {
				for kx := 0; kx < size; kx++ {
					base := ((y*size+ky)*x.Width + px*size + kx) * x.Channels
					src := x.Data[base : base+x.Channels]
					if first {
						copy(dst, src)
						first = false
						continue
					}
					for c, v := range src {
						if v > dst[c] {
							dst[c] = v
						}
					}
				}
			}
		}
	}
	return out, nil
}

package onnxrt

import (
	"fmt"
	"strings"

	"github.com/xxxsen/baggagelens/internal/nn"
)

type Layout string

const (
	// NCHW is what torch exports use, CLIP included.
	NCHW Layout = "nchw"
	// NHWC is what Keras exports keep.
	NHWC Layout = "nhwc"
)

func ParseLayout(s string) (Layout, error) {
	switch Layout(strings.ToLower(strings.TrimSpace(s))) {
	case "":
		return "", nil
	case NCHW:
		return NCHW, nil
	case NHWC:
		return NHWC, nil
	default:
		return "", fmt.Errorf("%w: layout %q", ErrUnsupported, s)
	}
}

// inputSpec is the resolved image input of a model: batch of one, three
// channels, size x size pixels.
type inputSpec struct {
	layout Layout
	size   int
}

func (s inputSpec) shape() []int64 {
	n := int64(s.size)
	if s.layout == NHWC {
		return []int64{1, n, n, 3}
	}
	return []int64{1, 3, n, n}
}

// resolveInput works out layout and size from the declared input dims.
// Dynamic dims (<= 0) are filled from the hints.
func resolveInput(dims []int64, layout Layout, size int) (inputSpec, error) {
	if len(dims) != 4 {
		return inputSpec{}, fmt.Errorf("%w: image input must be 4-d, got %v", ErrUnsupported, dims)
	}
	if layout == "" {
		switch {
		case dims[1] == 3:
			layout = NCHW
		case dims[3] == 3:
			layout = NHWC
		default:
			return inputSpec{}, fmt.Errorf("%w: cannot tell channel axis of %v", ErrUnsupported, dims)
		}
	}
	h, w := dims[2], dims[3]
	if layout == NHWC {
		h, w = dims[1], dims[2]
	}
	if h > 0 && w > 0 && h != w {
		return inputSpec{}, fmt.Errorf("%w: non square input %dx%d", ErrUnsupported, h, w)
	}
	if h > 0 {
		if size > 0 && int64(size) != h {
			return inputSpec{}, fmt.Errorf("%w: model expects %d px, configured %d", ErrUnsupported, h, size)
		}
		size = int(h)
	}
	if size <= 0 {
		return inputSpec{}, fmt.Errorf("%w: dynamic image size needs an explicit image_size", ErrUnsupported)
	}
	return inputSpec{layout: layout, size: size}, nil
}

// outputDim is the feature width of a [1, D] or [D] output.
func outputDim(dims []int64) (int, error) {
	n := int64(1)
	for i, d := range dims {
		if d <= 0 {
			if i == 0 {
				continue
			}
			return 0, fmt.Errorf("%w: dynamic output dims %v", ErrUnsupported, dims)
		}
		n *= d
	}
	return int(n), nil
}

// fill copies an HWC tensor into dst in the model's layout.
func fill(dst []float32, x nn.Tensor, layout Layout) {
	if layout == NHWC {
		copy(dst, x.Data)
		return
	}
	plane := x.Height * x.Width
	for y := 0; y < x.Height; y++ {
		for xx := 0; xx < x.Width; xx++ {
			src := (y*x.Width + xx) * x.Channels
			for c := 0; c < x.Channels; c++ {
				dst[c*plane+y*x.Width+xx] = x.Data[src+c]
			}
		}
	}
}

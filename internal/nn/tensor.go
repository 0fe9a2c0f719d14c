// Package nn holds the float32 building blocks shared by the siamese encoder
// and the CLIP vision tower: convolution, pooling, dense layers, layer norm
// and activations over HWC tensors.
package nn

import "fmt"

// Tensor is a single image-shaped activation in height, width, channel order.
type Tensor struct {
	Height   int
	Width    int
	Channels int
	Data     []float32
}

func NewTensor(height, width, channels int) Tensor {
	return Tensor{
		Height:   height,
		Width:    width,
		Channels: channels,
		Data:     make([]float32, height*width*channels),
	}
}

func (t Tensor) Len() int {
	return t.Height * t.Width * t.Channels
}

func (t Tensor) Validate() error {
	if t.Height <= 0 || t.Width <= 0 || t.Channels <= 0 {
		return fmt.Errorf("invalid tensor shape %dx%dx%d", t.Height, t.Width, t.Channels)
	}
	if len(t.Data) != t.Len() {
		return fmt.Errorf("tensor data length %d does not match shape %dx%dx%d", len(t.Data), t.Height, t.Width, t.Channels)
	}
	return nil
}

func (t Tensor) At(y, x, c int) float32 {
	return t.Data[(y*t.Width+x)*t.Channels+c]
}

// Flatten returns the backing data in HWC order. The slice is shared.
func (t Tensor) Flatten() []float32 {
	return t.Data
}

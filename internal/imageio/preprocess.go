package imageio

import (
	"fmt"
	"image"

	"golang.org/x/image/draw"

	"github.com/xxxsen/baggagelens/internal/nn"
)

var (
	CLIPMean = [3]float32{0.48145466, 0.4578275, 0.40821073}
	CLIPStd  = [3]float32{0.26862954, 0.26130258, 0.27577711}
)

// Opaque drops the alpha channel while keeping the straight colour values,
// so fully transparent pixels keep their colour instead of turning black.
func Opaque(img image.Image) *image.NRGBA {
	b := img.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	if src, ok := img.(*image.NRGBA); ok {
		for y := 0; y < b.Dy(); y++ {
			copy(dst.Pix[y*dst.Stride:y*dst.Stride+b.Dx()*4], src.Pix[src.PixOffset(b.Min.X, b.Min.Y+y):])
		}
	} else {
		draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	}
	for i := 3; i < len(dst.Pix); i += 4 {
		dst.Pix[i] = 0xff
	}
	return dst
}

// Resize scales img to exactly width x height with bicubic interpolation
// after making it opaque.
func Resize(img image.Image, width, height int) *image.NRGBA {
	src := Opaque(img)
	dst := image.NewNRGBA(image.Rect(0, 0, width, height))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
	return dst
}

// ResizeShortestEdge scales img so its shorter side equals size, keeping the
// aspect ratio. The long side is truncated, not rounded, as the
// Hugging Face CLIP image processor does.
func ResizeShortestEdge(img image.Image, size int) *image.NRGBA {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	var nw, nh int
	if w <= h {
		nw = size
		nh = int(float64(size) * float64(h) / float64(w))
	} else {
		nh = size
		nw = int(float64(size) * float64(w) / float64(h))
	}
	if nw < size {
		nw = size
	}
	if nh < size {
		nh = size
	}
	return Resize(img, nw, nh)
}

// CenterCrop cuts a size x size square out of the middle of img.
func CenterCrop(img *image.NRGBA, size int) (*image.NRGBA, error) {
	b := img.Bounds()
	if b.Dx() < size || b.Dy() < size {
		return nil, fmt.Errorf("image %dx%d smaller than crop %d", b.Dx(), b.Dy(), size)
	}
	x0 := b.Min.X + (b.Dx()-size)/2
	y0 := b.Min.Y + (b.Dy()-size)/2
	dst := image.NewNRGBA(image.Rect(0, 0, size, size))
	draw.Draw(dst, dst.Bounds(), img, image.Point{X: x0, Y: y0}, draw.Src)
	return dst, nil
}

// ToTensor converts img to an HWC RGB tensor scaled to [0,1]. When mean and
// std are given each channel becomes (v-mean)/std.
func ToTensor(img *image.NRGBA, mean, std *[3]float32) nn.Tensor {
	b := img.Bounds()
	t := nn.NewTensor(b.Dy(), b.Dx(), 3)
	for y := 0; y < b.Dy(); y++ {
		row := img.Pix[y*img.Stride:]
		for x := 0; x < b.Dx(); x++ {
			px := row[x*4 : x*4+3]
			dst := t.Data[(y*b.Dx()+x)*3 : (y*b.Dx()+x)*3+3]
			for c := 0; c < 3; c++ {
				v := float32(px[c]) / 255
				if mean != nil && std != nil {
					v = (v - mean[c]) / std[c]
				}
				dst[c] = v
			}
		}
	}
	return t
}

// SquareTensor is the siamese preprocessing: resize to size x size and scale
// to [0,1].
func SquareTensor(img image.Image, size int) nn.Tensor {
	return ToTensor(Resize(img, size, size), nil, nil)
}

// CLIPTensor is the CLIP image processor: shortest edge to size, centre crop,
// scale to [0,1] and normalize with the CLIP channel statistics.
func CLIPTensor(img image.Image, size int) (nn.Tensor, error) {
	cropped, err := CenterCrop(ResizeShortestEdge(img, size), size)
	if err != nil {
		return nn.Tensor{}, err
	}
	return ToTensor(cropped, &CLIPMean, &CLIPStd), nil
}

// DecodeSquare decodes data and applies SquareTensor.
func DecodeSquare(data []byte, size int) (nn.Tensor, error) {
	img, _, err := Decode(data)
	if err != nil {
		return nn.Tensor{}, err
	}
	return SquareTensor(img, size), nil
}

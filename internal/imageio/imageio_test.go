package imageio

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErr "github.com/xxxsen/baggagelens/internal/pkg/errors"
)

func solid(w, h int, c color.Color) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	buf := &bytes.Buffer{}
	require.NoError(t, png.Encode(buf, img))
	return buf.Bytes()
}

func TestDecodeFormats(t *testing.T) {
	img := solid(8, 6, color.NRGBA{R: 200, G: 10, B: 30, A: 255})

	out, format, err := Decode(encodePNG(t, img))
	require.NoError(t, err)
	require.Equal(t, "png", format)
	require.Equal(t, 8, out.Bounds().Dx())

	buf := &bytes.Buffer{}
	require.NoError(t, jpeg.Encode(buf, img, &jpeg.Options{Quality: 95}))
	_, format, err = Decode(buf.Bytes())
	require.NoError(t, err)
	require.Equal(t, "jpeg", format)
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, _, err := Decode([]byte("definitely not an image"))
	require.ErrorIs(t, err, appErr.ErrInvalidImage)

	_, _, err = Decode(nil)
	require.ErrorIs(t, err, appErr.ErrInvalidImage)
}

func TestSquareTensorScalesToUnitRange(t *testing.T) {
	img := solid(40, 20, color.NRGBA{R: 255, G: 0, B: 51, A: 255})
	tensor := SquareTensor(img, 16)
	require.Equal(t, 16, tensor.Height)
	require.Equal(t, 16, tensor.Width)
	require.Equal(t, 3, tensor.Channels)
	require.Len(t, tensor.Data, 16*16*3)
	assert.InDelta(t, 1.0, tensor.At(7, 7, 0), 0.01)
	assert.InDelta(t, 0.0, tensor.At(7, 7, 1), 0.01)
	assert.InDelta(t, 0.2, tensor.At(7, 7, 2), 0.01)
}

func TestOpaqueKeepsColourOfTransparentPixels(t *testing.T) {
	img := solid(4, 4, color.NRGBA{R: 255, G: 128, B: 0, A: 0})
	out := Opaque(img)
	px := out.NRGBAAt(1, 1)
	assert.Equal(t, color.NRGBA{R: 255, G: 128, B: 0, A: 255}, px)

	tensor := SquareTensor(img, 4)
	assert.InDelta(t, 1.0, tensor.At(0, 0, 0), 0.01)
}

func TestResizeShortestEdge(t *testing.T) {
	out := ResizeShortestEdge(solid(300, 150, color.White), 224)
	require.Equal(t, 224, out.Bounds().Dy())
	require.Equal(t, 448, out.Bounds().Dx())

	out = ResizeShortestEdge(solid(100, 400, color.White), 224)
	require.Equal(t, 224, out.Bounds().Dx())
	require.Equal(t, 896, out.Bounds().Dy())

	// 224*640/480 = 298.67 and 3*3/2 = 4.5: the long side truncates.
	out = ResizeShortestEdge(solid(640, 480, color.White), 224)
	assert.Equal(t, 224, out.Bounds().Dy())
	assert.Equal(t, 298, out.Bounds().Dx())
	out = ResizeShortestEdge(solid(2, 3, color.White), 3)
	assert.Equal(t, 3, out.Bounds().Dx())
	assert.Equal(t, 4, out.Bounds().Dy())
}

func TestCenterCrop(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 6, 4))
	img.Set(2, 1, color.NRGBA{R: 9, A: 255})
	out, err := CenterCrop(img, 2)
	require.NoError(t, err)
	require.Equal(t, 2, out.Bounds().Dx())
	// crop origin is (2,1)
	assert.Equal(t, uint8(9), out.NRGBAAt(0, 0).R)

	_, err = CenterCrop(img, 5)
	require.Error(t, err)
}

func TestCLIPTensorNormalizes(t *testing.T) {
	gray := color.NRGBA{R: 128, G: 128, B: 128, A: 255}
	tensor, err := CLIPTensor(solid(50, 30, gray), 8)
	require.NoError(t, err)
	require.Equal(t, 8, tensor.Height)
	require.Equal(t, 8, tensor.Width)
	for c := 0; c < 3; c++ {
		want := (128.0/255.0 - CLIPMean[c]) / CLIPStd[c]
		assert.InDelta(t, want, tensor.At(4, 4, c), 0.05)
	}
}

func TestRegisterPrependsDecoder(t *testing.T) {
	called := false
	Register("probe", func(data []byte) (image.Image, string, error) {
		called = true
		return solid(1, 1, color.Black), "probe", nil
	})
	t.Cleanup(func() {
		decodersMu.Lock()
		decoders = decoders[1:]
		decodersMu.Unlock()
	})
	require.Equal(t, "probe", Decoders()[0])
	_, format, err := Decode([]byte{1})
	require.NoError(t, err)
	require.True(t, called)
	require.Equal(t, "probe", format)
}

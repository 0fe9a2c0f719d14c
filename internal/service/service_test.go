package service

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErr "github.com/xxxsen/baggagelens/internal/pkg/errors"
	"github.com/xxxsen/baggagelens/internal/siamese"
)

func tinyNetwork(t *testing.T) *siamese.Network {
	t.Helper()
	cfg := siamese.EncoderConfig{
		InputSize:    16,
		Filters:      []int{4, 8},
		HiddenUnits:  16,
		EmbeddingDim: 8,
		DropoutRate:  0.3,
	}
	w, err := siamese.InitWeights(cfg, 7)
	require.NoError(t, err)
	enc, err := siamese.NewEncoder(cfg, w)
	require.NoError(t, err)
	return siamese.NewNetwork(enc)
}

func pngImage(t *testing.T, name string, shade uint8) Image {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 20, 20))
	for y := 0; y < 20; y++ {
		for x := 0; x < 20; x++ {
			img.Set(x, y, color.NRGBA{R: shade, G: uint8(x * 12), B: uint8(y * 12), A: 255})
		}
	}
	buf := &bytes.Buffer{}
	require.NoError(t, png.Encode(buf, img))
	return Image{Name: name, Data: buf.Bytes()}
}

func TestCompareServiceUnavailable(t *testing.T) {
	s := NewCompareService(nil)
	h := s.Health()
	assert.False(t, h.ModelLoaded)
	assert.Equal(t, SiameseStatus, h.Status)
	assert.Equal(t, SiameseModelName, h.Model)

	img := pngImage(t, "a.png", 10)
	_, err := s.Compare(context.Background(), img, img)
	require.ErrorIs(t, err, appErr.ErrModelUnavailable)
	_, err = s.MatchBatch(context.Background(), img, []Image{img})
	require.ErrorIs(t, err, appErr.ErrModelUnavailable)
	_, err = s.ExtractFeatures(context.Background(), img)
	require.ErrorIs(t, err, appErr.ErrModelUnavailable)
}

func TestCompareIdenticalImages(t *testing.T) {
	s := NewCompareService(tinyNetwork(t))
	assert.True(t, s.Health().ModelLoaded)
	img := pngImage(t, "bag.png", 80)
	resp, err := s.Compare(context.Background(), img, Image{Name: "copy.png", Data: img.Data})
	require.NoError(t, err)
	assert.Equal(t, "bag.png", resp.Image1)
	assert.Equal(t, "copy.png", resp.Image2)
	assert.InDelta(t, 1.0, resp.SimilarityScore, 1e-6)
	assert.Equal(t, siamese.MatchFound, resp.Match)
}

func TestCompareRejectsBadImage(t *testing.T) {
	s := NewCompareService(tinyNetwork(t))
	good := pngImage(t, "bag.png", 80)
	_, err := s.Compare(context.Background(), good, Image{Name: "notes.txt", Data: []byte("hello")})
	require.ErrorIs(t, err, appErr.ErrInvalidImage)
	assert.Contains(t, err.Error(), "notes.txt")
}

func TestMatchBatchSortsDescending(t *testing.T) {
	s := NewCompareService(tinyNetwork(t))
	lost := pngImage(t, "lost.png", 100)
	found := []Image{
		pngImage(t, "far.png", 250),
		{Name: "same.png", Data: lost.Data},
		pngImage(t, "near.png", 110),
	}
	resp, err := s.MatchBatch(context.Background(), lost, found)
	require.NoError(t, err)
	require.Equal(t, 3, resp.Count)
	require.Len(t, resp.Matches, 3)
	for i := 1; i < len(resp.Matches); i++ {
		assert.GreaterOrEqual(t, resp.Matches[i-1].SimilarityScore, resp.Matches[i].SimilarityScore)
	}
	require.NotNil(t, resp.BestMatch)
	assert.Equal(t, resp.Matches[0], *resp.BestMatch)
	assert.InDelta(t, 1.0, resp.BestMatch.SimilarityScore, 1e-6)

	_, err = s.MatchBatch(context.Background(), lost, nil)
	require.ErrorIs(t, err, appErr.ErrInvalidRequest)
}

func TestExtractFeatures(t *testing.T) {
	s := NewCompareService(tinyNetwork(t))
	resp, err := s.ExtractFeatures(context.Background(), pngImage(t, "bag.png", 5))
	require.NoError(t, err)
	assert.Equal(t, []int{1, 8}, resp.Shape)
	assert.Len(t, resp.Features, 8)
}

type fakeEmbedder struct {
	vec []float32
	err error
}

func (f *fakeEmbedder) Embed(ctx context.Context, imageURL string) ([]float32, error) {
	return f.vec, f.err
}

func (f *fakeEmbedder) ModelName() string { return "fake-clip" }

func TestEmbedServiceNormalizes(t *testing.T) {
	s := NewEmbedService(&fakeEmbedder{vec: []float32{3, 4}})
	assert.Equal(t, EmbedStatus, s.Root().Status)
	assert.Equal(t, "fake-clip", s.Root().Model)

	out, err := s.Embed(context.Background(), " http://img/bag.png ")
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float32{0.6, 0.8}, out, 1e-6)

	_, err = s.Embed(context.Background(), "  ")
	require.ErrorIs(t, err, appErr.ErrInvalidRequest)

	_, err = NewEmbedService(&fakeEmbedder{vec: []float32{0, 0}}).Embed(context.Background(), "http://x")
	require.ErrorIs(t, err, appErr.ErrInference)

	boom := errors.New("boom")
	_, err = NewEmbedService(&fakeEmbedder{err: boom}).Embed(context.Background(), "http://x")
	require.ErrorIs(t, err, boom)
}

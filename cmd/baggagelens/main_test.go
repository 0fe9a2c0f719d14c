package main

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xxxsen/baggagelens/internal/config"
	"github.com/xxxsen/baggagelens/internal/handler"
	"github.com/xxxsen/baggagelens/internal/service"
	"github.com/xxxsen/baggagelens/internal/siamese"
)

func localConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.ModelStore.Type = "local"
	cfg.ModelStore.Dir = t.TempDir()
	return cfg
}

func compareRequest(t *testing.T) *http.Request {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 8, 8))
	for i := range img.Pix {
		img.Pix[i] = 200
	}
	img.Set(1, 1, color.NRGBA{R: 10, A: 255})
	pngBuf := &bytes.Buffer{}
	require.NoError(t, png.Encode(pngBuf, img))

	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	for _, field := range []string{"image1", "image2"} {
		part, err := mw.CreateFormFile(field, field+".png")
		require.NoError(t, err)
		_, err = part.Write(pngBuf.Bytes())
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	req := httptest.NewRequest(http.MethodPost, "/compare", body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func siameseRouter(network *siamese.Network) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := handler.NewSiameseHandler(service.NewCompareService(network), 20)
	handler.RegisterSiameseRoutes(r.Group("/"), h)
	return r
}

func TestEmptyModelDirServesUnavailable(t *testing.T) {
	for _, backend := range []string{"native", "onnx"} {
		t.Run(backend, func(t *testing.T) {
			cfg := localConfig(t)
			cfg.Siamese.Backend = backend
			network, err := loadNetwork(context.Background(), cfg)
			require.NoError(t, err)
			require.Nil(t, network)

			rec := httptest.NewRecorder()
			siameseRouter(network).ServeHTTP(rec, compareRequest(t))
			assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
			assert.Contains(t, rec.Body.String(), "detail")
		})
	}
}

func TestStoredCheckpointServesCompare(t *testing.T) {
	cfg := localConfig(t)
	enc := siamese.EncoderConfig{InputSize: 16, Filters: []int{4}, HiddenUnits: 8, EmbeddingDim: 4}
	weights, err := siamese.InitWeights(enc, 3)
	require.NoError(t, err)
	buf := &bytes.Buffer{}
	require.NoError(t, siamese.SaveCheckpoint(buf, enc, weights))
	require.NoError(t, os.WriteFile(filepath.Join(cfg.ModelStore.Dir, cfg.Siamese.CheckpointKey), buf.Bytes(), 0o644))

	network, err := loadNetwork(context.Background(), cfg)
	require.NoError(t, err)
	require.NotNil(t, network)
	assert.Equal(t, 16, network.InputSize())

	rec := httptest.NewRecorder()
	siameseRouter(network).ServeHTTP(rec, compareRequest(t))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "similarity_score")
}

func TestCorruptCheckpointFailsStartup(t *testing.T) {
	cfg := localConfig(t)
	require.NoError(t, os.WriteFile(filepath.Join(cfg.ModelStore.Dir, cfg.Siamese.CheckpointKey), []byte("junk"), 0o644))
	_, err := loadNetwork(context.Background(), cfg)
	require.Error(t, err)
}

func TestModelKeyFollowsBackend(t *testing.T) {
	cfg := config.Default()
	assert.Equal(t, "siamese_model.safetensors", modelKey(cfg))
	cfg.Siamese.Backend = "onnx"
	assert.Equal(t, "siamese_model.onnx", modelKey(cfg))
}

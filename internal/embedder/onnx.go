package embedder

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/baggagelens/internal/imageio"
	"github.com/xxxsen/baggagelens/internal/metrics"
	"github.com/xxxsen/baggagelens/internal/nn"
	"github.com/xxxsen/baggagelens/internal/onnxrt"
	appErr "github.com/xxxsen/baggagelens/internal/pkg/errors"
)

type onnxConfig struct {
	Name                string `json:"name"`
	ModelPath           string `json:"model_path"`
	LibraryPath         string `json:"library_path"`
	InputName           string `json:"input_name"`
	OutputName          string `json:"output_name"`
	ImageSize           int    `json:"image_size"`
	Layout              string `json:"layout"`
	FetchTimeoutSeconds int    `json:"fetch_timeout_seconds"`
	MaxImageMB          int    `json:"max_image_mb"`
}

// imageEncoder is the slice of onnxrt.Model the embedder drives.
type imageEncoder interface {
	Encode(ctx context.Context, x nn.Tensor) ([]float32, error)
	InputSize() int
}

type onnxEmbedder struct {
	name    string
	model   imageEncoder
	fetcher *Fetcher
}

// NewONNX wraps an exported CLIP image tower. Inputs get the CLIP
// resize, crop and normalisation before the graph runs.
func NewONNX(name string, model imageEncoder, fetcher *Fetcher) IEmbedder {
	if fetcher == nil {
		fetcher = &Fetcher{}
	}
	return &onnxEmbedder{name: name, model: model, fetcher: fetcher}
}

func (e *onnxEmbedder) ModelName() string {
	return e.name
}

func (e *onnxEmbedder) Embed(ctx context.Context, imageURL string) ([]float32, error) {
	data, err := e.fetcher.Fetch(ctx, imageURL)
	if err != nil {
		return nil, err
	}
	img, _, err := imageio.Decode(data)
	if err != nil {
		return nil, err
	}
	x, err := imageio.CLIPTensor(img, e.model.InputSize())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", appErr.ErrInvalidImage, err)
	}
	start := time.Now()
	features, err := e.model.Encode(ctx, x)
	metrics.InferenceDuration.WithLabelValues(e.name).Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", appErr.ErrInference, err)
	}
	return features, nil
}

func createONNXFactory(ctx context.Context, args interface{}) (IEmbedder, error) {
	cfg := &onnxConfig{}
	if err := decodeConfig(args, cfg); err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.ModelPath) == "" {
		return nil, fmt.Errorf("onnx embedder requires model_path")
	}
	layout, err := onnxrt.ParseLayout(cfg.Layout)
	if err != nil {
		return nil, err
	}
	name := strings.TrimSpace(cfg.Name)
	if name == "" {
		name = "onnx"
	}
	data, err := os.ReadFile(cfg.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("read onnx model: %w", err)
	}
	if err := onnxrt.Init(cfg.LibraryPath); err != nil {
		return nil, err
	}
	start := time.Now()
	model, err := onnxrt.Load(data, onnxrt.Options{
		InputName:  cfg.InputName,
		OutputName: cfg.OutputName,
		ImageSize:  cfg.ImageSize,
		Layout:     layout,
	})
	if err != nil {
		return nil, fmt.Errorf("load onnx model %s: %w", cfg.ModelPath, err)
	}
	logutil.GetLogger(ctx).Info("onnx model loaded", zap.String("model", name),
		zap.String("path", cfg.ModelPath), zap.Int("image_size", model.InputSize()),
		zap.Int("embedding_dim", model.EmbeddingDim()), zap.Duration("cost", time.Since(start)))
	fetcher := &Fetcher{
		Timeout:  time.Duration(cfg.FetchTimeoutSeconds) * time.Second,
		MaxBytes: int64(cfg.MaxImageMB) << 20,
	}
	return NewONNX(name, model, fetcher), nil
}

func init() {
	Register("onnx", createONNXFactory)
}

package embedder

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/baggagelens/internal/clip"
	"github.com/xxxsen/baggagelens/internal/imageio"
	"github.com/xxxsen/baggagelens/internal/metrics"
	appErr "github.com/xxxsen/baggagelens/internal/pkg/errors"
	"github.com/xxxsen/baggagelens/internal/pkg/retry"
)

const (
	DefaultCLIPModel       = "openai/clip-vit-base-patch32"
	defaultDownloadTimeout = 10 * time.Minute
)

type clipConfig struct {
	Model               string `json:"model"`
	HubURL              string `json:"hub_url"`
	ConfigURL           string `json:"config_url"`
	WeightsURL          string `json:"weights_url"`
	CacheDir            string `json:"cache_dir"`
	LoadRetries         int    `json:"load_retries"`
	RetryDelaySeconds   int    `json:"retry_delay_seconds"`
	FetchTimeoutSeconds int    `json:"fetch_timeout_seconds"`
	MaxImageMB          int    `json:"max_image_mb"`

	// DownloadTimeoutSeconds bounds each config or weights download.
	DownloadTimeoutSeconds int `json:"download_timeout_seconds"`
}

type clipEmbedder struct {
	name    string
	model   *clip.Model
	fetcher *Fetcher
}

// NewCLIP wraps an already loaded model.
func NewCLIP(name string, model *clip.Model, fetcher *Fetcher) IEmbedder {
	if fetcher == nil {
		fetcher = &Fetcher{}
	}
	return &clipEmbedder{name: name, model: model, fetcher: fetcher}
}

func (e *clipEmbedder) ModelName() string {
	return e.name
}

func (e *clipEmbedder) Embed(ctx context.Context, imageURL string) ([]float32, error) {
	data, err := e.fetcher.Fetch(ctx, imageURL)
	if err != nil {
		return nil, err
	}
	img, _, err := imageio.Decode(data)
	if err != nil {
		return nil, err
	}
	x, err := e.model.Preprocess(img)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", appErr.ErrInvalidImage, err)
	}
	start := time.Now()
	features, err := e.model.Forward(ctx, x)
	metrics.InferenceDuration.WithLabelValues(e.name).Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", appErr.ErrInference, err)
	}
	return features, nil
}

// createCLIPFactory downloads and loads the model, retrying the whole load
// a fixed number of times before giving up.
func createCLIPFactory(ctx context.Context, args interface{}) (IEmbedder, error) {
	cfg := &clipConfig{}
	if err := decodeConfig(args, cfg); err != nil {
		return nil, err
	}
	name := strings.TrimSpace(cfg.Model)
	if name == "" {
		name = DefaultCLIPModel
	}
	if cfg.CacheDir == "" {
		cfg.CacheDir = "models/clip"
	}
	if cfg.LoadRetries <= 0 {
		cfg.LoadRetries = 3
	}
	if cfg.RetryDelaySeconds < 0 {
		cfg.RetryDelaySeconds = 0
	}
	hub := clip.Hub{
		BaseURL:    cfg.HubURL,
		ModelName:  name,
		CacheDir:   cfg.CacheDir,
		ConfigURL:  cfg.ConfigURL,
		WeightsURL: cfg.WeightsURL,
		Client:     hubClient(cfg.DownloadTimeoutSeconds),
	}
	logger := logutil.GetLogger(ctx).With(zap.String("model", name))
	policy := retry.Policy{
		MaxAttempts: cfg.LoadRetries,
		Delay:       time.Duration(cfg.RetryDelaySeconds) * time.Second,
		OnRetry: func(attempt int, err error) {
			logger.Warn("load clip model failed", zap.Int("attempt", attempt),
				zap.Int("max_attempts", cfg.LoadRetries), zap.Error(err))
		},
	}
	logger.Info("loading clip model")
	start := time.Now()
	model, err := retry.Do(ctx, policy, func(ctx context.Context) (*clip.Model, error) {
		return clip.LoadHub(ctx, hub)
	})
	if err != nil {
		return nil, fmt.Errorf("load clip model %s: %w", name, err)
	}
	logger.Info("clip model loaded", zap.Duration("cost", time.Since(start)),
		zap.Int("projection_dim", model.Config().ProjectionDim))
	fetcher := &Fetcher{
		Timeout:  time.Duration(cfg.FetchTimeoutSeconds) * time.Second,
		MaxBytes: int64(cfg.MaxImageMB) << 20,
	}
	return NewCLIP(name, model, fetcher), nil
}

func hubClient(seconds int) *http.Client {
	timeout := time.Duration(seconds) * time.Second
	if timeout <= 0 {
		timeout = defaultDownloadTimeout
	}
	return &http.Client{Timeout: timeout}
}

func init() {
	Register("clip", createCLIPFactory)
}

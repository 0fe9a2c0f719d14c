package clip

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/renameio"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
)

const (
	DefaultHubURL = "https://huggingface.co"
	ConfigFile    = "config.json"
	WeightsFile   = "model.safetensors"
)

// Hub fetches model files into a local cache directory. Files already in the
// cache are reused.
type Hub struct {
	BaseURL    string
	ModelName  string
	CacheDir   string
	ConfigURL  string
	WeightsURL string
	Client     *http.Client
}

// Files are the cached paths of one model.
type Files struct {
	Config  string
	Weights string
}

func (h Hub) fileURL(override, name string) string {
	if override != "" {
		return override
	}
	base := strings.TrimRight(h.BaseURL, "/")
	if base == "" {
		base = DefaultHubURL
	}
	return fmt.Sprintf("%s/%s/resolve/main/%s", base, h.ModelName, name)
}

func (h Hub) modelDir() string {
	return filepath.Join(h.CacheDir, strings.ReplaceAll(h.ModelName, "/", "--"))
}

// Ensure makes sure config.json and model.safetensors are in the cache.
func (h Hub) Ensure(ctx context.Context) (Files, error) {
	if h.ModelName == "" {
		return Files{}, fmt.Errorf("model name is empty")
	}
	dir := h.modelDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Files{}, fmt.Errorf("create cache dir: %w", err)
	}
	files := Files{
		Config:  filepath.Join(dir, ConfigFile),
		Weights: filepath.Join(dir, WeightsFile),
	}
	if err := h.fetch(ctx, h.fileURL(h.ConfigURL, ConfigFile), files.Config); err != nil {
		return Files{}, err
	}
	if err := h.fetch(ctx, h.fileURL(h.WeightsURL, WeightsFile), files.Weights); err != nil {
		return Files{}, err
	}
	return files, nil
}

func (h Hub) fetch(ctx context.Context, url, dst string) error {
	logger := logutil.GetLogger(ctx).With(zap.String("url", url), zap.String("path", dst))
	if st, err := os.Stat(dst); err == nil && st.Size() > 0 {
		logger.Debug("model file cached")
		return nil
	}
	client := h.Client
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("download %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("download %s: status %d", url, resp.StatusCode)
	}
	pending, err := renameio.TempFile("", dst)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		_ = pending.Cleanup()
	}()
	n, err := io.Copy(pending, resp.Body)
	if err != nil {
		return fmt.Errorf("download %s: %w", url, err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("store %s: %w", dst, err)
	}
	logger.Info("model file downloaded", zap.Int64("bytes", n), zap.Duration("cost", time.Since(start)))
	return nil
}

// LoadHub ensures the files are cached and builds the model from them.
func LoadHub(ctx context.Context, h Hub) (*Model, error) {
	files, err := h.Ensure(ctx)
	if err != nil {
		return nil, err
	}
	configData, err := os.ReadFile(files.Config)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return LoadFiles(configData, files.Weights)
}

package embedder

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/xxxsen/baggagelens/internal/metrics"
	appErr "github.com/xxxsen/baggagelens/internal/pkg/errors"
)

const (
	defaultFetchTimeout = 30 * time.Second
	defaultMaxImageSize = 50 << 20
)

// Fetcher downloads image bytes with a per request timeout.
type Fetcher struct {
	Client   *http.Client
	Timeout  time.Duration
	MaxBytes int64
}

func (f *Fetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	start := time.Now()
	data, err := f.fetch(ctx, url)
	metrics.ImageFetchDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.ImageFetchFailures.Inc()
		return nil, fmt.Errorf("%w: %v", appErr.ErrFetchImage, err)
	}
	return data, nil
}

func (f *Fetcher) fetch(ctx context.Context, url string) ([]byte, error) {
	timeout := f.Timeout
	if timeout <= 0 {
		timeout = defaultFetchTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("%d %s for url: %s", resp.StatusCode, http.StatusText(resp.StatusCode), url)
	}
	limit := f.MaxBytes
	if limit <= 0 {
		limit = defaultMaxImageSize
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("image larger than %d bytes", limit)
	}
	return data, nil
}

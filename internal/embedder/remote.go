package embedder

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

type remoteConfig struct {
	BaseURL        string `json:"base_url"`
	Model          string `json:"model"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

type remoteEmbedRequest struct {
	ImageURL string `json:"imageUrl"`
}

type remoteEmbedResponse struct {
	Embedding []float32 `json:"embedding"`
}

// remoteEmbedder delegates to another service exposing POST /embed.
type remoteEmbedder struct {
	endpoint string
	model    string
	client   *http.Client
}

func (p *remoteEmbedder) ModelName() string {
	return p.model
}

func (p *remoteEmbedder) Embed(ctx context.Context, imageURL string) ([]float32, error) {
	data, err := json.Marshal(remoteEmbedRequest{ImageURL: imageURL})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("remote embed request failed: %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	var out remoteEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode remote embed response: %w", err)
	}
	if len(out.Embedding) == 0 {
		return nil, fmt.Errorf("remote embed response has no embedding")
	}
	return out.Embedding, nil
}

func createRemoteFactory(ctx context.Context, args interface{}) (IEmbedder, error) {
	cfg := &remoteConfig{}
	if err := decodeConfig(args, cfg); err != nil {
		return nil, err
	}
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("remote embedder base_url is required")
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = "remote"
	}
	return &remoteEmbedder{
		endpoint: base + "/embed",
		model:    model,
		client:   &http.Client{Timeout: timeout},
	}, nil
}

func init() {
	Register("remote", createRemoteFactory)
}

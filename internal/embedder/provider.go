package embedder

import (
	"context"
	"fmt"
	"strings"

	"github.com/goccy/go-json"
)

// IEmbedder turns the image behind a URL into a feature vector.
type IEmbedder interface {
	Embed(ctx context.Context, imageURL string) ([]float32, error)
	ModelName() string
}

type Factory func(ctx context.Context, args interface{}) (IEmbedder, error)

var registry = map[string]Factory{}

func Register(name string, factory Factory) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" || factory == nil {
		return
	}
	registry[key] = factory
}

func New(ctx context.Context, name string, args interface{}) (IEmbedder, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		return nil, fmt.Errorf("embedder provider name is required")
	}
	factory := registry[key]
	if factory == nil {
		return nil, fmt.Errorf("unsupported embedder provider: %s", name)
	}
	return factory(ctx, args)
}

func decodeConfig(args interface{}, dst interface{}) error {
	if args == nil {
		return nil
	}
	data, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("encode embedder config: %w", err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("decode embedder config: %w", err)
	}
	return nil
}

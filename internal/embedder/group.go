package embedder

import (
	"context"
	"fmt"
	"strings"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
)

type Entry struct {
	Name     string
	Embedder IEmbedder
}

type groupEmbedder struct {
	items []Entry
}

// NewGroup tries each embedder in order and returns the first success.
func NewGroup(items []Entry) IEmbedder {
	if len(items) == 0 {
		return nil
	}
	if len(items) == 1 && items[0].Embedder != nil {
		return items[0].Embedder
	}
	return &groupEmbedder{items: items}
}

func (g *groupEmbedder) Embed(ctx context.Context, imageURL string) ([]float32, error) {
	var lastErr error
	for i, item := range g.items {
		if item.Embedder == nil {
			continue
		}
		res, err := item.Embedder.Embed(ctx, imageURL)
		if err == nil {
			return res, nil
		}
		lastErr = err
		logutil.GetLogger(ctx).Warn("embedder failed", zap.Int("index", i), zap.String("name", item.Name), zap.Error(err))
	}
	if lastErr == nil {
		return nil, fmt.Errorf("embedder not configured")
	}
	return nil, lastErr
}

func (g *groupEmbedder) ModelName() string {
	names := make([]string, 0, len(g.items))
	for _, item := range g.items {
		if item.Embedder == nil {
			continue
		}
		names = append(names, item.Embedder.ModelName())
	}
	return strings.Join(names, "|")
}

// Package modelstore keeps model checkpoints in a local directory or an S3
// bucket.
package modelstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/xxxsen/baggagelens/internal/config"
)

type Store interface {
	Save(ctx context.Context, key string, r io.ReadSeeker, size int64) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Type() string
}

type Factory func(cfg config.ModelStoreConfig) (Store, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

func Register(name string, factory Factory) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" || factory == nil {
		return
	}
	registryMu.Lock()
	registry[key] = factory
	registryMu.Unlock()
}

func New(cfg config.ModelStoreConfig) (Store, error) {
	key := strings.ToLower(strings.TrimSpace(cfg.Type))
	if key == "" {
		return nil, fmt.Errorf("model_store.type is required")
	}
	registryMu.RLock()
	factory := registry[key]
	registryMu.RUnlock()
	if factory == nil {
		return nil, fmt.Errorf("unsupported model store type: %s", cfg.Type)
	}
	return factory(cfg)
}

// ReaderAtCloser is what checkpoint parsing needs: random access plus a size.
type ReaderAtCloser interface {
	io.ReaderAt
	io.Closer
}

type nopReaderAt struct {
	*bytes.Reader
}

func (nopReaderAt) Close() error { return nil }

// OpenReaderAt opens key for random access. Local files are used in place;
// remote objects are buffered in memory.
func OpenReaderAt(ctx context.Context, s Store, key string) (ReaderAtCloser, int64, error) {
	rc, err := s.Open(ctx, key)
	if err != nil {
		return nil, 0, err
	}
	if f, ok := rc.(*localFile); ok {
		return f.File, f.size, nil
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, 0, fmt.Errorf("read %s: %w", key, err)
	}
	return nopReaderAt{bytes.NewReader(data)}, int64(len(data)), nil
}

package modelstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/renameio"

	"github.com/xxxsen/baggagelens/internal/config"
	appErr "github.com/xxxsen/baggagelens/internal/pkg/errors"
)

type localStore struct {
	dir string
}

// localFile keeps the size next to the handle so callers can parse in place.
type localFile struct {
	*os.File
	size int64
}

func init() {
	Register("local", createLocalStore)
}

func createLocalStore(cfg config.ModelStoreConfig) (Store, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("local store dir is required")
	}
	return &localStore{dir: cfg.Dir}, nil
}

func (s *localStore) Type() string {
	return "local"
}

func validKey(key string) bool {
	return key != "" && key != "." && key != ".." && !strings.ContainsAny(key, `/\`)
}

func (s *localStore) Save(ctx context.Context, key string, r io.ReadSeeker, size int64) error {
	_ = ctx
	if !validKey(key) {
		return fmt.Errorf("invalid model key: %q", key)
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return err
	}
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return err
	}
	path := filepath.Join(s.dir, key)
	pending, err := renameio.TempFile("", path)
	if err != nil {
		return err
	}
	defer func() {
		_ = pending.Cleanup()
	}()
	n, err := io.Copy(pending, r)
	if err != nil {
		return err
	}
	if size >= 0 && n != size {
		return fmt.Errorf("short write for %s: %d of %d bytes", key, n, size)
	}
	return pending.CloseAtomicallyReplace()
}

func (s *localStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	_ = ctx
	if !validKey(key) {
		return nil, fmt.Errorf("invalid model key: %q", key)
	}
	path := filepath.Join(s.dir, key)
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", appErr.ErrNotFound, path)
		}
		return nil, err
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return &localFile{File: f, size: st.Size()}, nil
}

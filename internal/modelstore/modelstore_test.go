package modelstore

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xxxsen/baggagelens/internal/config"
	appErr "github.com/xxxsen/baggagelens/internal/pkg/errors"
)

func TestNewRejectsUnknownType(t *testing.T) {
	_, err := New(config.ModelStoreConfig{})
	require.Error(t, err)
	_, err = New(config.ModelStoreConfig{Type: "ftp"})
	require.Error(t, err)
	_, err = New(config.ModelStoreConfig{Type: "local"})
	require.Error(t, err)
}

func TestLocalStore(t *testing.T) {
	dir := t.TempDir()
	s, err := New(config.ModelStoreConfig{Type: "Local", Dir: dir + "/nested"})
	require.NoError(t, err)
	assert.Equal(t, "local", s.Type())
	ctx := context.Background()

	_, err = s.Open(ctx, "model.bin")
	require.ErrorIs(t, err, appErr.ErrNotFound)

	payload := []byte("checkpoint bytes")
	require.NoError(t, s.Save(ctx, "model.bin", bytes.NewReader(payload), int64(len(payload))))
	require.Error(t, s.Save(ctx, "../escape", bytes.NewReader(payload), -1))

	rc, err := s.Open(ctx, "model.bin")
	require.NoError(t, err)
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, payload, got)

	ra, size, err := OpenReaderAt(ctx, s, "model.bin")
	require.NoError(t, err)
	defer ra.Close()
	assert.Equal(t, int64(len(payload)), size)
	buf := make([]byte, 5)
	_, err = ra.ReadAt(buf, 11)
	require.NoError(t, err)
	assert.Equal(t, "bytes", string(buf))

	updated := []byte("v2")
	require.NoError(t, s.Save(ctx, "model.bin", bytes.NewReader(updated), int64(len(updated))))
	_, size, err = OpenReaderAt(ctx, s, "model.bin")
	require.NoError(t, err)
	assert.Equal(t, int64(2), size)
}

// fakeS3 is a path style object server good enough for PutObject/GetObject.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := strings.TrimPrefix(r.URL.Path, "/")
	switch r.Method {
	case http.MethodPut:
		data, _ := io.ReadAll(r.Body)
		f.objects[key] = data
		w.Header().Set("ETag", `"etag"`)
		w.WriteHeader(http.StatusOK)
	case http.MethodGet:
		data, ok := f.objects[key]
		if !ok {
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `<?xml version="1.0" encoding="UTF-8"?>`+
				`<Error><Code>NoSuchKey</Code><Message>The specified key does not exist.</Message></Error>`)
			return
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write(data)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func TestS3Store(t *testing.T) {
	fake := &fakeS3{objects: map[string][]byte{}}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	s, err := New(config.ModelStoreConfig{Type: "s3", S3: config.S3Config{
		Endpoint:     srv.URL,
		SecretID:     "id",
		SecretKey:    "secret",
		Bucket:       "models",
		Prefix:       "/siamese/",
		UsePathStyle: true,
	}})
	require.NoError(t, err)
	assert.Equal(t, "s3", s.Type())
	ctx := context.Background()

	_, err = s.Open(ctx, "siamese_model.safetensors")
	require.ErrorIs(t, err, appErr.ErrNotFound)

	payload := []byte("remote checkpoint")
	require.NoError(t, s.Save(ctx, "siamese_model.safetensors", bytes.NewReader(payload), int64(len(payload))))
	fake.mu.Lock()
	assert.Equal(t, payload, fake.objects["models/siamese/siamese_model.safetensors"])
	fake.mu.Unlock()

	ra, size, err := OpenReaderAt(ctx, s, "siamese_model.safetensors")
	require.NoError(t, err)
	defer ra.Close()
	assert.Equal(t, int64(len(payload)), size)
	buf := make([]byte, 6)
	_, err = ra.ReadAt(buf, 0)
	require.NoError(t, err)
	assert.Equal(t, "remote", string(buf))
}

func TestS3StoreRequiresCredentials(t *testing.T) {
	_, err := New(config.ModelStoreConfig{Type: "s3", S3: config.S3Config{Bucket: "b"}})
	require.Error(t, err)
}

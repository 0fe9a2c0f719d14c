// Package imageio decodes uploaded or downloaded image bytes and turns them
// into normalized float tensors for the encoders.
package imageio

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"strings"
	"sync"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	appErr "github.com/xxxsen/baggagelens/internal/pkg/errors"
)

// DecodeFunc decodes raw bytes and reports the detected format.
type DecodeFunc func(data []byte) (image.Image, string, error)

type namedDecoder struct {
	name   string
	decode DecodeFunc
}

var (
	decodersMu sync.RWMutex
	decoders   = []namedDecoder{{name: "std", decode: decodeStd}}
)

// Register adds a decoder that is tried before the ones already registered.
func Register(name string, fn DecodeFunc) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" || fn == nil {
		return
	}
	decodersMu.Lock()
	defer decodersMu.Unlock()
	decoders = append([]namedDecoder{{name: key, decode: fn}}, decoders...)
}

func Decoders() []string {
	decodersMu.RLock()
	defer decodersMu.RUnlock()
	names := make([]string, 0, len(decoders))
	for _, d := range decoders {
		names = append(names, d.name)
	}
	return names
}

// Decode tries every registered decoder in order. Failures are reported as
// ErrInvalidImage so handlers can answer with a client error.
func Decode(data []byte) (image.Image, string, error) {
	if len(data) == 0 {
		return nil, "", fmt.Errorf("%w: empty data", appErr.ErrInvalidImage)
	}
	decodersMu.RLock()
	list := append([]namedDecoder(nil), decoders...)
	decodersMu.RUnlock()

	var lastErr error
	for _, d := range list {
		img, format, err := d.decode(data)
		if err == nil {
			return img, format, nil
		}
		lastErr = err
	}
	return nil, "", fmt.Errorf("%w: %v", appErr.ErrInvalidImage, lastErr)
}

func decodeStd(data []byte) (image.Image, string, error) {
	return image.Decode(bytes.NewReader(data))
}

// Probe reads only the image header, enough to tell whether the pure Go
// decoders understand the file.
func Probe(r io.Reader) (image.Config, string, error) {
	cfg, format, err := image.DecodeConfig(r)
	if err != nil {
		return image.Config{}, "", fmt.Errorf("%w: %v", appErr.ErrInvalidImage, err)
	}
	return cfg, format, nil
}

// Package tensorfile reads and writes checkpoints in the safetensors layout:
// an 8 byte little endian header length, a JSON header describing every
// tensor, then the raw tensor bytes.
package tensorfile

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sort"

	"github.com/apache/arrow-go/v18/arrow/float16"
	"github.com/goccy/go-json"
)

const (
	DTypeF32  = "F32"
	DTypeF16  = "F16"
	DTypeBF16 = "BF16"

	metadataKey   = "__metadata__"
	maxHeaderSize = 100 << 20
)

var (
	ErrTensorNotFound   = errors.New("tensor not found")
	ErrMalformed        = errors.New("malformed tensor file")
	ErrUnsupportedDType = errors.New("unsupported dtype")
)

type TensorInfo struct {
	DType       string   `json:"dtype"`
	Shape       []int    `json:"shape"`
	DataOffsets [2]int64 `json:"data_offsets"`
}

func (t TensorInfo) NumElements() int {
	n := 1
	for _, d := range t.Shape {
		n *= d
	}
	return n
}

// File is an opened checkpoint. Tensor data is read lazily through the
// underlying ReaderAt.
type File struct {
	r       io.ReaderAt
	closer  io.Closer
	base    int64
	size    int64
	tensors map[string]TensorInfo
	meta    map[string]string
}

// Open parses the header of a checkpoint of the given total size.
func Open(r io.ReaderAt, size int64) (*File, error) {
	if size < 8 {
		return nil, fmt.Errorf("%w: file too small", ErrMalformed)
	}
	var lenBuf [8]byte
	if _, err := r.ReadAt(lenBuf[:], 0); err != nil {
		return nil, fmt.Errorf("read header length: %w", err)
	}
	headerLen := binary.LittleEndian.Uint64(lenBuf[:])
	if headerLen == 0 || headerLen > maxHeaderSize || int64(headerLen) > size-8 {
		return nil, fmt.Errorf("%w: header length %d", ErrMalformed, headerLen)
	}
	header := make([]byte, headerLen)
	if _, err := r.ReadAt(header, 8); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	raw := map[string]json.RawMessage{}
	if err := json.Unmarshal(header, &raw); err != nil {
		return nil, fmt.Errorf("%w: decode header: %v", ErrMalformed, err)
	}
	f := &File{
		r:       r,
		base:    8 + int64(headerLen),
		size:    size,
		tensors: make(map[string]TensorInfo, len(raw)),
		meta:    map[string]string{},
	}
	dataLen := size - f.base
	for name, msg := range raw {
		if name == metadataKey {
			if err := json.Unmarshal(msg, &f.meta); err != nil {
				return nil, fmt.Errorf("%w: decode metadata: %v", ErrMalformed, err)
			}
			continue
		}
		var info TensorInfo
		if err := json.Unmarshal(msg, &info); err != nil {
			return nil, fmt.Errorf("%w: decode tensor %s: %v", ErrMalformed, name, err)
		}
		begin, end := info.DataOffsets[0], info.DataOffsets[1]
		if begin < 0 || end < begin || end > dataLen {
			return nil, fmt.Errorf("%w: tensor %s offsets [%d,%d) out of range", ErrMalformed, name, begin, end)
		}
		// buffers such as I64 position ids are indexed but never decoded
		width, known := dtypeWidths[info.DType]
		if known && int64(info.NumElements()*width) != end-begin {
			return nil, fmt.Errorf("%w: tensor %s shape %v does not match %d bytes", ErrMalformed, name, info.Shape, end-begin)
		}
		f.tensors[name] = info
	}
	return f, nil
}

// OpenPath opens a checkpoint on disk. The returned File must be closed.
func OpenPath(path string) (*File, error) {
	fd, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	st, err := fd.Stat()
	if err != nil {
		_ = fd.Close()
		return nil, err
	}
	f, err := Open(fd, st.Size())
	if err != nil {
		_ = fd.Close()
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	f.closer = fd
	return f, nil
}

func (f *File) Close() error {
	if f.closer == nil {
		return nil
	}
	return f.closer.Close()
}

func (f *File) Names() []string {
	names := make([]string, 0, len(f.tensors))
	for name := range f.tensors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (f *File) Info(name string) (TensorInfo, bool) {
	info, ok := f.tensors[name]
	return info, ok
}

func (f *File) Metadata() map[string]string {
	out := make(map[string]string, len(f.meta))
	for k, v := range f.meta {
		out[k] = v
	}
	return out
}

// Float32 reads a tensor and widens it to float32 whatever its stored dtype.
func (f *File) Float32(name string) ([]float32, error) {
	info, ok := f.tensors[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTensorNotFound, name)
	}
	if !isFloat(info.DType) {
		return nil, fmt.Errorf("tensor %s: %w %q", name, ErrUnsupportedDType, info.DType)
	}
	buf := make([]byte, info.DataOffsets[1]-info.DataOffsets[0])
	if len(buf) > 0 {
		if _, err := f.r.ReadAt(buf, f.base+info.DataOffsets[0]); err != nil {
			return nil, fmt.Errorf("read tensor %s: %w", name, err)
		}
	}
	return decode(info.DType, buf)
}

// Expect reads a tensor and checks its shape.
func (f *File) Expect(name string, shape ...int) ([]float32, error) {
	info, ok := f.tensors[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTensorNotFound, name)
	}
	if !sameShape(info.Shape, shape) {
		return nil, fmt.Errorf("tensor %s has shape %v, want %v", name, info.Shape, shape)
	}
	return f.Float32(name)
}

func sameShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

var dtypeWidths = map[string]int{
	"F64": 8, DTypeF32: 4, DTypeF16: 2, DTypeBF16: 2,
	"I64": 8, "U64": 8, "I32": 4, "U32": 4,
	"I16": 2, "U16": 2, "I8": 1, "U8": 1, "BOOL": 1,
}

func isFloat(dtype string) bool {
	return dtype == DTypeF32 || dtype == DTypeF16 || dtype == DTypeBF16
}

func decode(dtype string, buf []byte) ([]float32, error) {
	switch dtype {
	case DTypeF32:
		out := make([]float32, len(buf)/4)
		for i := range out {
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
		}
		return out, nil
	case DTypeF16:
		out := make([]float32, len(buf)/2)
		for i := range out {
			out[i] = float16.FromBits(binary.LittleEndian.Uint16(buf[i*2:])).Float32()
		}
		return out, nil
	case DTypeBF16:
		out := make([]float32, len(buf)/2)
		for i := range out {
			out[i] = math.Float32frombits(uint32(binary.LittleEndian.Uint16(buf[i*2:])) << 16)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w %q", ErrUnsupportedDType, dtype)
	}
}

package tensorfile

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"sort"

	"github.com/goccy/go-json"
)

// Tensor is an in-memory float32 tensor ready to be written.
type Tensor struct {
	Shape []int
	Data  []float32
}

// Tensors is an in-memory checkpoint. Like File it hands out weights by name
// with a shape check.
type Tensors map[string]Tensor

func (ts Tensors) Expect(name string, shape ...int) ([]float32, error) {
	t, ok := ts[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTensorNotFound, name)
	}
	if !sameShape(t.Shape, shape) {
		return nil, fmt.Errorf("tensor %s has shape %v, want %v", name, t.Shape, shape)
	}
	return t.Data, nil
}

// Write serializes tensors as F32 in name order. The header is padded with
// spaces to an 8 byte boundary.
func Write(w io.Writer, tensors Tensors, meta map[string]string) error {
	names := make([]string, 0, len(tensors))
	for name := range tensors {
		if name == metadataKey {
			return fmt.Errorf("tensor name %q is reserved", name)
		}
		names = append(names, name)
	}
	sort.Strings(names)

	header := make(map[string]interface{}, len(tensors)+1)
	if len(meta) > 0 {
		header[metadataKey] = meta
	}
	var offset int64
	for _, name := range names {
		t := tensors[name]
		info := TensorInfo{DType: DTypeF32, Shape: append([]int{}, t.Shape...)}
		if info.NumElements() != len(t.Data) {
			return fmt.Errorf("tensor %s shape %v does not match %d values", name, t.Shape, len(t.Data))
		}
		size := int64(len(t.Data) * 4)
		info.DataOffsets = [2]int64{offset, offset + size}
		offset += size
		header[name] = info
	}
	raw, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("encode header: %w", err)
	}
	if pad := len(raw) % 8; pad != 0 {
		for i := 0; i < 8-pad; i++ {
			raw = append(raw, ' ')
		}
	}

	bw := bufio.NewWriter(w)
	var lenBuf [8]byte
	binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(raw)))
	if _, err := bw.Write(lenBuf[:]); err != nil {
		return err
	}
	if _, err := bw.Write(raw); err != nil {
		return err
	}
	var word [4]byte
	for _, name := range names {
		for _, v := range tensors[name].Data {
			binary.LittleEndian.PutUint32(word[:], math.Float32bits(v))
			if _, err := bw.Write(word[:]); err != nil {
				return err
			}
		}
	}
	return bw.Flush()
}

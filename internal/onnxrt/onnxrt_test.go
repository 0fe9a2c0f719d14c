package onnxrt

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xxxsen/baggagelens/internal/nn"
)

func TestResolveInput(t *testing.T) {
	tests := []struct {
		name   string
		dims   []int64
		layout Layout
		size   int
		want   inputSpec
		err    bool
	}{
		{"clip nchw", []int64{-1, 3, 224, 224}, "", 0, inputSpec{NCHW, 224}, false},
		{"keras nhwc", []int64{-1, 105, 105, 3}, "", 0, inputSpec{NHWC, 105}, false},
		{"dynamic with hint", []int64{1, 3, -1, -1}, "", 448, inputSpec{NCHW, 448}, false},
		{"forced layout", []int64{1, 3, 3, 3}, NHWC, 0, inputSpec{NHWC, 3}, false},
		{"dynamic no hint", []int64{1, 3, -1, -1}, "", 0, inputSpec{}, true},
		{"size mismatch", []int64{1, 3, 224, 224}, "", 448, inputSpec{}, true},
		{"no channel axis", []int64{1, 4, 224, 224}, "", 0, inputSpec{}, true},
		{"not square", []int64{1, 3, 224, 160}, "", 0, inputSpec{}, true},
		{"wrong rank", []int64{1, 512}, "", 0, inputSpec{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := resolveInput(tt.dims, tt.layout, tt.size)
			if tt.err {
				require.ErrorIs(t, err, ErrUnsupported)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestShapeAndOutputDim(t *testing.T) {
	assert.Equal(t, []int64{1, 3, 4, 4}, inputSpec{NCHW, 4}.shape())
	assert.Equal(t, []int64{1, 4, 4, 3}, inputSpec{NHWC, 4}.shape())

	dim, err := outputDim([]int64{-1, 512})
	require.NoError(t, err)
	assert.Equal(t, 512, dim)
	dim, err = outputDim([]int64{1, 1, 128})
	require.NoError(t, err)
	assert.Equal(t, 128, dim)
	_, err = outputDim([]int64{1, -1})
	require.ErrorIs(t, err, ErrUnsupported)
}

func TestParseLayout(t *testing.T) {
	l, err := ParseLayout(" NCHW ")
	require.NoError(t, err)
	assert.Equal(t, NCHW, l)
	l, err = ParseLayout("")
	require.NoError(t, err)
	assert.Equal(t, Layout(""), l)
	_, err = ParseLayout("chw")
	require.ErrorIs(t, err, ErrUnsupported)
}

func TestFillLayouts(t *testing.T) {
	// 1x2 image, channel values encode (x, c).
	x := nn.Tensor{Height: 1, Width: 2, Channels: 3, Data: []float32{0, 1, 2, 10, 11, 12}}

	nhwc := make([]float32, 6)
	fill(nhwc, x, NHWC)
	assert.Equal(t, x.Data, nhwc)

	nchw := make([]float32, 6)
	fill(nchw, x, NCHW)
	assert.Equal(t, []float32{0, 10, 1, 11, 2, 12}, nchw)
}

func TestLoadNeedsRuntime(t *testing.T) {
	if Initialized() {
		t.Skip("runtime already initialized")
	}
	_, err := Load([]byte("not a graph"), Options{})
	require.ErrorIs(t, err, ErrNotInitialized)
}

// TestModelWithRuntime runs a real exported model when the shared library
// and a model file are provided.
func TestModelWithRuntime(t *testing.T) {
	lib := os.Getenv("ONNXRUNTIME_LIB")
	modelPath := os.Getenv("ONNX_TEST_MODEL")
	if lib == "" || modelPath == "" {
		t.Skip("ONNXRUNTIME_LIB and ONNX_TEST_MODEL not set")
	}
	require.NoError(t, Init(lib))
	data, err := os.ReadFile(modelPath)
	require.NoError(t, err)
	m, err := Load(data, Options{})
	require.NoError(t, err)
	defer func() { require.NoError(t, m.Close()) }()

	size := m.InputSize()
	out, err := m.Encode(context.Background(), nn.NewTensor(size, size, 3))
	require.NoError(t, err)
	assert.Len(t, out, m.EmbeddingDim())

	_, err = m.Encode(context.Background(), nn.NewTensor(size+1, size, 3))
	require.Error(t, err)
}

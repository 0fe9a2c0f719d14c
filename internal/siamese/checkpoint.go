package siamese

import (
	"fmt"
	"io"
	"math/rand"

	"github.com/chewxy/math32"

	"github.com/xxxsen/baggagelens/internal/tensorfile"
)

// DefaultCheckpointKey is where init-model stores, and the service looks for,
// the encoder weights.
const DefaultCheckpointKey = "siamese_model.safetensors"

// Weights is a full set of encoder parameters keyed by tensor name.
type Weights = tensorfile.Tensors

// InitWeights draws Glorot uniform kernels and zero biases, the same
// initialisation an untrained Keras model starts from.
func InitWeights(cfg EncoderConfig, seed int64) (Weights, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	rng := rand.New(rand.NewSource(seed))
	w := Weights{}
	glorot := func(name string, fanIn, fanOut int, shape ...int) {
		limit := math32.Sqrt(6 / float32(fanIn+fanOut))
		n := 1
		for _, d := range shape {
			n *= d
		}
		data := make([]float32, n)
		for i := range data {
			data[i] = (rng.Float32()*2 - 1) * limit
		}
		w[name] = tensorfile.Tensor{Shape: shape, Data: data}
	}
	zeros := func(name string, n int) {
		w[name] = tensorfile.Tensor{Shape: []int{n}, Data: make([]float32, n)}
	}
	in := 3
	for i, out := range cfg.Filters {
		glorot(convKernelName(i), 9*in, 9*out, 3, 3, in, out)
		zeros(convBiasName(i), out)
		in = out
	}
	glorot(dense1Kernel, cfg.FlatDim(), cfg.HiddenUnits, cfg.FlatDim(), cfg.HiddenUnits)
	zeros(dense1Bias, cfg.HiddenUnits)
	glorot(dense2Kernel, cfg.HiddenUnits, cfg.EmbeddingDim, cfg.HiddenUnits, cfg.EmbeddingDim)
	zeros(dense2Bias, cfg.EmbeddingDim)
	return w, nil
}

// SaveCheckpoint writes weights together with the architecture metadata.
func SaveCheckpoint(out io.Writer, cfg EncoderConfig, weights Weights) error {
	if _, err := NewEncoder(cfg, weights); err != nil {
		return fmt.Errorf("weights do not fit config: %w", err)
	}
	return tensorfile.Write(out, weights, cfg.metadata())
}

// LoadCheckpoint rebuilds a network from a checkpoint of the given size.
func LoadCheckpoint(r io.ReaderAt, size int64) (*Network, error) {
	f, err := tensorfile.Open(r, size)
	if err != nil {
		return nil, err
	}
	cfg, err := configFromMetadata(f.Metadata())
	if err != nil {
		return nil, err
	}
	enc, err := NewEncoder(cfg, f)
	if err != nil {
		return nil, err
	}
	return NewNetwork(enc), nil
}

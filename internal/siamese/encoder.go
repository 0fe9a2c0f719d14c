package siamese

import (
	"context"
	"fmt"

	"github.com/xxxsen/baggagelens/internal/nn"
)

// WeightSource hands out named weights with a checked shape.
// *tensorfile.File satisfies it.
type WeightSource interface {
	Expect(name string, shape ...int) ([]float32, error)
}

func convKernelName(i int) string { return fmt.Sprintf("encoder.conv%d.kernel", i+1) }
func convBiasName(i int) string   { return fmt.Sprintf("encoder.conv%d.bias", i+1) }

const (
	dense1Kernel = "encoder.dense1.kernel"
	dense1Bias   = "encoder.dense1.bias"
	dense2Kernel = "encoder.dense2.kernel"
	dense2Bias   = "encoder.dense2.bias"
)

// Encoder maps an InputSize x InputSize x 3 tensor to an EmbeddingDim vector.
// It is immutable once built and safe for concurrent use.
type Encoder struct {
	cfg    EncoderConfig
	convs  []*nn.Conv2D
	dense1 *nn.Dense
	dense2 *nn.Dense
}

func NewEncoder(cfg EncoderConfig, src WeightSource) (*Encoder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	enc := &Encoder{cfg: cfg}
	in := 3
	for i, out := range cfg.Filters {
		kernel, err := src.Expect(convKernelName(i), 3, 3, in, out)
		if err != nil {
			return nil, err
		}
		bias, err := src.Expect(convBiasName(i), out)
		if err != nil {
			return nil, err
		}
		conv, err := nn.NewConv2D(3, 3, in, out, kernel, bias, nn.ActReLU)
		if err != nil {
			return nil, fmt.Errorf("build conv%d: %w", i+1, err)
		}
		enc.convs = append(enc.convs, conv)
		in = out
	}
	var err error
	if enc.dense1, err = loadDense(src, dense1Kernel, dense1Bias, cfg.FlatDim(), cfg.HiddenUnits); err != nil {
		return nil, err
	}
	// dropout sits between the dense layers and is the identity at inference
	if enc.dense2, err = loadDense(src, dense2Kernel, dense2Bias, cfg.HiddenUnits, cfg.EmbeddingDim); err != nil {
		return nil, err
	}
	return enc, nil
}

func loadDense(src WeightSource, kernelName, biasName string, in, out int) (*nn.Dense, error) {
	kernel, err := src.Expect(kernelName, in, out)
	if err != nil {
		return nil, err
	}
	bias, err := src.Expect(biasName, out)
	if err != nil {
		return nil, err
	}
	return nn.NewDense(in, out, kernel, bias, nn.ActReLU)
}

func (e *Encoder) Config() EncoderConfig { return e.cfg }

func (e *Encoder) InputSize() int { return e.cfg.InputSize }

func (e *Encoder) EmbeddingDim() int { return e.cfg.EmbeddingDim }

func (e *Encoder) Encode(ctx context.Context, x nn.Tensor) ([]float32, error) {
	if err := x.Validate(); err != nil {
		return nil, err
	}
	if x.Height != e.cfg.InputSize || x.Width != e.cfg.InputSize || x.Channels != 3 {
		return nil, fmt.Errorf("encoder expects %dx%dx3 input, got %dx%dx%d",
			e.cfg.InputSize, e.cfg.InputSize, x.Height, x.Width, x.Channels)
	}
	var err error
	for i, conv := range e.convs {
		if x, err = conv.Forward(ctx, x); err != nil {
			return nil, fmt.Errorf("conv%d: %w", i+1, err)
		}
		if x, err = nn.MaxPool2D(x, 2); err != nil {
			return nil, fmt.Errorf("pool%d: %w", i+1, err)
		}
	}
	hidden, err := e.dense1.Forward(ctx, x.Flatten())
	if err != nil {
		return nil, fmt.Errorf("dense1: %w", err)
	}
	out, err := e.dense2.Forward(ctx, hidden)
	if err != nil {
		return nil, fmt.Errorf("dense2: %w", err)
	}
	return out, nil
}

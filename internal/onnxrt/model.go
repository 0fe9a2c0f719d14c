package onnxrt

import (
	"context"
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/xxxsen/baggagelens/internal/nn"
)

// Options name the graph's image input and feature output. Empty fields
// are read from the model.
type Options struct {
	InputName  string
	OutputName string
	ImageSize  int
	Layout     Layout
}

// Model is one ONNX session with preallocated input and output tensors.
// Runs are serialised because the tensors are shared.
type Model struct {
	mu         sync.Mutex
	session    *ort.AdvancedSession
	input      *ort.Tensor[float32]
	output     *ort.Tensor[float32]
	inputName  string
	outputName string
	spec       inputSpec
	outDim     int
}

func pick(infos []ort.InputOutputInfo, name, kind string) (ort.InputOutputInfo, error) {
	if len(infos) == 0 {
		return ort.InputOutputInfo{}, fmt.Errorf("%w: model has no %s", ErrUnsupported, kind)
	}
	if name == "" {
		return infos[0], nil
	}
	for _, info := range infos {
		if info.Name == name {
			return info, nil
		}
	}
	return ort.InputOutputInfo{}, fmt.Errorf("%w: %s %q not found", ErrUnsupported, kind, name)
}

// Load builds a session from serialized model bytes. Init must have been
// called first.
func Load(data []byte, opts Options) (*Model, error) {
	if !Initialized() {
		return nil, ErrNotInitialized
	}
	inputs, outputs, err := ort.GetInputOutputInfoWithONNXData(data)
	if err != nil {
		return nil, fmt.Errorf("read onnx graph: %w", err)
	}
	in, err := pick(inputs, opts.InputName, "input")
	if err != nil {
		return nil, err
	}
	out, err := pick(outputs, opts.OutputName, "output")
	if err != nil {
		return nil, err
	}
	spec, err := resolveInput(in.Dimensions, opts.Layout, opts.ImageSize)
	if err != nil {
		return nil, err
	}
	dim, err := outputDim(out.Dimensions)
	if err != nil {
		return nil, err
	}
	input, err := ort.NewEmptyTensor[float32](ort.NewShape(spec.shape()...))
	if err != nil {
		return nil, fmt.Errorf("alloc input: %w", err)
	}
	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(dim)))
	if err != nil {
		_ = input.Destroy()
		return nil, fmt.Errorf("alloc output: %w", err)
	}
	session, err := ort.NewAdvancedSessionWithONNXData(data,
		[]string{in.Name}, []string{out.Name},
		[]ort.Value{input}, []ort.Value{output}, nil)
	if err != nil {
		_ = input.Destroy()
		_ = output.Destroy()
		return nil, fmt.Errorf("create onnx session: %w", err)
	}
	return &Model{
		session:    session,
		input:      input,
		output:     output,
		inputName:  in.Name,
		outputName: out.Name,
		spec:       spec,
		outDim:     dim,
	}, nil
}

func (m *Model) InputSize() int { return m.spec.size }

func (m *Model) EmbeddingDim() int { return m.outDim }

func (m *Model) Layout() Layout { return m.spec.layout }

// Encode runs the graph on one HWC image tensor.
func (m *Model) Encode(ctx context.Context, x nn.Tensor) ([]float32, error) {
	if err := x.Validate(); err != nil {
		return nil, err
	}
	if x.Height != m.spec.size || x.Width != m.spec.size || x.Channels != 3 {
		return nil, fmt.Errorf("input is %dx%dx%d, model wants %dx%dx3",
			x.Height, x.Width, x.Channels, m.spec.size, m.spec.size)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	fill(m.input.GetData(), x, m.spec.layout)
	if err := m.session.Run(); err != nil {
		return nil, fmt.Errorf("onnx run: %w", err)
	}
	out := make([]float32, m.outDim)
	copy(out, m.output.GetData())
	return out, nil
}

func (m *Model) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var first error
	for _, destroy := range []func() error{m.session.Destroy, m.input.Destroy, m.output.Destroy} {
		if err := destroy(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

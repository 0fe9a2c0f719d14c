package clip

import (
	"context"
	"fmt"
	"image"

	"github.com/chewxy/math32"

	"github.com/xxxsen/baggagelens/internal/imageio"
	"github.com/xxxsen/baggagelens/internal/nn"
	"github.com/xxxsen/baggagelens/internal/tensorfile"
)

// WeightSource hands out named weights with a checked shape.
type WeightSource interface {
	Expect(name string, shape ...int) ([]float32, error)
}

const (
	visionPrefix   = "vision_model."
	projectionName = "visual_projection.weight"
)

type encoderLayer struct {
	ln1 *nn.LayerNorm
	ln2 *nn.LayerNorm
	q   *nn.Dense
	k   *nn.Dense
	v   *nn.Dense
	out *nn.Dense
	fc1 *nn.Dense
	fc2 *nn.Dense
}

// Model is the CLIP vision tower with its projection head. It is read-only
// after Load and safe for concurrent use.
type Model struct {
	cfg      VisionConfig
	patch    *nn.Dense
	classEmb []float32
	posEmb   []float32
	preLN    *nn.LayerNorm
	postLN   *nn.LayerNorm
	layers   []encoderLayer
	proj     *nn.Dense
	scale    float32
}

type loader struct {
	src WeightSource
	cfg VisionConfig
	err error
}

func (l *loader) tensor(name string, shape ...int) []float32 {
	if l.err != nil {
		return nil
	}
	data, err := l.src.Expect(name, shape...)
	if err != nil {
		l.err = err
	}
	return data
}

func (l *loader) layerNorm(name string) *nn.LayerNorm {
	d := l.cfg.HiddenSize
	gamma := l.tensor(name+".weight", d)
	beta := l.tensor(name+".bias", d)
	if l.err != nil {
		return nil
	}
	ln, err := nn.NewLayerNorm(d, gamma, beta, l.cfg.LayerNormEps)
	if err != nil {
		l.err = err
	}
	return ln
}

func (l *loader) linear(name string, in, out int, withBias bool, act nn.Activation) *nn.Dense {
	weight := l.tensor(name+".weight", out, in)
	var bias []float32
	if withBias {
		bias = l.tensor(name+".bias", out)
	}
	if l.err != nil {
		return nil
	}
	d, err := nn.NewLinear(in, out, weight, bias, act)
	if err != nil {
		l.err = fmt.Errorf("%s: %w", name, err)
	}
	return d
}

// Load builds the tower from HF CLIPModel / CLIPVisionModelWithProjection
// tensor names. Text tower tensors are ignored.
func Load(cfg VisionConfig, src WeightSource) (*Model, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	act, _ := nn.ParseActivation(cfg.HiddenAct)
	d, p, c := cfg.HiddenSize, cfg.PatchSize, cfg.NumChannels
	l := &loader{src: src, cfg: cfg}
	m := &Model{cfg: cfg, scale: 1 / math32.Sqrt(float32(cfg.HeadDim()))}

	// a stride=patch conv is a linear map over each flattened (c, ky, kx) patch
	m.patch = l.linearWeight(visionPrefix+"embeddings.patch_embedding.weight", c*p*p, d, d, c, p, p)
	m.classEmb = l.tensor(visionPrefix+"embeddings.class_embedding", d)
	m.posEmb = l.tensor(visionPrefix+"embeddings.position_embedding.weight", cfg.SeqLen(), d)
	m.preLN = l.layerNorm(visionPrefix + "pre_layrnorm")
	for i := 0; i < cfg.NumHiddenLayers; i++ {
		base := fmt.Sprintf("%sencoder.layers.%d.", visionPrefix, i)
		m.layers = append(m.layers, encoderLayer{
			ln1: l.layerNorm(base + "layer_norm1"),
			ln2: l.layerNorm(base + "layer_norm2"),
			q:   l.linear(base+"self_attn.q_proj", d, d, true, nn.ActNone),
			k:   l.linear(base+"self_attn.k_proj", d, d, true, nn.ActNone),
			v:   l.linear(base+"self_attn.v_proj", d, d, true, nn.ActNone),
			out: l.linear(base+"self_attn.out_proj", d, d, true, nn.ActNone),
			fc1: l.linear(base+"mlp.fc1", d, cfg.IntermediateSize, true, act),
			fc2: l.linear(base+"mlp.fc2", cfg.IntermediateSize, d, true, nn.ActNone),
		})
	}
	m.postLN = l.layerNorm(visionPrefix + "post_layernorm")
	m.proj = l.linearWeight(projectionName, d, cfg.ProjectionDim, cfg.ProjectionDim, d)
	if l.err != nil {
		return nil, l.err
	}
	return m, nil
}

// linearWeight loads a bias free weight whose stored shape may have more than
// two dimensions; rows are always the output units.
func (l *loader) linearWeight(name string, in, out int, shape ...int) *nn.Dense {
	weight := l.tensor(name, shape...)
	if l.err != nil {
		return nil
	}
	d, err := nn.NewLinear(in, out, weight, nil, nn.ActNone)
	if err != nil {
		l.err = fmt.Errorf("%s: %w", name, err)
	}
	return d
}

// LoadFiles reads config.json and a safetensors checkpoint from disk.
func LoadFiles(configData []byte, weightsPath string) (*Model, error) {
	cfg, err := ParseConfig(configData)
	if err != nil {
		return nil, err
	}
	f, err := tensorfile.OpenPath(weightsPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Load(cfg, f)
}

func (m *Model) Config() VisionConfig { return m.cfg }

// Preprocess applies the CLIP image processor for this model's input size.
func (m *Model) Preprocess(img image.Image) (nn.Tensor, error) {
	return imageio.CLIPTensor(img, m.cfg.ImageSize)
}

// Forward returns the projected image features. They are not normalized.
func (m *Model) Forward(ctx context.Context, x nn.Tensor) ([]float32, error) {
	cfg := m.cfg
	if err := x.Validate(); err != nil {
		return nil, err
	}
	if x.Height != cfg.ImageSize || x.Width != cfg.ImageSize || x.Channels != cfg.NumChannels {
		return nil, fmt.Errorf("clip expects %dx%dx%d input, got %dx%dx%d",
			cfg.ImageSize, cfg.ImageSize, cfg.NumChannels, x.Height, x.Width, x.Channels)
	}
	d, seq := cfg.HiddenSize, cfg.SeqLen()

	patches, err := m.patch.ForwardRows(ctx, m.patchify(x), seq-1)
	if err != nil {
		return nil, fmt.Errorf("patch embedding: %w", err)
	}
	h := make([]float32, seq*d)
	copy(h[:d], m.classEmb)
	copy(h[d:], patches)
	for i := range h {
		h[i] += m.posEmb[i]
	}
	if h, err = m.preLN.Apply(h); err != nil {
		return nil, err
	}
	for i := range m.layers {
		if h, err = m.layers[i].forward(ctx, h, seq, cfg, m.scale); err != nil {
			return nil, fmt.Errorf("layer %d: %w", i, err)
		}
	}
	pooled, err := m.postLN.Apply(h[:d])
	if err != nil {
		return nil, err
	}
	return m.proj.Forward(ctx, pooled)
}

// patchify lays out every patch as a (c, ky, kx) row to match the conv weight.
func (m *Model) patchify(x nn.Tensor) []float32 {
	p, c, grid := m.cfg.PatchSize, m.cfg.NumChannels, m.cfg.GridSize()
	rowLen := c * p * p
	out := make([]float32, grid*grid*rowLen)
	for gy := 0; gy < grid; gy++ {
		for gx := 0; gx < grid; gx++ {
			row := out[(gy*grid+gx)*rowLen:]
			for ch := 0; ch < c; ch++ {
				for ky := 0; ky < p; ky++ {
					for kx := 0; kx < p; kx++ {
						row[ch*p*p+ky*p+kx] = x.At(gy*p+ky, gx*p+kx, ch)
					}
				}
			}
		}
	}
	return out
}

func (e *encoderLayer) forward(ctx context.Context, h []float32, seq int, cfg VisionConfig, scale float32) ([]float32, error) {
	x, err := e.ln1.Apply(h)
	if err != nil {
		return nil, err
	}
	q, err := e.q.ForwardRows(ctx, x, seq)
	if err != nil {
		return nil, err
	}
	for i := range q {
		q[i] *= scale
	}
	k, err := e.k.ForwardRows(ctx, x, seq)
	if err != nil {
		return nil, err
	}
	v, err := e.v.ForwardRows(ctx, x, seq)
	if err != nil {
		return nil, err
	}
	attn, err := nn.Attention(ctx, q, k, v, seq, cfg.NumAttentionHeads, cfg.HeadDim())
	if err != nil {
		return nil, err
	}
	attn, err = e.out.ForwardRows(ctx, attn, seq)
	if err != nil {
		return nil, err
	}
	residual := make([]float32, len(h))
	for i := range h {
		residual[i] = h[i] + attn[i]
	}

	x, err = e.ln2.Apply(residual)
	if err != nil {
		return nil, err
	}
	hidden, err := e.fc1.ForwardRows(ctx, x, seq)
	if err != nil {
		return nil, err
	}
	mlp, err := e.fc2.ForwardRows(ctx, hidden, seq)
	if err != nil {
		return nil, err
	}
	for i := range residual {
		residual[i] += mlp[i]
	}
	return residual, nil
}

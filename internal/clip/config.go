// Package clip runs the vision half of a CLIP model natively: patch
// embedding, a pre-norm transformer and the visual projection.
package clip

import (
	"errors"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/xxxsen/baggagelens/internal/nn"
)

var ErrInvalidConfig = errors.New("invalid clip vision config")

type VisionConfig struct {
	HiddenSize        int     `json:"hidden_size"`
	IntermediateSize  int     `json:"intermediate_size"`
	NumAttentionHeads int     `json:"num_attention_heads"`
	NumHiddenLayers   int     `json:"num_hidden_layers"`
	NumChannels       int     `json:"num_channels"`
	ImageSize         int     `json:"image_size"`
	PatchSize         int     `json:"patch_size"`
	HiddenAct         string  `json:"hidden_act"`
	LayerNormEps      float32 `json:"layer_norm_eps"`
	ProjectionDim     int     `json:"projection_dim"`
}

// DefaultVisionConfig is ViT-B/32.
func DefaultVisionConfig() VisionConfig {
	return VisionConfig{
		HiddenSize:        768,
		IntermediateSize:  3072,
		NumAttentionHeads: 12,
		NumHiddenLayers:   12,
		NumChannels:       3,
		ImageSize:         224,
		PatchSize:         32,
		HiddenAct:         "quick_gelu",
		LayerNormEps:      1e-5,
		ProjectionDim:     512,
	}
}

func (c VisionConfig) Validate() error {
	if c.HiddenSize <= 0 || c.IntermediateSize <= 0 || c.NumHiddenLayers <= 0 || c.ProjectionDim <= 0 {
		return fmt.Errorf("%w: non positive size", ErrInvalidConfig)
	}
	if c.NumAttentionHeads <= 0 || c.HiddenSize%c.NumAttentionHeads != 0 {
		return fmt.Errorf("%w: hidden size %d not divisible by %d heads", ErrInvalidConfig, c.HiddenSize, c.NumAttentionHeads)
	}
	if c.PatchSize <= 0 || c.ImageSize%c.PatchSize != 0 {
		return fmt.Errorf("%w: image size %d not divisible by patch %d", ErrInvalidConfig, c.ImageSize, c.PatchSize)
	}
	if c.NumChannels != 3 {
		return fmt.Errorf("%w: %d channels", ErrInvalidConfig, c.NumChannels)
	}
	if _, err := nn.ParseActivation(c.HiddenAct); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

func (c VisionConfig) HeadDim() int { return c.HiddenSize / c.NumAttentionHeads }

func (c VisionConfig) GridSize() int { return c.ImageSize / c.PatchSize }

// SeqLen counts the class token plus one token per patch.
func (c VisionConfig) SeqLen() int { return c.GridSize()*c.GridSize() + 1 }

// ParseConfig reads a model config.json. Fields missing from vision_config
// keep their ViT-B/32 default; a top level projection_dim wins over the
// nested one.
func ParseConfig(data []byte) (VisionConfig, error) {
	var raw struct {
		VisionConfig  json.RawMessage `json:"vision_config"`
		ProjectionDim *int            `json:"projection_dim"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return VisionConfig{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	cfg := DefaultVisionConfig()
	if len(raw.VisionConfig) > 0 {
		if err := json.Unmarshal(raw.VisionConfig, &cfg); err != nil {
			return VisionConfig{}, fmt.Errorf("%w: vision_config: %v", ErrInvalidConfig, err)
		}
	}
	if raw.ProjectionDim != nil {
		cfg.ProjectionDim = *raw.ProjectionDim
	}
	return cfg, cfg.Validate()
}

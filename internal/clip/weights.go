package clip

import (
	"fmt"
	"math/rand"

	"github.com/xxxsen/baggagelens/internal/tensorfile"
)

// InitWeights fills every tensor the vision tower needs with small uniform
// noise. The result is only useful for smoke runs and tests.
func InitWeights(cfg VisionConfig, seed int64) tensorfile.Tensors {
	rng := rand.New(rand.NewSource(seed))
	ts := tensorfile.Tensors{}
	add := func(name string, shape ...int) {
		n := 1
		for _, d := range shape {
			n *= d
		}
		data := make([]float32, n)
		for i := range data {
			data[i] = rng.Float32()*0.4 - 0.2
		}
		ts[name] = tensorfile.Tensor{Shape: shape, Data: data}
	}
	d := cfg.HiddenSize
	add(visionPrefix+"embeddings.patch_embedding.weight", d, cfg.NumChannels, cfg.PatchSize, cfg.PatchSize)
	add(visionPrefix+"embeddings.class_embedding", d)
	add(visionPrefix+"embeddings.position_embedding.weight", cfg.SeqLen(), d)
	ln := func(name string) {
		add(name+".weight", d)
		add(name+".bias", d)
	}
	lin := func(name string, in, out int) {
		add(name+".weight", out, in)
		add(name+".bias", out)
	}
	ln(visionPrefix + "pre_layrnorm")
	for i := 0; i < cfg.NumHiddenLayers; i++ {
		base := fmt.Sprintf("%sencoder.layers.%d.", visionPrefix, i)
		ln(base + "layer_norm1")
		ln(base + "layer_norm2")
		for _, p := range []string{"q_proj", "k_proj", "v_proj", "out_proj"} {
			lin(base+"self_attn."+p, d, d)
		}
		lin(base+"mlp.fc1", d, cfg.IntermediateSize)
		lin(base+"mlp.fc2", cfg.IntermediateSize, d)
	}
	ln(visionPrefix + "post_layernorm")
	add(projectionName, cfg.ProjectionDim, d)
	return ts
}

// Package siamese implements the twin tower luggage matcher: one shared CNN
// encoder applied to both images and a Euclidean distance head.
package siamese

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var ErrInvalidConfig = errors.New("invalid encoder config")

// EncoderConfig fixes the encoder architecture. Only DefaultEncoderConfig is
// used in production; smaller values keep tests fast.
type EncoderConfig struct {
	InputSize    int
	Filters      []int
	HiddenUnits  int
	EmbeddingDim int
	DropoutRate  float32
}

func DefaultEncoderConfig() EncoderConfig {
	return EncoderConfig{
		InputSize:    256,
		Filters:      []int{32, 64, 128, 256},
		HiddenUnits:  512,
		EmbeddingDim: 256,
		DropoutRate:  0.3,
	}
}

func (c EncoderConfig) Validate() error {
	if len(c.Filters) == 0 {
		return fmt.Errorf("%w: no conv stages", ErrInvalidConfig)
	}
	for i, f := range c.Filters {
		if f <= 0 {
			return fmt.Errorf("%w: stage %d has %d filters", ErrInvalidConfig, i, f)
		}
	}
	div := 1 << len(c.Filters)
	if c.InputSize <= 0 || c.InputSize%div != 0 {
		return fmt.Errorf("%w: input size %d not divisible by %d", ErrInvalidConfig, c.InputSize, div)
	}
	if c.HiddenUnits <= 0 || c.EmbeddingDim <= 0 {
		return fmt.Errorf("%w: dense sizes %d/%d", ErrInvalidConfig, c.HiddenUnits, c.EmbeddingDim)
	}
	if c.DropoutRate < 0 || c.DropoutRate >= 1 {
		return fmt.Errorf("%w: dropout %v", ErrInvalidConfig, c.DropoutRate)
	}
	return nil
}

// FlatDim is the length of the flattened feature map fed to the first dense layer.
func (c EncoderConfig) FlatDim() int {
	side := c.InputSize >> len(c.Filters)
	return side * side * c.Filters[len(c.Filters)-1]
}

const (
	metaInputSize    = "input_size"
	metaFilters      = "filters"
	metaHiddenUnits  = "hidden_units"
	metaEmbeddingDim = "embedding_dim"
	metaDropout      = "dropout"
)

func (c EncoderConfig) metadata() map[string]string {
	filters := make([]string, 0, len(c.Filters))
	for _, f := range c.Filters {
		filters = append(filters, strconv.Itoa(f))
	}
	return map[string]string{
		metaInputSize:    strconv.Itoa(c.InputSize),
		metaFilters:      strings.Join(filters, ","),
		metaHiddenUnits:  strconv.Itoa(c.HiddenUnits),
		metaEmbeddingDim: strconv.Itoa(c.EmbeddingDim),
		metaDropout:      strconv.FormatFloat(float64(c.DropoutRate), 'f', -1, 32),
	}
}

// configFromMetadata rebuilds the architecture stored in a checkpoint. Keys
// that are absent keep their default value.
func configFromMetadata(meta map[string]string) (EncoderConfig, error) {
	cfg := DefaultEncoderConfig()
	ints := map[string]*int{
		metaInputSize:    &cfg.InputSize,
		metaHiddenUnits:  &cfg.HiddenUnits,
		metaEmbeddingDim: &cfg.EmbeddingDim,
	}
	for key, dst := range ints {
		raw, ok := meta[key]
		if !ok {
			continue
		}
		v, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			return cfg, fmt.Errorf("%w: metadata %s=%q", ErrInvalidConfig, key, raw)
		}
		*dst = v
	}
	if raw, ok := meta[metaFilters]; ok {
		parts := strings.Split(raw, ",")
		filters := make([]int, 0, len(parts))
		for _, p := range parts {
			v, err := strconv.Atoi(strings.TrimSpace(p))
			if err != nil {
				return cfg, fmt.Errorf("%w: metadata filters=%q", ErrInvalidConfig, raw)
			}
			filters = append(filters, v)
		}
		cfg.Filters = filters
	}
	if raw, ok := meta[metaDropout]; ok {
		v, err := strconv.ParseFloat(strings.TrimSpace(raw), 32)
		if err != nil {
			return cfg, fmt.Errorf("%w: metadata dropout=%q", ErrInvalidConfig, raw)
		}
		cfg.DropoutRate = float32(v)
	}
	return cfg, cfg.Validate()
}

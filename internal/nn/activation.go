package nn

import (
	"fmt"

	"github.com/chewxy/math32"
)

type Activation int

const (
	ActNone Activation = iota
	ActReLU
	ActQuickGELU
	ActGELU
)

func ParseActivation(name string) (Activation, error) {
	switch name {
	case "", "linear", "none":
		return ActNone, nil
	case "relu":
		return ActReLU, nil
	case "quick_gelu":
		return ActQuickGELU, nil
	case "gelu":
		return ActGELU, nil
	default:
		return ActNone, fmt.Errorf("unsupported activation: %s", name)
	}
}

func (a Activation) apply(v float32) float32 {
	switch a {
	case ActReLU:
		if v < 0 {
			return 0
		}
		return v
	case ActQuickGELU:
		return v * sigmoid(1.702*v)
	case ActGELU:
		return 0.5 * v * (1 + math32.Erf(v/math32.Sqrt2))
	default:
		return v
	}
}

// Apply runs the activation over values in place.
func (a Activation) Apply(values []float32) {
	if a == ActNone {
		return
	}
	for i, v := range values {
		values[i] = a.apply(v)
	}
}

func sigmoid(v float32) float32 {
	return 1 / (1 + math32.Exp(-v))
}

// Softmax normalizes values in place. It subtracts the max for stability.
func Softmax(values []float32) {
	if len(values) == 0 {
		return
	}
	maxVal := values[0]
	for _, v := range values[1:] {
		if v > maxVal {
			maxVal = v
		}
	}
	var sum float32
	for i, v := range values {
		e := math32.Exp(v - maxVal)
		values[i] = e
		sum += e
	}
	for i := range values {
		values[i] /= sum
	}
}

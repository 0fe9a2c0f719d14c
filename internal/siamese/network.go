package siamese

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/xxxsen/baggagelens/internal/nn"
)

const (
	// MatchThreshold is exclusive: a score of exactly 0.7 is not a match.
	MatchThreshold float32 = 0.7

	MatchFound = "Found match"
	MatchNone  = "Not a match"
)

// Distance is the Euclidean distance between two embeddings.
func Distance(a, b []float32) (float32, error) {
	return nn.EuclideanDistance(a, b)
}

// Similarity maps a distance to (0,1], 1 meaning identical embeddings.
func Similarity(distance float32) float32 {
	return 1 / (1 + distance)
}

func IsMatch(score float32) bool {
	return score > MatchThreshold
}

func Match(score float32) string {
	if IsMatch(score) {
		return MatchFound
	}
	return MatchNone
}

// Tower maps one preprocessed image to its embedding. The native Encoder and
// an ONNX runtime session both satisfy it.
type Tower interface {
	Encode(ctx context.Context, x nn.Tensor) ([]float32, error)
	InputSize() int
	EmbeddingDim() int
}

// Network is the assembled twin tower model. Both towers share one encoder.
type Network struct {
	tower Tower
}

func NewNetwork(t Tower) *Network {
	return &Network{tower: t}
}

func (n *Network) Tower() Tower { return n.tower }

func (n *Network) InputSize() int { return n.tower.InputSize() }

func (n *Network) EmbeddingDim() int { return n.tower.EmbeddingDim() }

func (n *Network) Embed(ctx context.Context, x nn.Tensor) ([]float32, error) {
	return n.tower.Encode(ctx, x)
}

// Compare encodes both images and returns their similarity score.
func (n *Network) Compare(ctx context.Context, a, b nn.Tensor) (float32, error) {
	var ea, eb []float32
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		ea, err = n.tower.Encode(gctx, a)
		return err
	})
	g.Go(func() error {
		var err error
		eb, err = n.tower.Encode(gctx, b)
		return err
	})
	if err := g.Wait(); err != nil {
		return 0, err
	}
	d, err := Distance(ea, eb)
	if err != nil {
		return 0, err
	}
	return Similarity(d), nil
}

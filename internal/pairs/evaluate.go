package pairs

import (
	"context"

	"github.com/chewxy/math32"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
)

// bceEpsilon matches the clipping Keras applies before taking logs.
const bceEpsilon = 1e-7

// Scorer returns the similarity of two images referenced by path.
type Scorer interface {
	Score(ctx context.Context, imageA, imageB string) (float32, error)
}

type ScorerFunc func(ctx context.Context, imageA, imageB string) (float32, error)

func (f ScorerFunc) Score(ctx context.Context, a, b string) (float32, error) {
	return f(ctx, a, b)
}

type Report struct {
	Total    int     `json:"total"`
	Scored   int     `json:"scored"`
	Skipped  int     `json:"skipped"`
	Correct  int     `json:"correct"`
	Accuracy float64 `json:"accuracy"`
	Loss     float64 `json:"loss"`
}

// Evaluate scores every pair, counts a prediction as positive when the score
// is above threshold and averages binary cross-entropy over scored pairs.
// Pairs that fail to score are logged and skipped.
func Evaluate(ctx context.Context, pairs []Pair, scorer Scorer, threshold float32) (Report, error) {
	rep := Report{Total: len(pairs)}
	var loss float64
	for _, p := range pairs {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		score, err := scorer.Score(ctx, p.ImageA, p.ImageB)
		if err != nil {
			logutil.GetLogger(ctx).Warn("skip pair", zap.String("image_a", p.ImageA),
				zap.String("image_b", p.ImageB), zap.Error(err))
			rep.Skipped++
			continue
		}
		rep.Scored++
		predicted := LabelNegative
		if score > threshold {
			predicted = LabelPositive
		}
		if predicted == p.Label {
			rep.Correct++
		}
		loss += float64(binaryCrossEntropy(score, p.Label))
	}
	if rep.Scored > 0 {
		rep.Accuracy = float64(rep.Correct) / float64(rep.Scored)
		rep.Loss = loss / float64(rep.Scored)
	}
	return rep, nil
}

func binaryCrossEntropy(score float32, label int) float32 {
	s := math32.Max(bceEpsilon, math32.Min(1-bceEpsilon, score))
	if label == LabelPositive {
		return -math32.Log(s)
	}
	return -math32.Log(1 - s)
}

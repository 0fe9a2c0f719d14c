package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/baggagelens/internal/imageio"
	"github.com/xxxsen/baggagelens/internal/metrics"
	"github.com/xxxsen/baggagelens/internal/model"
	"github.com/xxxsen/baggagelens/internal/nn"
	appErr "github.com/xxxsen/baggagelens/internal/pkg/errors"
	"github.com/xxxsen/baggagelens/internal/siamese"
)

const (
	SiameseModelName = "CNN + Siamese Network"
	SiameseStatus    = "AI Model API is running"

	siameseMetricLabel = "siamese"
)

// Image is one uploaded file.
type Image struct {
	Name string
	Data []byte
}

type CompareService struct {
	network *siamese.Network
}

// NewCompareService accepts a nil network; every scoring call then fails
// with ErrModelUnavailable.
func NewCompareService(network *siamese.Network) *CompareService {
	return &CompareService{network: network}
}

func (s *CompareService) Available() bool {
	return s.network != nil
}

func (s *CompareService) Health() model.HealthResponse {
	return model.HealthResponse{
		Status:      SiameseStatus,
		Model:       SiameseModelName,
		ModelLoaded: s.Available(),
	}
}

func (s *CompareService) tensor(img Image) (nn.Tensor, error) {
	x, err := imageio.DecodeSquare(img.Data, s.network.InputSize())
	if err != nil {
		return nn.Tensor{}, fmt.Errorf("%s: %w", img.Name, err)
	}
	return x, nil
}

func (s *CompareService) embed(ctx context.Context, img Image) ([]float32, error) {
	x, err := s.tensor(img)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	out, err := s.network.Embed(ctx, x)
	metrics.InferenceDuration.WithLabelValues(siameseMetricLabel).Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", appErr.ErrInference, err)
	}
	return out, nil
}

func (s *CompareService) Compare(ctx context.Context, a, b Image) (*model.CompareResponse, error) {
	if !s.Available() {
		return nil, appErr.ErrModelUnavailable
	}
	xa, err := s.tensor(a)
	if err != nil {
		return nil, err
	}
	xb, err := s.tensor(b)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	score, err := s.network.Compare(ctx, xa, xb)
	metrics.InferenceDuration.WithLabelValues(siameseMetricLabel).Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", appErr.ErrInference, err)
	}
	match := siamese.Match(score)
	metrics.Matches.WithLabelValues(match).Inc()
	logutil.GetLogger(ctx).Debug("images compared", zap.String("image1", a.Name),
		zap.String("image2", b.Name), zap.Float32("score", score))
	return &model.CompareResponse{
		Image1:          a.Name,
		Image2:          b.Name,
		SimilarityScore: score,
		Match:           match,
	}, nil
}

// MatchBatch scores every found image against the lost one, best first.
func (s *CompareService) MatchBatch(ctx context.Context, lost Image, found []Image) (*model.MatchBatchResponse, error) {
	if !s.Available() {
		return nil, appErr.ErrModelUnavailable
	}
	if len(found) == 0 {
		return nil, fmt.Errorf("%w: at least one found image is required", appErr.ErrInvalidRequest)
	}
	anchor, err := s.embed(ctx, lost)
	if err != nil {
		return nil, err
	}
	matches := make([]model.BatchMatch, 0, len(found))
	for _, img := range found {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		vec, err := s.embed(ctx, img)
		if err != nil {
			return nil, err
		}
		d, err := siamese.Distance(anchor, vec)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", appErr.ErrInference, err)
		}
		score := siamese.Similarity(d)
		match := siamese.Match(score)
		metrics.Matches.WithLabelValues(match).Inc()
		matches = append(matches, model.BatchMatch{
			ImageID:         img.Name,
			SimilarityScore: score,
			Match:           match,
		})
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].SimilarityScore > matches[j].SimilarityScore
	})
	best := matches[0]
	return &model.MatchBatchResponse{
		Matches:   matches,
		BestMatch: &best,
		Count:     len(matches),
	}, nil
}

func (s *CompareService) ExtractFeatures(ctx context.Context, img Image) (*model.FeaturesResponse, error) {
	if !s.Available() {
		return nil, appErr.ErrModelUnavailable
	}
	vec, err := s.embed(ctx, img)
	if err != nil {
		return nil, err
	}
	return &model.FeaturesResponse{
		Features: vec,
		Shape:    []int{1, len(vec)},
	}, nil
}

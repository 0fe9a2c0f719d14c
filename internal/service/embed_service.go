package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/baggagelens/internal/embedder"
	"github.com/xxxsen/baggagelens/internal/model"
	"github.com/xxxsen/baggagelens/internal/nn"
	appErr "github.com/xxxsen/baggagelens/internal/pkg/errors"
)

const EmbedStatus = "ML Service is running"

type EmbedService struct {
	embedder embedder.IEmbedder
}

func NewEmbedService(e embedder.IEmbedder) *EmbedService {
	return &EmbedService{embedder: e}
}

func (s *EmbedService) Root() model.RootResponse {
	return model.RootResponse{Status: EmbedStatus, Model: s.embedder.ModelName()}
}

// Embed returns the unit length image embedding for imageURL.
func (s *EmbedService) Embed(ctx context.Context, imageURL string) ([]float32, error) {
	imageURL = strings.TrimSpace(imageURL)
	if imageURL == "" {
		return nil, fmt.Errorf("%w: imageUrl is required", appErr.ErrInvalidRequest)
	}
	vec, err := s.embedder.Embed(ctx, imageURL)
	if err != nil {
		logutil.GetLogger(ctx).Error("embed image failed", zap.String("image_url", imageURL), zap.Error(err))
		return nil, err
	}
	out, err := nn.L2Normalize(vec)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", appErr.ErrInference, err)
	}
	return out, nil
}

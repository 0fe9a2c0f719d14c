package model

type HealthResponse struct {
	Status      string `json:"status"`
	Model       string `json:"model"`
	ModelLoaded bool   `json:"model_loaded"`
}

type CompareResponse struct {
	Image1          string  `json:"image1"`
	Image2          string  `json:"image2"`
	SimilarityScore float32 `json:"similarity_score"`
	Match           string  `json:"match"`
}

type BatchMatch struct {
	ImageID         string  `json:"image_id"`
	SimilarityScore float32 `json:"similarity_score"`
	Match           string  `json:"match"`
}

type MatchBatchResponse struct {
	Matches   []BatchMatch `json:"matches"`
	BestMatch *BatchMatch  `json:"best_match"`
	Count     int          `json:"count"`
}

type FeaturesResponse struct {
	Features []float32 `json:"features"`
	Shape    []int     `json:"shape"`
}

package model

type RootResponse struct {
	Status string `json:"status"`
	Model  string `json:"model"`
}

type EmbedRequest struct {
	ImageURL string `json:"imageUrl"`
}

type EmbedResponse struct {
	Embedding []float32 `json:"embedding"`
}

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "baggagelens_http_requests_total",
		Help: "HTTP requests by route and status code",
	}, []string{"route", "status"})

	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "baggagelens_http_request_duration_seconds",
		Help:    "HTTP request latency by route",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})

	// forward passes on CPU are slow, so the buckets reach further than the defaults
	InferenceDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "baggagelens_inference_duration_seconds",
		Help:    "Time spent in a model forward pass",
		Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
	}, []string{"model"})

	ImageFetchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "baggagelens_image_fetch_duration_seconds",
		Help:    "Time taken to download an image by URL",
		Buckets: prometheus.DefBuckets,
	})

	ImageFetchFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "baggagelens_image_fetch_failures_total",
		Help: "Image downloads that failed or returned a non 2xx status",
	})

	ModelLoaded = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "baggagelens_model_loaded",
		Help: "1 when the named model is loaded and serving",
	}, []string{"model"})

	Matches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "baggagelens_match_results_total",
		Help: "Siamese comparisons by outcome",
	}, []string{"result"})
)

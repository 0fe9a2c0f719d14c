package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/xxxsen/common/logger"
)

// EnvPrefix namespaces environment overrides, e.g. BAGGAGELENS_CLIP_MODEL_NAME.
const EnvPrefix = "BAGGAGELENS"

var (
	ErrInvalidPort       = errors.New("port must be between 1 and 65535")
	ErrInvalidUploadSize = errors.New("max_upload_mb must be positive")
	ErrInvalidStoreType  = errors.New("model_store.type must be local or s3")
	ErrMissingStoreField = errors.New("model_store is missing a required field")
	ErrInvalidRetry      = errors.New("clip load retry settings are invalid")
	ErrInvalidBackend    = errors.New("siamese.backend must be native or onnx")
)

type Config struct {
	LogConfig   logger.LogConfig `json:"log_config" ignored:"true"`
	Siamese     SiameseConfig    `json:"siamese"`
	CLIP        CLIPConfig       `json:"clip"`
	ModelStore  ModelStoreConfig `json:"model_store" split_words:"true"`
	ONNX        ONNXConfig       `json:"onnx"`
	CORSOrigins []string         `json:"cors_origins" split_words:"true"`
}

type SiameseConfig struct {
	// PORT alone is honoured too, as the service always has.
	Port          int    `json:"port" envconfig:"PORT"`
	CheckpointKey string `json:"checkpoint_key" split_words:"true"`
	MaxUploadMB   int    `json:"max_upload_mb" split_words:"true"`

	// Backend picks the encoder runtime: native runs the safetensors
	// checkpoint in process, onnx runs ONNXModelKey through onnxruntime.
	Backend      string `json:"backend"`
	ONNXModelKey string `json:"onnx_model_key" split_words:"true"`
}

// ONNXConfig locates the onnxruntime shared library. Empty uses the
// runtime's default lookup.
type ONNXConfig struct {
	LibraryPath string `json:"library_path" split_words:"true"`
}

type CLIPConfig struct {
	Port                   int              `json:"port"`
	ModelName              string           `json:"model_name" split_words:"true"`
	HubURL                 string           `json:"hub_url" split_words:"true"`
	ConfigURL              string           `json:"config_url" split_words:"true"`
	WeightsURL             string           `json:"weights_url" split_words:"true"`
	CacheDir               string           `json:"cache_dir" split_words:"true"`
	LoadRetries            int              `json:"load_retries" split_words:"true"`
	RetryDelaySeconds      int              `json:"retry_delay_seconds" split_words:"true"`
	DownloadTimeoutSeconds int              `json:"download_timeout_seconds" split_words:"true"`
	FetchTimeoutSeconds    int              `json:"fetch_timeout_seconds" split_words:"true"`
	MaxImageMB             int              `json:"max_image_mb" split_words:"true"`
	Providers              []ProviderConfig `json:"providers" ignored:"true"`
}

// ProviderConfig names an embedder provider and its arguments. Providers are
// tried in order.
type ProviderConfig struct {
	Name string                 `json:"name"`
	Args map[string]interface{} `json:"args"`
}

type ModelStoreConfig struct {
	Type string   `json:"type"`
	Dir  string   `json:"dir"`
	S3   S3Config `json:"s3"`
}

type S3Config struct {
	Endpoint     string `json:"endpoint"`
	SecretID     string `json:"secret_id" split_words:"true"`
	SecretKey    string `json:"secret_key" split_words:"true"`
	Bucket       string `json:"bucket"`
	Region       string `json:"region"`
	Prefix       string `json:"prefix"`
	UsePathStyle bool   `json:"use_path_style" split_words:"true"`
}

func Default() *Config {
	return &Config{
		LogConfig: logger.LogConfig{
			Level:   "info",
			Console: true,
		},
		Siamese: SiameseConfig{
			Port:          8000,
			CheckpointKey: "siamese_model.safetensors",
			MaxUploadMB:   20,
			Backend:       "native",
			ONNXModelKey:  "siamese_model.onnx",
		},
		CLIP: CLIPConfig{
			Port:                   8001,
			ModelName:              "openai/clip-vit-base-patch32",
			CacheDir:               "models/clip",
			LoadRetries:            3,
			RetryDelaySeconds:      5,
			DownloadTimeoutSeconds: 600,
			FetchTimeoutSeconds:    30,
			MaxImageMB:             50,
		},
		ModelStore: ModelStoreConfig{
			Type: "local",
			Dir:  "models",
		},
		CORSOrigins: []string{"*"},
	}
}

// Load reads the JSON config at path on top of the defaults, then applies a
// .env file and BAGGAGELENS_* environment overrides. An empty path uses only
// defaults and the environment.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("open config: %w", err)
		}
		if err := json.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("apply env overrides: %w", err)
	}
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) normalize() error {
	if c.LogConfig.Level == "" {
		c.LogConfig.Level = "info"
	}
	for _, port := range []int{c.Siamese.Port, c.CLIP.Port} {
		if port <= 0 || port > 65535 {
			return fmt.Errorf("%w: %d", ErrInvalidPort, port)
		}
	}
	if c.Siamese.CheckpointKey == "" {
		c.Siamese.CheckpointKey = "siamese_model.safetensors"
	}
	if c.Siamese.MaxUploadMB <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidUploadSize, c.Siamese.MaxUploadMB)
	}
	c.Siamese.Backend = strings.ToLower(strings.TrimSpace(c.Siamese.Backend))
	switch c.Siamese.Backend {
	case "":
		c.Siamese.Backend = "native"
	case "native", "onnx":
	default:
		return fmt.Errorf("%w: %q", ErrInvalidBackend, c.Siamese.Backend)
	}
	if c.Siamese.ONNXModelKey == "" {
		c.Siamese.ONNXModelKey = "siamese_model.onnx"
	}
	if c.CLIP.LoadRetries <= 0 || c.CLIP.RetryDelaySeconds < 0 {
		return fmt.Errorf("%w: retries=%d delay=%d", ErrInvalidRetry, c.CLIP.LoadRetries, c.CLIP.RetryDelaySeconds)
	}
	if c.CLIP.FetchTimeoutSeconds <= 0 {
		c.CLIP.FetchTimeoutSeconds = 30
	}
	if c.CLIP.DownloadTimeoutSeconds <= 0 {
		c.CLIP.DownloadTimeoutSeconds = 600
	}
	if len(c.CLIP.Providers) == 0 {
		c.CLIP.Providers = []ProviderConfig{{Name: "clip"}}
	}
	c.ModelStore.Type = strings.ToLower(strings.TrimSpace(c.ModelStore.Type))
	if c.ModelStore.Type == "" {
		c.ModelStore.Type = "local"
	}
	switch c.ModelStore.Type {
	case "local":
		if c.ModelStore.Dir == "" {
			return fmt.Errorf("%w: dir", ErrMissingStoreField)
		}
	case "s3":
		s3 := c.ModelStore.S3
		if s3.Bucket == "" || s3.SecretID == "" || s3.SecretKey == "" {
			return fmt.Errorf("%w: s3 bucket/secret_id/secret_key", ErrMissingStoreField)
		}
		if c.ModelStore.S3.Region == "" {
			c.ModelStore.S3.Region = "us-east-1"
		}
	default:
		return fmt.Errorf("%w: %q", ErrInvalidStoreType, c.ModelStore.Type)
	}
	return nil
}

// CLIPProviderArgs builds the argument map for one provider. The built-in
// clip and onnx providers inherit the clip section and may override any key.
func (c *Config) CLIPProviderArgs(p ProviderConfig) map[string]interface{} {
	args := map[string]interface{}{}
	switch strings.ToLower(strings.TrimSpace(p.Name)) {
	case "clip":
		args["model"] = c.CLIP.ModelName
		args["hub_url"] = c.CLIP.HubURL
		args["config_url"] = c.CLIP.ConfigURL
		args["weights_url"] = c.CLIP.WeightsURL
		args["cache_dir"] = c.CLIP.CacheDir
		args["load_retries"] = c.CLIP.LoadRetries
		args["retry_delay_seconds"] = c.CLIP.RetryDelaySeconds
		args["download_timeout_seconds"] = c.CLIP.DownloadTimeoutSeconds
		args["fetch_timeout_seconds"] = c.CLIP.FetchTimeoutSeconds
		args["max_image_mb"] = c.CLIP.MaxImageMB
	case "onnx":
		args["library_path"] = c.ONNX.LibraryPath
		args["fetch_timeout_seconds"] = c.CLIP.FetchTimeoutSeconds
		args["max_image_mb"] = c.CLIP.MaxImageMB
	}
	for k, v := range p.Args {
		args[k] = v
	}
	return args
}

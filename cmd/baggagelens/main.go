package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/xxxsen/common/logger"
	"github.com/xxxsen/common/logutil"
	"github.com/xxxsen/common/webapi"
	"go.uber.org/zap"

	"github.com/xxxsen/baggagelens/internal/config"
	"github.com/xxxsen/baggagelens/internal/embedder"
	"github.com/xxxsen/baggagelens/internal/handler"
	"github.com/xxxsen/baggagelens/internal/metrics"
	"github.com/xxxsen/baggagelens/internal/middleware"
	"github.com/xxxsen/baggagelens/internal/modelstore"
	"github.com/xxxsen/baggagelens/internal/onnxrt"
	appErr "github.com/xxxsen/baggagelens/internal/pkg/errors"
	"github.com/xxxsen/baggagelens/internal/service"
	"github.com/xxxsen/baggagelens/internal/siamese"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:          "baggagelens",
		Short:        "luggage image matching services and tools",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config.json")

	loadConfig := func() (*config.Config, error) {
		cfg, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		logger.Init(
			cfg.LogConfig.File,
			cfg.LogConfig.Level,
			int(cfg.LogConfig.FileCount),
			int(cfg.LogConfig.FileSize),
			int(cfg.LogConfig.KeepDays),
			cfg.LogConfig.Console,
		)
		logutil.GetLogger(context.Background()).Info("config loaded", zap.String("config", configPath))
		return cfg, nil
	}

	rootCmd.AddCommand(
		&cobra.Command{
			Use:   "serve-siamese",
			Short: "serve the siamese comparison API",
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, err := loadConfig()
				if err != nil {
					return err
				}
				return runSiamese(cfg)
			},
		},
		&cobra.Command{
			Use:   "serve-clip",
			Short: "serve the CLIP embedding API",
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, err := loadConfig()
				if err != nil {
					return err
				}
				return runCLIP(cfg)
			},
		},
		newInitModelCmd(loadConfig),
		newPairsCmd(loadConfig),
		newEvaluateCmd(loadConfig),
	)

	if err := rootCmd.Execute(); err != nil {
		logutil.GetLogger(context.Background()).Fatal("startup error", zap.Error(err))
	}
}

func modelKey(cfg *config.Config) string {
	if cfg.Siamese.Backend == "onnx" {
		return cfg.Siamese.ONNXModelKey
	}
	return cfg.Siamese.CheckpointKey
}

// loadNetwork returns nil when the model does not exist yet so the
// service can still start and report itself unavailable.
func loadNetwork(ctx context.Context, cfg *config.Config) (*siamese.Network, error) {
	store, err := modelstore.New(cfg.ModelStore)
	if err != nil {
		return nil, fmt.Errorf("init model store: %w", err)
	}
	key := modelKey(cfg)
	r, size, err := modelstore.OpenReaderAt(ctx, store, key)
	if err != nil {
		if appErr.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open model %s: %w", key, err)
	}
	defer r.Close()
	if cfg.Siamese.Backend == "onnx" {
		return loadONNXNetwork(cfg, io.NewSectionReader(r, 0, size), key)
	}
	network, err := siamese.LoadCheckpoint(r, size)
	if err != nil {
		return nil, fmt.Errorf("load checkpoint %s: %w", key, err)
	}
	return network, nil
}

// loadONNXNetwork runs an exported encoder tower through onnxruntime. The
// similarity head is a plain distance, so only the tower is exported.
func loadONNXNetwork(cfg *config.Config, r io.Reader, key string) (*siamese.Network, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read onnx model %s: %w", key, err)
	}
	if err := onnxrt.Init(cfg.ONNX.LibraryPath); err != nil {
		return nil, err
	}
	tower, err := onnxrt.Load(data, onnxrt.Options{})
	if err != nil {
		return nil, fmt.Errorf("load onnx model %s: %w", key, err)
	}
	return siamese.NewNetwork(tower), nil
}

func runSiamese(cfg *config.Config) error {
	ctx := context.Background()
	lg := logutil.GetLogger(ctx)
	network, err := loadNetwork(ctx, cfg)
	if err != nil {
		return err
	}
	if network == nil {
		lg.Warn("siamese model not found, serving without a model",
			zap.String("store", cfg.ModelStore.Type), zap.String("backend", cfg.Siamese.Backend),
			zap.String("key", modelKey(cfg)))
		metrics.ModelLoaded.WithLabelValues(service.SiameseModelName).Set(0)
	} else {
		lg.Info("siamese model loaded", zap.String("backend", cfg.Siamese.Backend), zap.String("key", modelKey(cfg)),
			zap.Int("input_size", network.InputSize()), zap.Int("embedding_dim", network.EmbeddingDim()))
		metrics.ModelLoaded.WithLabelValues(service.SiameseModelName).Set(1)
	}
	h := handler.NewSiameseHandler(service.NewCompareService(network), cfg.Siamese.MaxUploadMB)
	return serve(cfg, cfg.Siamese.Port, func(group *gin.RouterGroup) {
		handler.RegisterSiameseRoutes(group, h)
	})
}

func runCLIP(cfg *config.Config) error {
	ctx := context.Background()
	entries := make([]embedder.Entry, 0, len(cfg.CLIP.Providers))
	for _, p := range cfg.CLIP.Providers {
		e, err := embedder.New(ctx, p.Name, cfg.CLIPProviderArgs(p))
		if err != nil {
			return fmt.Errorf("init embedder %s: %w", p.Name, err)
		}
		entries = append(entries, embedder.Entry{Name: p.Name, Embedder: e})
	}
	e := embedder.NewGroup(entries)
	if e == nil {
		return errors.New("no embedder provider configured")
	}
	metrics.ModelLoaded.WithLabelValues(e.ModelName()).Set(1)
	logutil.GetLogger(ctx).Info("embedder ready", zap.String("model", e.ModelName()))
	h := handler.NewEmbedHandler(service.NewEmbedService(e))
	return serve(cfg, cfg.CLIP.Port, func(group *gin.RouterGroup) {
		handler.RegisterCLIPRoutes(group, h)
	})
}

func serve(cfg *config.Config, port int, register func(*gin.RouterGroup)) error {
	addr := fmt.Sprintf("0.0.0.0:%d", port)
	engine, err := webapi.NewEngine(
		"/",
		addr,
		webapi.WithRegister(register),
		webapi.WithExtraMiddlewares(
			middleware.RequestID(),
			middleware.AccessLog(),
			middleware.Metrics(),
			middleware.CORS(cfg.CORSOrigins),
			gzip.Gzip(gzip.DefaultCompression),
		),
	)
	if err != nil {
		return fmt.Errorf("init web engine: %w", err)
	}
	lg := logutil.GetLogger(context.Background())
	lg.Info("http server listening", zap.String("addr", addr))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		if err := engine.Run(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}
	lg.Info("server stopping...")
	return nil
}

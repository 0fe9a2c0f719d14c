package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/baggagelens/internal/config"
	"github.com/xxxsen/baggagelens/internal/imageio"
	"github.com/xxxsen/baggagelens/internal/modelstore"
	"github.com/xxxsen/baggagelens/internal/pairs"
	"github.com/xxxsen/baggagelens/internal/siamese"
)

type configLoader func() (*config.Config, error)

func newInitModelCmd(load configLoader) *cobra.Command {
	var seed int64
	cmd := &cobra.Command{
		Use:   "init-model",
		Short: "write a freshly initialised siamese checkpoint to the model store",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			store, err := modelstore.New(cfg.ModelStore)
			if err != nil {
				return fmt.Errorf("init model store: %w", err)
			}
			enc := siamese.DefaultEncoderConfig()
			weights, err := siamese.InitWeights(enc, seed)
			if err != nil {
				return err
			}
			buf := &bytes.Buffer{}
			if err := siamese.SaveCheckpoint(buf, enc, weights); err != nil {
				return err
			}
			key := cfg.Siamese.CheckpointKey
			if err := store.Save(ctx, key, bytes.NewReader(buf.Bytes()), int64(buf.Len())); err != nil {
				return fmt.Errorf("save checkpoint: %w", err)
			}
			logutil.GetLogger(ctx).Info("checkpoint written", zap.String("store", store.Type()),
				zap.String("key", key), zap.Int("bytes", buf.Len()), zap.Int64("seed", seed))
			return nil
		},
	}
	cmd.Flags().Int64Var(&seed, "seed", 1, "random seed for weight initialisation")
	return cmd
}

func newPairsCmd(load configLoader) *cobra.Command {
	var (
		dataset string
		layout  string
		out     string
		count   int
		seed    int64
	)
	cmd := &cobra.Command{
		Use:   "pairs",
		Short: "generate labelled training pairs from a dataset directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			if dataset == "" || out == "" {
				return errors.New("--dataset and --out are required")
			}
			l, err := pairs.ParseLayout(layout)
			if err != nil {
				return err
			}
			if _, err := load(); err != nil {
				return err
			}
			ctx := cmd.Context()
			items, err := pairs.LoadDataset(ctx, dataset, l)
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("seed") {
				seed = time.Now().UnixNano()
			}
			ps, err := pairs.Generate(items, count, seed)
			if err != nil {
				return err
			}
			if err := pairs.WriteManifest(out, ps); err != nil {
				return err
			}
			logutil.GetLogger(ctx).Info("pairs written", zap.String("out", out),
				zap.Int("images", len(items)), zap.Int("pairs", len(ps)), zap.Int64("seed", seed))
			return nil
		},
	}
	cmd.Flags().StringVar(&dataset, "dataset", "", "dataset root directory")
	cmd.Flags().StringVar(&layout, "layout", "auto", "dataset layout: auto, bags or paired (lost/ and found/ matched by file order)")
	cmd.Flags().StringVar(&out, "out", "", "output parquet manifest")
	cmd.Flags().IntVar(&count, "count", 500, "number of pairs to generate")
	cmd.Flags().Int64Var(&seed, "seed", 0, "random seed (default: time based)")
	return cmd
}

func newEvaluateCmd(load configLoader) *cobra.Command {
	var manifest string
	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "score a pair manifest with the stored siamese checkpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			if manifest == "" {
				return errors.New("--pairs is required")
			}
			cfg, err := load()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			network, err := loadNetwork(ctx, cfg)
			if err != nil {
				return err
			}
			if network == nil {
				return fmt.Errorf("model %s not found, run init-model first", modelKey(cfg))
			}
			ps, err := pairs.ReadManifest(manifest)
			if err != nil {
				return err
			}
			rep, err := pairs.Evaluate(ctx, ps, fileScorer(network), siamese.MatchThreshold)
			if err != nil {
				return err
			}
			logutil.GetLogger(ctx).Info("evaluation finished", zap.Int("total", rep.Total),
				zap.Int("scored", rep.Scored), zap.Float64("accuracy", rep.Accuracy), zap.Float64("loss", rep.Loss))
			return json.NewEncoder(cmd.OutOrStdout()).Encode(rep)
		},
	}
	cmd.Flags().StringVar(&manifest, "pairs", "", "parquet pair manifest")
	return cmd
}

func fileScorer(network *siamese.Network) pairs.Scorer {
	return pairs.ScorerFunc(func(ctx context.Context, a, b string) (float32, error) {
		da, err := os.ReadFile(a)
		if err != nil {
			return 0, err
		}
		db, err := os.ReadFile(b)
		if err != nil {
			return 0, err
		}
		xa, err := imageio.DecodeSquare(da, network.InputSize())
		if err != nil {
			return 0, fmt.Errorf("%s: %w", a, err)
		}
		xb, err := imageio.DecodeSquare(db, network.InputSize())
		if err != nil {
			return 0, fmt.Errorf("%s: %w", b, err)
		}
		return network.Compare(ctx, xa, xb)
	})
}

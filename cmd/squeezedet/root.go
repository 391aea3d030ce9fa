package main

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/born-ml/squeezedet/internal/config"
	"github.com/born-ml/squeezedet/internal/parallel"
	"github.com/born-ml/squeezedet/internal/tensor"
	"github.com/born-ml/squeezedet/internal/tensorio"
	"github.com/spf13/cobra"
)

// app is the state shared by all subcommands of one invocation.
type app struct {
	configPath string
	verbose    bool
	workers    int

	cfg config.Config
	log *slog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}
	def := config.Default()

	root := &cobra.Command{
		Use:          "squeezedet",
		Short:        "SqueezeDet detection loss tooling",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.configPath, "config", "", "config file (yaml, json or toml)")
	pf.BoolVarP(&a.verbose, "verbose", "v", false, "debug logging")
	pf.Int(config.KeyWorkers, 0, "worker goroutines (0 = one per CPU, 1 = sequential)")
	pf.Int(config.KeyAnchorsPerGrid, def.AnchorsPerGrid, "anchors per grid cell")
	pf.Int(config.KeyBBoxAttrs, def.NumBBoxAttrs, "bounding box attributes per anchor")
	pf.Int(config.KeyClasses, def.NumClasses, "classes per anchor")
	pf.String(config.KeyScoreRule, def.ScoreRule.String(), "confidence gradient rule (passthrough, iou)")

	root.AddCommand(
		newGradCmd(a),
		newDecodeCmd(a),
		newEncodeCmd(a),
		newShapeCmd(a),
		newVersionCmd(),
	)
	return root
}

// setup resolves the configuration (flags over environment over config file
// over defaults) and the logger.
func (a *app) setup(cmd *cobra.Command) error {
	level := slog.LevelInfo
	if a.verbose {
		level = slog.LevelDebug
	}
	a.log = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

	v, err := config.NewViper(a.configPath)
	if err != nil {
		return err
	}
	pf := cmd.Root().PersistentFlags()
	for _, key := range []string{config.KeyAnchorsPerGrid, config.KeyBBoxAttrs, config.KeyClasses, config.KeyScoreRule, config.KeyWorkers} {
		if err := v.BindPFlag(key, pf.Lookup(key)); err != nil {
			return fmt.Errorf("bind flag %s: %w", key, err)
		}
	}

	a.cfg, err = config.FromViper(v)
	if err != nil {
		return err
	}
	a.workers = v.GetInt(config.KeyWorkers)
	if a.workers < 0 {
		return &config.ConfigurationError{Config: a.cfg, Detail: fmt.Sprintf("workers must be >= 0, got %d", a.workers)}
	}
	a.log.Debug("configuration resolved", "config", a.cfg.String(), "workers", a.workers, "file", a.configPath)
	return nil
}

// parallelConfig maps --workers onto a parallel.Config.
func (a *app) parallelConfig() parallel.Config {
	switch {
	case a.workers == 1:
		return parallel.Sequential()
	case a.workers > 1:
		cfg := parallel.DefaultConfig()
		cfg.Enabled = true
		cfg.NumWorkers = a.workers
		return cfg
	default:
		return parallel.DefaultConfig()
	}
}

// loadTensor reads one named tensor from a SafeTensors file, verifying the
// checksum when the file carries one.
func (a *app) loadTensor(path, name string) (*tensor.RawTensor, error) {
	r, err := tensorio.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = r.Close()
	}()

	switch err := r.Verify(); {
	case errors.Is(err, tensorio.ErrNoChecksum):
		a.log.Debug("no checksum recorded", "file", path)
	case err != nil:
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	t, err := r.Load(name)
	if err != nil {
		return nil, fmt.Errorf("%s: %w (available: %v)", path, err, r.Names())
	}
	a.log.Debug("loaded tensor", "file", path, "name", name, "shape", []int(t.Shape()), "dtype", t.DType().String())
	return t, nil
}

// metadata returns the header metadata attached to every written file.
func (a *app) metadata() map[string]string {
	return map[string]string{"config": a.cfg.String()}
}

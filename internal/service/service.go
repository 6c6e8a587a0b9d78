package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/woxQAQ/wsq-bridge/internal/bridge"
	"github.com/woxQAQ/wsq-bridge/internal/config"
	"github.com/woxQAQ/wsq-bridge/internal/plugin"
	"github.com/woxQAQ/wsq-bridge/internal/wasm"
)

// Service wires the Wasm runtime, the codec plugins and the bridge from one
// configuration.
type Service struct {
	cfg     *config.Config
	logger  *zap.Logger
	plugins *plugin.Manager
	bridge  *bridge.Bridge
	codec   string
}

// New starts the Wasm runtime, loads every configured plugin and builds a
// bridge over the selected codec.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Service, error) {
	wasmConfig := &wasm.RuntimeConfig{
		MemoryPages:  cfg.Wasm.MemoryPages,
		DebugEnabled: cfg.Wasm.Debug,
		CacheDir:     cfg.Wasm.CacheDir,
		MaxInstances: cfg.Wasm.MaxInstances,
	}

	wasmRuntime, err := wasm.NewRuntime(ctx, logger, wasmConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Wasm runtime: %w", err)
	}

	plugins := plugin.NewManager(cfg, wasmRuntime, wasm.NewHostFunctions(logger), logger)

	s, err := newService(ctx, cfg, logger, plugins)
	if err != nil {
		return nil, errors.Join(err, plugins.Shutdown(ctx))
	}

	logger.Info("WSQ service initialized",
		zap.String("codec", s.codec),
		zap.Uint32("wasm_memory_pages", cfg.Wasm.MemoryPages),
		zap.String("wasm_cache_dir", cfg.Wasm.CacheDir),
		zap.Int("wasm_max_instances", cfg.Wasm.MaxInstances),
	)

	return s, nil
}

func newService(ctx context.Context, cfg *config.Config, logger *zap.Logger, plugins *plugin.Manager) (*Service, error) {
	if err := plugins.LoadAll(ctx); err != nil {
		return nil, err
	}

	p, err := plugins.DefaultPlugin()
	if err != nil {
		return nil, err
	}

	codec, err := plugins.Codec(p.Name())
	if err != nil {
		return nil, err
	}

	return &Service{
		cfg:     cfg,
		logger:  logger,
		plugins: plugins,
		bridge: bridge.New(codec, logger, &bridge.Config{
			MaxPixels:      cfg.Decode.MaxPixels,
			MetricsEnabled: cfg.Metrics.Enabled,
		}),
		codec: p.Name(),
	}, nil
}

// Bridge returns the bridge over the selected codec.
func (s *Service) Bridge() *bridge.Bridge {
	return s.bridge
}

// Codec returns the name of the selected codec plugin.
func (s *Service) Codec() string {
	return s.codec
}

// EncodeOptions returns the configured encoder defaults.
func (s *Service) EncodeOptions() bridge.EncodeOptions {
	return bridge.EncodeOptions{
		Bitrate: s.cfg.Encode.Bitrate,
		PPI:     s.cfg.Encode.PPI,
	}
}

// Close gracefully shuts down the service.
func (s *Service) Close(ctx context.Context) error {
	s.logger.Info("Shutting down WSQ service")

	if err := s.plugins.Shutdown(ctx); err != nil {
		s.logger.Error("Failed to shutdown plugins", zap.Error(err))
		return err
	}

	s.logger.Info("WSQ service shutdown complete")
	return nil
}

package bridge

import (
	"time"

	"github.com/woxQAQ/wsq-bridge/internal/metrics"
	"go.uber.org/zap"
)

// DefaultMaxPixels bounds a single image at 64 Mpx (256MiB of ARGB pixels).
const DefaultMaxPixels = 1 << 26

// Bridge converts between packed ARGB images and WSQ streams.
// It holds no per-call state and is safe for concurrent use.
type Bridge struct {
	codec   Codec
	config  *Config
	metrics *metrics.Recorder
	logger  *zap.Logger
}

// Config holds bridge configuration.
type Config struct {
	// Largest image, in pixels, the bridge allocates buffers for.
	MaxPixels int64

	// Record Prometheus metrics for every operation.
	MetricsEnabled bool
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		MaxPixels:      DefaultMaxPixels,
		MetricsEnabled: false,
	}
}

// New creates a bridge over codec. A nil config uses DefaultConfig.
func New(codec Codec, logger *zap.Logger, config *Config) *Bridge {
	if config == nil {
		config = DefaultConfig()
	}
	if config.MaxPixels <= 0 {
		config.MaxPixels = DefaultMaxPixels
	}

	return &Bridge{
		codec:   codec,
		config:  config,
		metrics: metrics.NewRecorder(config.MetricsEnabled),
		logger:  logger.With(zap.String("component", "wsq-bridge")),
	}
}

func (b *Bridge) observe(operation string, started time.Time, err error, streamLen int) {
	result := resultLabel(err)
	b.metrics.Observe(operation, result, started, streamLen)

	if err != nil {
		b.logger.Debug("WSQ operation failed",
			zap.String("operation", operation),
			zap.String("result", result),
			zap.Duration("duration", time.Since(started)),
			zap.Error(err),
		)
	}
}

// checkPixels verifies that an n-pixel ARGB buffer fits the allocation limit.
func (b *Bridge) checkPixels(n int64) error {
	if n > b.config.MaxPixels {
		return &AllocationError{Bytes: n * 4, Limit: b.config.MaxPixels * 4}
	}
	return nil
}

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "wsq"
	subsystem = "bridge"
)

// Operation labels.
const (
	OperationDecode = "decode"
	OperationEncode = "encode"
)

// Result labels.
const (
	ResultOK              = "ok"
	ResultInvalidArgument = "invalid_argument"
	ResultIOError         = "io_error"
	ResultCodecError      = "codec_error"
	ResultAllocationError = "allocation_error"
	ResultOther           = "other"
)

var (
	operationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "operations_total",
			Help:      "Bridge operations by operation and result.",
		},
		[]string{"operation", "result"},
	)

	operationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "operation_duration_seconds",
			Help:      "Wall time of bridge operations, codec call included.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		},
		[]string{"operation"},
	)

	// Compressed stream size: decode input or encode output.
	streamBytes = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "stream_bytes",
			Help:      "Size of WSQ streams read or produced.",
			Buckets:   prometheus.ExponentialBuckets(1024, 2, 12),
		},
		[]string{"operation"},
	)
)

// Recorder records bridge operation metrics. A nil or disabled Recorder is a no-op.
type Recorder struct {
	enabled bool
}

// NewRecorder creates a recorder.
func NewRecorder(enabled bool) *Recorder {
	return &Recorder{enabled: enabled}
}

// Observe records one finished operation.
// streamLen is ignored for failed operations.
func (r *Recorder) Observe(operation, result string, started time.Time, streamLen int) {
	if r == nil || !r.enabled {
		return
	}

	operationsTotal.WithLabelValues(operation, result).Inc()
	operationDuration.WithLabelValues(operation).Observe(time.Since(started).Seconds())
	if result == ResultOK {
		streamBytes.WithLabelValues(operation).Observe(float64(streamLen))
	}
}

// WriteTextfile writes every registered metric in the Prometheus text format,
// for collection by a node exporter textfile collector.
func WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, prometheus.DefaultGatherer)
}

package wasm

import (
	"context"
	"io"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	abi "github.com/woxQAQ/wsq-bridge/api/wasm"
)

// Longest guest log message read from memory.
const maxLogMessage = 4096

// HostFunctionsImpl implements host functions for Wasm modules.
type HostFunctionsImpl struct {
	logger *zap.Logger
}

// NewHostFunctions creates a new host functions implementation.
func NewHostFunctions(logger *zap.Logger) *HostFunctionsImpl {
	return &HostFunctionsImpl{
		logger: logger.With(zap.String("component", "wasm-host")),
	}
}

// stderr returns a writer that logs each line a guest writes to stderr.
// NBIS reports decode errors there.
func (h *HostFunctionsImpl) stderr() io.Writer {
	return zap.NewStdLog(h.logger.With(zap.String("stream", "stderr"))).Writer()
}

// logMessage is called by Wasm modules to log messages.
// Signature: log_message(level, ptr, length)
func (h *HostFunctionsImpl) logMessage(ctx context.Context, mod api.Module, level uint32, ptr uint32, length uint32) {
	if length > maxLogMessage {
		length = maxLogMessage
	}

	// Guests may pass a NUL-terminated buffer longer than the message.
	msg, ok := NewMemory(mod).ReadString(ptr, length)
	if !ok {
		h.logger.Error("Failed to read log message from Wasm memory",
			zap.String("module", mod.Name()),
			zap.Uint32("ptr", ptr),
			zap.Uint32("length", length),
		)
		return
	}

	module := zap.String("module", mod.Name())
	switch level {
	case abi.LogLevelDebug:
		h.logger.Debug(msg, module)
	case abi.LogLevelInfo:
		h.logger.Info(msg, module)
	case abi.LogLevelWarn:
		h.logger.Warn(msg, module)
	case abi.LogLevelError:
		h.logger.Error(msg, module)
	default:
		h.logger.Info(msg, module)
	}
}

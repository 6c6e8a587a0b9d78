package bridge

import (
	"errors"
	"fmt"

	"github.com/woxQAQ/wsq-bridge/internal/metrics"
)

// InvalidArgumentError occurs when caller-supplied dimensions or buffers are malformed.
type InvalidArgumentError struct {
	Argument string
	Message  string
}

func (e *InvalidArgumentError) Error() string {
	return fmt.Sprintf("invalid argument '%s': %s", e.Argument, e.Message)
}

// IOError occurs when reading an input or writing an output fails.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s '%s' failed: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// CodecError occurs when the WSQ codec rejects its input or fails internally.
type CodecError struct {
	Op  string
	Err error
}

func (e *CodecError) Error() string {
	if e.Err == nil {
		return e.Op + " failed"
	}
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *CodecError) Unwrap() error {
	return e.Err
}

// AllocationError occurs when an output, scratch or codec buffer cannot be allocated.
type AllocationError struct {
	Bytes int64
	Limit int64
	Err   error
}

func (e *AllocationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("could not allocate %d bytes: %v", e.Bytes, e.Err)
	}
	return fmt.Sprintf("could not allocate %d bytes (limit %d)", e.Bytes, e.Limit)
}

func (e *AllocationError) Unwrap() error {
	return e.Err
}

// resultLabel maps an operation error onto its metrics label.
func resultLabel(err error) string {
	var (
		invalid *InvalidArgumentError
		ioErr   *IOError
		codec   *CodecError
		alloc   *AllocationError
	)

	switch {
	case err == nil:
		return metrics.ResultOK
	case errors.As(err, &invalid):
		return metrics.ResultInvalidArgument
	case errors.As(err, &ioErr):
		return metrics.ResultIOError
	case errors.As(err, &alloc):
		return metrics.ResultAllocationError
	case errors.As(err, &codec):
		return metrics.ResultCodecError
	default:
		return metrics.ResultOther
	}
}

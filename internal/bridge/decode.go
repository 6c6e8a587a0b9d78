package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"time"

	"github.com/woxQAQ/wsq-bridge/internal/metrics"
	"github.com/woxQAQ/wsq-bridge/pkg/protocol"
	"go.uber.org/zap"
)

// Decode decompresses a WSQ stream into an opaque grayscale ARGB image.
// The input is handed to the codec as is; malformed streams are reported by
// the codec as a CodecError. The returned image never aliases codec memory.
func (b *Bridge) Decode(ctx context.Context, input []byte) (img *protocol.RawImage, err error) {
	started := time.Now()
	defer func() { b.observe(metrics.OperationDecode, started, err, len(input)) }()

	decoded, err := b.codec.Decode(ctx, input)
	if err != nil {
		var alloc *AllocationError
		if errors.As(err, &alloc) {
			return nil, err
		}
		return nil, &CodecError{Op: "decode", Err: err}
	}
	if decoded == nil {
		return nil, &CodecError{Op: "decode", Err: errNoResult}
	}
	defer decoded.Release()

	if err := validateDecoded(decoded); err != nil {
		return nil, &CodecError{Op: "decode", Err: err}
	}

	n := int64(decoded.Width) * int64(decoded.Height)
	if err := b.checkPixels(n); err != nil {
		return nil, err
	}

	pixels := make([]int32, n)
	for i, g := range decoded.Samples[:n] {
		pixels[i] = protocol.GrayToARGB(g)
	}

	b.logger.Debug("Decoded WSQ image",
		zap.Int("width", decoded.Width),
		zap.Int("height", decoded.Height),
		zap.Int("ppi", decoded.PPI),
		zap.Bool("lossy", decoded.Lossy),
	)

	return &protocol.RawImage{
		Width:  int32(decoded.Width),
		Height: int32(decoded.Height),
		PPI:    int32(decoded.PPI),
		Pixels: pixels,
	}, nil
}

func validateDecoded(d *Decoded) error {
	if d.Width < 0 || d.Height < 0 || d.Width > math.MaxInt32 || d.Height > math.MaxInt32 {
		return fmt.Errorf("codec reported invalid dimensions %dx%d", d.Width, d.Height)
	}
	if d.PPI < math.MinInt32 || d.PPI > math.MaxInt32 {
		return fmt.Errorf("codec reported invalid resolution %d", d.PPI)
	}
	if d.Depth != BitDepth {
		return fmt.Errorf("unsupported bit depth %d", d.Depth)
	}
	if n := int64(d.Width) * int64(d.Height); int64(len(d.Samples)) < n {
		return fmt.Errorf("codec returned %d samples for %dx%d image", len(d.Samples), d.Width, d.Height)
	}
	return nil
}

// DecodeFile reads the file at path fully and decodes it.
func (b *Bridge) DecodeFile(ctx context.Context, path string) (*protocol.RawImage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		ioErr := &IOError{Op: "read", Path: path, Err: err}
		b.observe(metrics.OperationDecode, time.Now(), ioErr, 0)
		return nil, ioErr
	}
	return b.Decode(ctx, data)
}

// DecodeReader reads r until EOF and decodes everything read.
// The end of the WSQ data is not detected: all available data is consumed.
func (b *Bridge) DecodeReader(ctx context.Context, r io.Reader) (*protocol.RawImage, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		ioErr := &IOError{Op: "read", Err: err}
		b.observe(metrics.OperationDecode, time.Now(), ioErr, 0)
		return nil, ioErr
	}
	return b.Decode(ctx, data)
}

// DecodePacked decodes input into the legacy packed layout
// [width, height, ppi, pixels...]. Any failure yields nil, never a partial image.
func (b *Bridge) DecodePacked(ctx context.Context, input []byte) []int32 {
	img, err := b.Decode(ctx, input)
	if err != nil {
		return nil
	}
	return img.Pack()
}

// DecodeFilePacked is DecodePacked for a file path.
func (b *Bridge) DecodeFilePacked(ctx context.Context, path string) []int32 {
	img, err := b.DecodeFile(ctx, path)
	if err != nil {
		return nil
	}
	return img.Pack()
}

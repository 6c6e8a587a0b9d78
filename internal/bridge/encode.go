package bridge

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"math"
	"os"
	"time"

	"github.com/woxQAQ/wsq-bridge/internal/metrics"
	"github.com/woxQAQ/wsq-bridge/pkg/protocol"
	"go.uber.org/zap"
)

const (
	// Bitrate5To1 yields around 5:1 compression.
	Bitrate5To1 float32 = 2.25
	// Bitrate15To1 yields around 15:1 compression.
	Bitrate15To1 float32 = 0.75
	// UnknownPPI marks an image whose resolution is not known.
	UnknownPPI int32 = -1
)

// EncodeParams holds the inputs of an encode call.
type EncodeParams struct {
	// Pixels holds Width*Height packed ARGB values in row-major order.
	Pixels []int32
	Width  int32
	Height int32

	// Bitrate controls the compression ratio; higher means better quality.
	Bitrate float32

	// PPI is the image resolution, or UnknownPPI.
	PPI int32

	// Comment is stored in the WSQ stream when non-nil. It is cut to
	// MaxCommentLen bytes.
	Comment *string
}

// EncodeOptions holds the settings used when encoding a whole image.
type EncodeOptions struct {
	Bitrate float32
	PPI     int32
	Comment *string
}

// DefaultEncodeOptions returns the NIST-tested 5:1 bitrate with unknown resolution.
func DefaultEncodeOptions() EncodeOptions {
	return EncodeOptions{
		Bitrate: Bitrate5To1,
		PPI:     UnknownPPI,
	}
}

func (p *EncodeParams) validate() error {
	if p.Width <= 0 || p.Height <= 0 {
		return &InvalidArgumentError{
			Argument: "dimensions",
			Message:  fmt.Sprintf("%dx%d must be positive", p.Width, p.Height),
		}
	}

	n := int64(p.Width) * int64(p.Height)
	if int64(len(p.Pixels)) != n {
		return &InvalidArgumentError{
			Argument: "pixels",
			Message:  fmt.Sprintf("got %d pixels for %dx%d image", len(p.Pixels), p.Width, p.Height),
		}
	}

	if !(p.Bitrate > 0) || math.IsInf(float64(p.Bitrate), 1) {
		return &InvalidArgumentError{
			Argument: "bitrate",
			Message:  fmt.Sprintf("%v must be a positive number", p.Bitrate),
		}
	}

	if p.PPI < UnknownPPI {
		return &InvalidArgumentError{
			Argument: "ppi",
			Message:  fmt.Sprintf("%d must be positive or %d", p.PPI, UnknownPPI),
		}
	}

	return nil
}

// Encode compresses packed ARGB pixels into a WSQ stream. Pixels are reduced
// to gray by averaging R, G and B with truncating division. The returned
// slice is owned by the caller.
func (b *Bridge) Encode(ctx context.Context, params EncodeParams) (out []byte, err error) {
	started := time.Now()
	defer func() { b.observe(metrics.OperationEncode, started, err, len(out)) }()

	if err := params.validate(); err != nil {
		return nil, err
	}
	if err := b.checkPixels(int64(params.Width) * int64(params.Height)); err != nil {
		return nil, err
	}

	gray := acquireGrayscale(params.Width, params.Height)
	defer gray.release()
	gray.fill(params.Pixels)

	comment := truncateComment(params.Comment)

	encoded, err := b.codec.Encode(ctx, &EncodeRequest{
		Samples: gray.samples,
		Width:   int(gray.width),
		Height:  int(gray.height),
		Depth:   BitDepth,
		PPI:     int(params.PPI),
		Bitrate: params.Bitrate,
		Comment: comment,
	})
	if err != nil {
		var alloc *AllocationError
		if errors.As(err, &alloc) {
			return nil, err
		}
		return nil, &CodecError{Op: "encode", Err: err}
	}
	if encoded == nil {
		return nil, &CodecError{Op: "encode", Err: errNoResult}
	}
	defer encoded.Release()

	out = make([]byte, len(encoded.Data))
	copy(out, encoded.Data)

	b.logger.Debug("Encoded WSQ image",
		zap.Int32("width", params.Width),
		zap.Int32("height", params.Height),
		zap.Float32("bitrate", params.Bitrate),
		zap.Int("comment_bytes", len(comment)),
		zap.Int("size_bytes", len(out)),
	)

	return out, nil
}

// EncodePixels is the sentinel form of Encode: any failure yields nil.
func (b *Bridge) EncodePixels(ctx context.Context, pixels []int32, width, height int32, bitrate float32, ppi int32, comment *string) []byte {
	out, err := b.Encode(ctx, EncodeParams{
		Pixels:  pixels,
		Width:   width,
		Height:  height,
		Bitrate: bitrate,
		PPI:     ppi,
		Comment: comment,
	})
	if err != nil {
		return nil
	}
	return out
}

// EncodeImage converts img to packed pixels and encodes it.
func (b *Bridge) EncodeImage(ctx context.Context, img image.Image, opts EncodeOptions) ([]byte, error) {
	pixels, w, h, err := protocol.PixelsFromImage(img)
	if err != nil {
		return nil, &InvalidArgumentError{Argument: "image", Message: err.Error()}
	}

	return b.Encode(ctx, EncodeParams{
		Pixels:  pixels,
		Width:   w,
		Height:  h,
		Bitrate: opts.Bitrate,
		PPI:     opts.PPI,
		Comment: opts.Comment,
	})
}

// EncodeTo encodes and writes the stream to w. It returns the number of bytes written.
func (b *Bridge) EncodeTo(ctx context.Context, w io.Writer, params EncodeParams) (int, error) {
	data, err := b.Encode(ctx, params)
	if err != nil {
		return 0, err
	}

	n, err := w.Write(data)
	if err != nil {
		return n, &IOError{Op: "write", Err: err}
	}
	return n, nil
}

// EncodeFile encodes and stores the stream at path.
func (b *Bridge) EncodeFile(ctx context.Context, path string, params EncodeParams) error {
	data, err := b.Encode(ctx, params)
	if err != nil {
		return err
	}

	if len(data) == 0 {
		return &CodecError{Op: "encode", Err: errors.New("codec produced an empty stream")}
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return &IOError{Op: "write", Path: path, Err: err}
	}
	return nil
}

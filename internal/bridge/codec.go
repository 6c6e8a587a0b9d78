package bridge

import (
	"context"
	"errors"
)

// MaxCommentLen is the largest comment, in bytes, the NBIS WSQ comment
// segment can carry. It must track the codec's compile-time limit.
const MaxCommentLen = (2 << 16) - 3

// BitDepth is the only sample depth the bridge exchanges with the codec.
const BitDepth = 8

// Codec is the WSQ compression library the bridge delegates to.
//
// Implementations must be safe for concurrent use. On error the returned
// result is nil and the implementation has already released everything it
// acquired.
type Codec interface {
	// Decode decompresses a WSQ stream into 8-bit grayscale samples.
	Decode(ctx context.Context, data []byte) (*Decoded, error)

	// Encode compresses grayscale samples into a WSQ stream.
	// The codec must not retain req.Samples or req.Comment after returning.
	Encode(ctx context.Context, req *EncodeRequest) (*Encoded, error)
}

var errNoResult = errors.New("codec returned no result")

// Decoded is a codec decode result. Samples may point into codec-owned
// storage; it is valid until Release is called.
type Decoded struct {
	Samples []byte
	Width   int
	Height  int
	Depth   int
	PPI     int
	Lossy   bool

	release func()
}

// NewDecoded wraps a decode result. release frees the storage behind samples
// and may be nil when the samples are garbage collected memory.
func NewDecoded(samples []byte, width, height, depth, ppi int, lossy bool, release func()) *Decoded {
	return &Decoded{
		Samples: samples,
		Width:   width,
		Height:  height,
		Depth:   depth,
		PPI:     ppi,
		Lossy:   lossy,
		release: release,
	}
}

// Release frees codec-owned storage. Safe to call multiple times.
func (d *Decoded) Release() {
	if d == nil || d.release == nil {
		return
	}
	release := d.release
	d.release = nil
	d.Samples = nil
	release()
}

// EncodeRequest holds the inputs of a codec encode call.
type EncodeRequest struct {
	Samples []byte
	Width   int
	Height  int
	Depth   int
	PPI     int
	Bitrate float32

	// Comment is nil when no comment was supplied. A non-nil empty slice is an
	// empty comment.
	Comment []byte
}

// Encoded is a codec encode result. Data may point into codec-owned storage;
// it is valid until Release is called.
type Encoded struct {
	Data []byte

	release func()
}

// NewEncoded wraps an encode result. release may be nil.
func NewEncoded(data []byte, release func()) *Encoded {
	return &Encoded{Data: data, release: release}
}

// Release frees codec-owned storage. Safe to call multiple times.
func (e *Encoded) Release() {
	if e == nil || e.release == nil {
		return
	}
	release := e.release
	e.release = nil
	e.Data = nil
	release()
}

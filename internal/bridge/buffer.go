package bridge

import (
	"sync"

	"github.com/woxQAQ/wsq-bridge/pkg/protocol"
)

// Scratch buffers larger than this are dropped instead of pooled.
const maxPooledSamples = 16 << 20

var grayscalePool = sync.Pool{
	New: func() any { return &grayscaleBuffer{} },
}

// grayscaleBuffer is the 8-bit intermediate handed to the codec on encode.
// It never leaves the encode call that acquired it.
type grayscaleBuffer struct {
	width   int32
	height  int32
	samples []uint8
}

// acquireGrayscale returns a buffer sized for width*height samples.
// The caller must release it exactly once.
func acquireGrayscale(width, height int32) *grayscaleBuffer {
	n := int(width) * int(height)

	buf := grayscalePool.Get().(*grayscaleBuffer)
	if cap(buf.samples) < n {
		buf.samples = make([]uint8, n)
	}
	buf.samples = buf.samples[:n]
	buf.width = width
	buf.height = height
	return buf
}

// fill converts packed ARGB pixels into gray samples by channel averaging.
func (b *grayscaleBuffer) fill(pixels []int32) {
	for i := range b.samples {
		b.samples[i] = protocol.ARGBToGray(pixels[i])
	}
}

func (b *grayscaleBuffer) release() {
	if cap(b.samples) > maxPooledSamples {
		b.samples = nil
	}
	b.samples = b.samples[:0]
	b.width, b.height = 0, 0
	grayscalePool.Put(b)
}

// truncateComment copies the comment, cut to MaxCommentLen bytes.
// The cut ignores UTF-8 boundaries: the limit is a byte-oriented field of the
// WSQ comment segment. A nil comment stays nil.
func truncateComment(comment *string) []byte {
	if comment == nil {
		return nil
	}

	s := *comment
	if len(s) > MaxCommentLen {
		s = s[:MaxCommentLen]
	}
	out := make([]byte, len(s))
	copy(out, s)
	return out
}

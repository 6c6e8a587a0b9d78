package bridge

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"image"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/woxQAQ/wsq-bridge/pkg/protocol"
	"go.uber.org/zap/zaptest"
)

// fakeCodec stores samples verbatim behind a small header:
// magic "FWSQ", width, height, ppi (little-endian int32).
type fakeCodec struct {
	mu          sync.Mutex
	lastRequest *EncodeRequest

	decodeResult *Decoded
	decodeErr    error
	encodeErr    error

	releases atomic.Int64
}

var fakeMagic = []byte("FWSQ")

func (f *fakeCodec) Decode(ctx context.Context, data []byte) (*Decoded, error) {
	if f.decodeErr != nil {
		return nil, f.decodeErr
	}
	if f.decodeResult != nil {
		d := *f.decodeResult
		d.release = func() { f.releases.Add(1) }
		return &d, nil
	}
	if len(data) < 16 || !bytes.Equal(data[:4], fakeMagic) {
		return nil, errors.New("not a WSQ stream")
	}

	w := int(int32(binary.LittleEndian.Uint32(data[4:])))
	h := int(int32(binary.LittleEndian.Uint32(data[8:])))
	ppi := int(int32(binary.LittleEndian.Uint32(data[12:])))

	// Hand out a private copy, as a native codec would.
	samples := append([]byte(nil), data[16:]...)
	return NewDecoded(samples, w, h, BitDepth, ppi, true, func() { f.releases.Add(1) }), nil
}

func (f *fakeCodec) Encode(ctx context.Context, req *EncodeRequest) (*Encoded, error) {
	f.mu.Lock()
	recorded := *req
	recorded.Samples = append([]byte(nil), req.Samples...)
	if req.Comment != nil {
		recorded.Comment = append([]byte{}, req.Comment...)
	}
	f.lastRequest = &recorded
	f.mu.Unlock()

	if f.encodeErr != nil {
		return nil, f.encodeErr
	}
	return NewEncoded(fakeStream(req.Width, req.Height, req.PPI, req.Samples), func() { f.releases.Add(1) }), nil
}

func (f *fakeCodec) request() *EncodeRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastRequest
}

func fakeStream(w, h, ppi int, samples []byte) []byte {
	out := make([]byte, 16, 16+len(samples))
	copy(out, fakeMagic)
	binary.LittleEndian.PutUint32(out[4:], uint32(w))
	binary.LittleEndian.PutUint32(out[8:], uint32(h))
	binary.LittleEndian.PutUint32(out[12:], uint32(ppi))
	return append(out, samples...)
}

func newTestBridge(t *testing.T, codec Codec) *Bridge {
	return New(codec, zaptest.NewLogger(t), nil)
}

func argb(v uint32) int32 {
	return int32(v)
}

func TestDecodeExample(t *testing.T) {
	codec := &fakeCodec{}
	b := newTestBridge(t, codec)

	img, err := b.Decode(context.Background(), fakeStream(2, 1, 500, []byte{10, 200}))
	require.NoError(t, err)

	assert.Equal(t, int32(2), img.Width)
	assert.Equal(t, int32(1), img.Height)
	assert.Equal(t, int32(500), img.PPI)
	assert.Equal(t, []int32{argb(0xFF0A0A0A), argb(0xFFC8C8C8)}, img.Pixels)
	assert.Equal(t, int64(1), codec.releases.Load(), "codec buffer must be released")
}

func TestDecodePackedInvariant(t *testing.T) {
	b := newTestBridge(t, &fakeCodec{})

	samples := make([]byte, 4*3)
	for i := range samples {
		samples[i] = uint8(i * 21)
	}

	packed := b.DecodePacked(context.Background(), fakeStream(4, 3, 1000, samples))
	require.Len(t, packed, protocol.HeaderLen+4*3)
	assert.Equal(t, []int32{4, 3, 1000}, packed[:protocol.HeaderLen])

	for i, p := range packed[protocol.HeaderLen:] {
		assert.Equal(t, uint32(0xFF), uint32(p)>>24, "pixel %d alpha", i)
		assert.Equal(t, samples[i], uint8(p), "pixel %d blue", i)
	}
}

func TestDecodeZeroSizeImage(t *testing.T) {
	b := newTestBridge(t, &fakeCodec{})

	packed := b.DecodePacked(context.Background(), fakeStream(0, 0, 500, nil))
	assert.Equal(t, []int32{0, 0, 500}, packed)
}

func TestDecodeFailureSentinel(t *testing.T) {
	codec := &fakeCodec{}
	b := newTestBridge(t, codec)
	ctx := context.Background()

	for _, input := range [][]byte{nil, {}, []byte("definitely not wsq")} {
		assert.Nil(t, b.DecodePacked(ctx, input))

		_, err := b.Decode(ctx, input)
		var codecErr *CodecError
		require.ErrorAs(t, err, &codecErr)
		assert.Equal(t, "decode", codecErr.Op)
		assert.True(t, strings.HasPrefix(err.Error(), "decode failed"))
	}
}

func TestDecodeRejectsInconsistentCodecResult(t *testing.T) {
	tests := []struct {
		name    string
		decoded *Decoded
	}{
		{"short samples", &Decoded{Samples: []byte{1}, Width: 2, Height: 1, Depth: 8}},
		{"negative width", &Decoded{Width: -1, Height: 1, Depth: 8}},
		{"wrong depth", &Decoded{Samples: []byte{1, 2}, Width: 2, Height: 1, Depth: 16}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			codec := &fakeCodec{decodeResult: tt.decoded}
			b := newTestBridge(t, codec)

			img, err := b.Decode(context.Background(), []byte{0})
			assert.Nil(t, img)

			var codecErr *CodecError
			assert.ErrorAs(t, err, &codecErr)
			assert.Equal(t, int64(1), codec.releases.Load(), "codec buffer must be released on error")
		})
	}
}

func TestDecodeAllocationError(t *testing.T) {
	codec := &fakeCodec{}
	b := New(codec, zaptest.NewLogger(t), &Config{MaxPixels: 4})

	_, err := b.Decode(context.Background(), fakeStream(3, 2, 500, make([]byte, 6)))

	var alloc *AllocationError
	require.ErrorAs(t, err, &alloc)
	assert.Equal(t, int64(6*4), alloc.Bytes)
	assert.Equal(t, int64(1), codec.releases.Load(), "codec buffer must be released before returning")
}

func TestDecodeFile(t *testing.T) {
	b := newTestBridge(t, &fakeCodec{})
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "print.wsq")
	require.NoError(t, os.WriteFile(path, fakeStream(1, 1, 500, []byte{7}), 0o644))

	packed := b.DecodeFilePacked(ctx, path)
	assert.Equal(t, []int32{1, 1, 500, argb(0xFF070707)}, packed)

	_, err := b.DecodeFile(ctx, filepath.Join(t.TempDir(), "missing.wsq"))
	var ioErr *IOError
	require.ErrorAs(t, err, &ioErr)
	assert.Equal(t, "read", ioErr.Op)

	assert.Nil(t, b.DecodeFilePacked(ctx, filepath.Join(t.TempDir(), "missing.wsq")))
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) {
	return 0, errors.New("stream reset")
}

func TestDecodeReader(t *testing.T) {
	b := newTestBridge(t, &fakeCodec{})

	img, err := b.DecodeReader(context.Background(), bytes.NewReader(fakeStream(1, 1, 250, []byte{1})))
	require.NoError(t, err)
	assert.Equal(t, int32(250), img.PPI)

	_, err = b.DecodeReader(context.Background(), failingReader{})
	var ioErr *IOError
	assert.ErrorAs(t, err, &ioErr)
}

func TestEncodeExample(t *testing.T) {
	codec := &fakeCodec{}
	b := newTestBridge(t, codec)

	_, err := b.Encode(context.Background(), EncodeParams{
		Pixels:  []int32{argb(0xFF300000), argb(0xFF003000)},
		Width:   2,
		Height:  1,
		Bitrate: Bitrate5To1,
		PPI:     500,
	})
	require.NoError(t, err)

	req := codec.request()
	assert.Equal(t, []byte{16, 16}, req.Samples)
	assert.Equal(t, BitDepth, req.Depth)
	assert.Equal(t, 500, req.PPI)
	assert.Equal(t, Bitrate5To1, req.Bitrate)
	assert.Nil(t, req.Comment, "absent comment must reach the codec as nil")
	assert.Equal(t, int64(1), codec.releases.Load())
}

func TestEncodeGrayIsIdempotent(t *testing.T) {
	codec := &fakeCodec{}
	b := newTestBridge(t, codec)

	pixels := make([]int32, 256)
	want := make([]byte, 256)
	for v := range pixels {
		pixels[v] = protocol.GrayToARGB(uint8(v))
		want[v] = uint8(v)
	}

	_, err := b.Encode(context.Background(), EncodeParams{
		Pixels: pixels, Width: 16, Height: 16, Bitrate: Bitrate15To1, PPI: UnknownPPI,
	})
	require.NoError(t, err)
	assert.Equal(t, want, codec.request().Samples)
}

func TestEncodeCommentTruncation(t *testing.T) {
	tests := []struct {
		name    string
		length  int
		wantLen int
	}{
		{"empty", 0, 0},
		{"exact limit", MaxCommentLen, MaxCommentLen},
		{"one over", MaxCommentLen + 1, MaxCommentLen},
		{"far over", 2 * MaxCommentLen, MaxCommentLen},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			codec := &fakeCodec{}
			b := newTestBridge(t, codec)

			comment := strings.Repeat("x", tt.length)
			_, err := b.Encode(context.Background(), EncodeParams{
				Pixels: []int32{0}, Width: 1, Height: 1, Bitrate: Bitrate5To1, PPI: 500, Comment: &comment,
			})
			require.NoError(t, err)

			got := codec.request().Comment
			require.NotNil(t, got, "present comment must not become absent")
			assert.Len(t, got, tt.wantLen)
			assert.Equal(t, comment[:tt.wantLen], string(got))
		})
	}
}

func TestEncodeCommentTruncationIsByteExact(t *testing.T) {
	// "é" is two bytes; the limit falls between them.
	comment := strings.Repeat("a", MaxCommentLen-1) + "é"

	got := truncateComment(&comment)
	assert.Len(t, got, MaxCommentLen)
	assert.Equal(t, byte(0xC3), got[MaxCommentLen-1])
}

func TestEncodeInvalidArguments(t *testing.T) {
	base := EncodeParams{Pixels: []int32{0, 0}, Width: 2, Height: 1, Bitrate: Bitrate5To1, PPI: 500}

	tests := []struct {
		name     string
		mutate   func(p *EncodeParams)
		argument string
	}{
		{"short pixels", func(p *EncodeParams) { p.Pixels = p.Pixels[:1] }, "pixels"},
		{"long pixels", func(p *EncodeParams) { p.Pixels = append(p.Pixels, 0) }, "pixels"},
		{"zero width", func(p *EncodeParams) { p.Width = 0 }, "dimensions"},
		{"negative height", func(p *EncodeParams) { p.Height = -1 }, "dimensions"},
		{"zero bitrate", func(p *EncodeParams) { p.Bitrate = 0 }, "bitrate"},
		{"ppi below unknown", func(p *EncodeParams) { p.PPI = -2 }, "ppi"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			codec := &fakeCodec{}
			b := newTestBridge(t, codec)

			params := base
			params.Pixels = append([]int32(nil), base.Pixels...)
			tt.mutate(&params)

			out, err := b.Encode(context.Background(), params)
			assert.Nil(t, out)

			var invalid *InvalidArgumentError
			require.ErrorAs(t, err, &invalid)
			assert.Equal(t, tt.argument, invalid.Argument)
			assert.Nil(t, codec.request(), "codec must not be called")
		})
	}
}

func TestEncodeCodecFailure(t *testing.T) {
	codec := &fakeCodec{encodeErr: errors.New("bitrate too low for image")}
	b := newTestBridge(t, codec)

	params := EncodeParams{Pixels: []int32{0}, Width: 1, Height: 1, Bitrate: Bitrate5To1, PPI: UnknownPPI}

	_, err := b.Encode(context.Background(), params)
	var codecErr *CodecError
	require.ErrorAs(t, err, &codecErr)
	assert.Equal(t, "encode", codecErr.Op)

	assert.Nil(t, b.EncodePixels(context.Background(), []int32{0}, 1, 1, Bitrate5To1, UnknownPPI, nil))
}

func TestEncodeCodecAllocationFailure(t *testing.T) {
	codec := &fakeCodec{encodeErr: &AllocationError{Bytes: 1, Err: errors.New("malloc returned NULL")}}
	b := newTestBridge(t, codec)

	_, err := b.Encode(context.Background(), EncodeParams{
		Pixels: []int32{0}, Width: 1, Height: 1, Bitrate: Bitrate5To1, PPI: UnknownPPI,
	})

	var alloc *AllocationError
	require.ErrorAs(t, err, &alloc)
	var codecErr *CodecError
	assert.False(t, errors.As(err, &codecErr))
}

// emptyCodec reports success without producing a result.
type emptyCodec struct{}

func (emptyCodec) Decode(context.Context, []byte) (*Decoded, error) { return nil, nil }

func (emptyCodec) Encode(context.Context, *EncodeRequest) (*Encoded, error) { return nil, nil }

func TestCodecWithoutResult(t *testing.T) {
	b := newTestBridge(t, emptyCodec{})
	ctx := context.Background()

	_, err := b.Decode(ctx, fakeStream(1, 1, 500, []byte{1}))
	var codecErr *CodecError
	require.ErrorAs(t, err, &codecErr)
	assert.Equal(t, "decode", codecErr.Op)
	assert.ErrorIs(t, err, errNoResult)

	_, err = b.Encode(ctx, EncodeParams{
		Pixels: []int32{0}, Width: 1, Height: 1, Bitrate: Bitrate5To1, PPI: UnknownPPI,
	})
	require.ErrorAs(t, err, &codecErr)
	assert.Equal(t, "encode", codecErr.Op)

	assert.Nil(t, b.DecodePacked(ctx, []byte{1}))
	assert.Nil(t, b.EncodePixels(ctx, []int32{0}, 1, 1, Bitrate5To1, UnknownPPI, nil))
}

func TestEncodeOutputIsCallerOwned(t *testing.T) {
	codec := &fakeCodec{}
	b := newTestBridge(t, codec)

	out := b.EncodePixels(context.Background(), []int32{protocol.GrayToARGB(9)}, 1, 1, Bitrate5To1, 500, nil)
	require.NotNil(t, out)

	// A second call must not disturb the first result.
	_ = b.EncodePixels(context.Background(), []int32{protocol.GrayToARGB(200)}, 1, 1, Bitrate5To1, 500, nil)
	assert.Equal(t, byte(9), out[len(out)-1])
}

func TestRoundTrip(t *testing.T) {
	b := newTestBridge(t, &fakeCodec{})
	ctx := context.Background()

	src := image.NewGray(image.Rect(0, 0, 8, 4))
	for i := range src.Pix {
		src.Pix[i] = uint8(i * 7)
	}

	opts := DefaultEncodeOptions()
	opts.PPI = 500
	stream, err := b.EncodeImage(ctx, src, opts)
	require.NoError(t, err)

	img, err := b.Decode(ctx, stream)
	require.NoError(t, err)

	assert.Equal(t, int32(8), img.Width)
	assert.Equal(t, int32(4), img.Height)
	assert.Equal(t, int32(500), img.PPI)
	assert.Equal(t, src.Pix, img.Gray().Pix)
}

func TestEncodeToAndFile(t *testing.T) {
	b := newTestBridge(t, &fakeCodec{})
	ctx := context.Background()
	params := EncodeParams{Pixels: []int32{0, 0}, Width: 2, Height: 1, Bitrate: Bitrate5To1, PPI: 500}

	var buf bytes.Buffer
	n, err := b.EncodeTo(ctx, &buf, params)
	require.NoError(t, err)
	assert.Equal(t, buf.Len(), n)

	path := filepath.Join(t.TempDir(), "out.wsq")
	require.NoError(t, b.EncodeFile(ctx, path, params))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, buf.Bytes(), data)

	err = b.EncodeFile(ctx, filepath.Join(t.TempDir(), "missing-dir", "out.wsq"), params)
	var ioErr *IOError
	assert.ErrorAs(t, err, &ioErr)
}

func TestConcurrentCalls(t *testing.T) {
	b := newTestBridge(t, &fakeCodec{})
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(v uint8) {
			defer wg.Done()

			pixels := []int32{protocol.GrayToARGB(v), protocol.GrayToARGB(v)}
			stream := b.EncodePixels(ctx, pixels, 2, 1, Bitrate5To1, 500, nil)
			if !assert.NotNil(t, stream) {
				return
			}

			img, err := b.Decode(ctx, stream)
			if assert.NoError(t, err) {
				assert.Equal(t, pixels, img.Pixels)
			}
		}(uint8(i * 10))
	}
	wg.Wait()
}

func TestDecodedReleaseIdempotent(t *testing.T) {
	calls := 0
	d := NewDecoded([]byte{1}, 1, 1, BitDepth, 500, false, func() { calls++ })
	d.Release()
	d.Release()
	assert.Equal(t, 1, calls)
	assert.Nil(t, d.Samples)

	var nilDecoded *Decoded
	nilDecoded.Release()

	e := NewEncoded([]byte{1}, nil)
	e.Release()
}

func TestErrorMessages(t *testing.T) {
	assert.Equal(t, "decode failed", (&CodecError{Op: "decode"}).Error())
	assert.Equal(t, "invalid argument 'pixels': bad", (&InvalidArgumentError{Argument: "pixels", Message: "bad"}).Error())
	assert.Equal(t, "read 'x.wsq' failed: boom", (&IOError{Op: "read", Path: "x.wsq", Err: errors.New("boom")}).Error())
	assert.Equal(t, "could not allocate 40 bytes (limit 16)", (&AllocationError{Bytes: 40, Limit: 16}).Error())
}

package protocol

// Image types shared by the bridge, the codec host and the CLI.
// This package defines the caller-facing image model and its packed wire form.

import (
	"errors"
	"fmt"
	"image"
	"image/color"
)

// HeaderLen is the number of header fields preceding pixel data in a packed image.
const HeaderLen = 3

// OpaqueAlpha is the fixed alpha byte carried by every decoded pixel.
const OpaqueAlpha uint32 = 0xFF000000

var (
	// ErrShortPacket is returned when a packed image is missing its header.
	ErrShortPacket = errors.New("packed image shorter than header")
	// ErrEmptyImage is returned when converting an image with no pixels.
	ErrEmptyImage = errors.New("image has no pixels")
)

// RawImage is a decoded image in packed ARGB form.
// Pixels holds Width*Height values in row-major order, each laid out as
// 0xAARRGGBB with AA fixed to 0xFF.
type RawImage struct {
	Width  int32   `json:"width"`
	Height int32   `json:"height"`
	PPI    int32   `json:"ppi"`
	Pixels []int32 `json:"pixels"`
}

// Pack flattens the image into the legacy wire layout
// [width, height, ppi, pixel_0, ..., pixel_{w*h-1}].
func (r *RawImage) Pack() []int32 {
	out := make([]int32, HeaderLen+len(r.Pixels))
	out[0] = r.Width
	out[1] = r.Height
	out[2] = r.PPI
	copy(out[HeaderLen:], r.Pixels)
	return out
}

// Unpack parses the legacy wire layout produced by Pack.
// The returned image does not alias packed.
func Unpack(packed []int32) (*RawImage, error) {
	if len(packed) < HeaderLen {
		return nil, ErrShortPacket
	}

	w, h := packed[0], packed[1]
	if w < 0 || h < 0 {
		return nil, fmt.Errorf("invalid packed dimensions %dx%d", w, h)
	}

	n := int64(w) * int64(h)
	if int64(len(packed)-HeaderLen) != n {
		return nil, fmt.Errorf("packed image has %d pixels, header says %dx%d",
			len(packed)-HeaderLen, w, h)
	}

	pixels := make([]int32, n)
	copy(pixels, packed[HeaderLen:])

	return &RawImage{Width: w, Height: h, PPI: packed[2], Pixels: pixels}, nil
}

// GrayToARGB expands a luminance sample into an opaque neutral-gray pixel.
func GrayToARGB(g uint8) int32 {
	v := uint32(g)
	return int32(OpaqueAlpha | v<<16 | v<<8 | v)
}

// ARGBToGray averages the R, G and B channels of a packed pixel.
// The division truncates; alpha is ignored.
func ARGBToGray(p int32) uint8 {
	v := uint32(p)
	r := (v >> 16) & 0xFF
	g := (v >> 8) & 0xFF
	b := v & 0xFF
	return uint8((r + g + b) / 3)
}

// Gray returns the image as an 8-bit grayscale image.
func (r *RawImage) Gray() *image.Gray {
	img := image.NewGray(image.Rect(0, 0, int(r.Width), int(r.Height)))
	for i, p := range r.Pixels {
		img.Pix[i] = ARGBToGray(p)
	}
	return img
}

// PixelsFromImage converts any image into packed ARGB pixels.
// Alpha is dropped: every output pixel is opaque.
func PixelsFromImage(img image.Image) ([]int32, int32, int32, error) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return nil, 0, 0, ErrEmptyImage
	}

	pixels := make([]int32, 0, w*h)

	if g, ok := img.(*image.Gray); ok {
		for y := b.Min.Y; y < b.Max.Y; y++ {
			row := g.Pix[g.PixOffset(b.Min.X, y):g.PixOffset(b.Max.X, y)]
			for _, v := range row {
				pixels = append(pixels, GrayToARGB(v))
			}
		}
		return pixels, int32(w), int32(h), nil
	}

	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
			p := OpaqueAlpha | uint32(c.R)<<16 | uint32(c.G)<<8 | uint32(c.B)
			pixels = append(pixels, int32(p))
		}
	}
	return pixels, int32(w), int32(h), nil
}

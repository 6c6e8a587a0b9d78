// Package wasmtest provides a minimal WSQ codec module for tests.
//
// The module exports the NBIS codec ABI without compressing anything:
//
//	malloc          bump allocator over 2 pages, returns 0 when exhausted
//	free            decrements the live allocation count
//	wsq_decode_mem  copies the input as a len(input)x1 image, depth 8,
//	                500 ppi, lossy; status 1 for empty input
//	wsq_encode_mem  copies the w*h samples as the stream; status 1 for an
//	                empty image, status 3 for bitrate <= 0
//	outstanding     mutable global holding the live allocation count
//	debug           mutable global
//
// A stream produced by the fake encoder therefore decodes to a single row
// holding the encoded samples.
package wasmtest

// MemoryPages is the fixed size of the module's memory.
const MemoryPages = 2

// Codec is the module binary.
var Codec = []byte{
	0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00, 0x01, 0x23, 0x04, 0x60,
	0x01, 0x7f, 0x01, 0x7f, 0x60, 0x01, 0x7f, 0x00, 0x60, 0x08, 0x7f, 0x7f,
	0x7f, 0x7f, 0x7f, 0x7f, 0x7f, 0x7f, 0x01, 0x7f, 0x60, 0x09, 0x7f, 0x7f,
	0x7d, 0x7f, 0x7f, 0x7f, 0x7f, 0x7f, 0x7f, 0x01, 0x7f, 0x03, 0x05, 0x04,
	0x00, 0x01, 0x02, 0x03, 0x05, 0x03, 0x01, 0x00, 0x02, 0x06, 0x11, 0x03,
	0x7f, 0x01, 0x41, 0x80, 0x08, 0x0b, 0x7f, 0x01, 0x41, 0x00, 0x0b, 0x7f,
	0x01, 0x41, 0x00, 0x0b, 0x07, 0x52, 0x07, 0x06, 0x6d, 0x65, 0x6d, 0x6f,
	0x72, 0x79, 0x02, 0x00, 0x06, 0x6d, 0x61, 0x6c, 0x6c, 0x6f, 0x63, 0x00,
	0x00, 0x04, 0x66, 0x72, 0x65, 0x65, 0x00, 0x01, 0x0e, 0x77, 0x73, 0x71,
	0x5f, 0x64, 0x65, 0x63, 0x6f, 0x64, 0x65, 0x5f, 0x6d, 0x65, 0x6d, 0x00,
	0x02, 0x0e, 0x77, 0x73, 0x71, 0x5f, 0x65, 0x6e, 0x63, 0x6f, 0x64, 0x65,
	0x5f, 0x6d, 0x65, 0x6d, 0x00, 0x03, 0x0b, 0x6f, 0x75, 0x74, 0x73, 0x74,
	0x61, 0x6e, 0x64, 0x69, 0x6e, 0x67, 0x03, 0x01, 0x05, 0x64, 0x65, 0x62,
	0x75, 0x67, 0x03, 0x02, 0x0a, 0xcf, 0x01, 0x04, 0x23, 0x00, 0x20, 0x00,
	0x23, 0x00, 0x6a, 0x3f, 0x00, 0x41, 0x10, 0x74, 0x4b, 0x04, 0x40, 0x41,
	0x00, 0x0f, 0x0b, 0x23, 0x01, 0x41, 0x01, 0x6a, 0x24, 0x01, 0x23, 0x00,
	0x23, 0x00, 0x20, 0x00, 0x6a, 0x24, 0x00, 0x0b, 0x09, 0x00, 0x23, 0x01,
	0x41, 0x01, 0x6b, 0x24, 0x01, 0x0b, 0x53, 0x01, 0x01, 0x7f, 0x20, 0x07,
	0x45, 0x04, 0x40, 0x41, 0x01, 0x0f, 0x0b, 0x20, 0x07, 0x10, 0x00, 0x21,
	0x08, 0x20, 0x08, 0x45, 0x04, 0x40, 0x41, 0x02, 0x0f, 0x0b, 0x20, 0x08,
	0x20, 0x06, 0x20, 0x07, 0xfc, 0x0a, 0x00, 0x00, 0x20, 0x00, 0x20, 0x08,
	0x36, 0x02, 0x00, 0x20, 0x01, 0x20, 0x07, 0x36, 0x02, 0x00, 0x20, 0x02,
	0x41, 0x01, 0x36, 0x02, 0x00, 0x20, 0x03, 0x41, 0x08, 0x36, 0x02, 0x00,
	0x20, 0x04, 0x41, 0xf4, 0x03, 0x36, 0x02, 0x00, 0x20, 0x05, 0x41, 0x01,
	0x36, 0x02, 0x00, 0x41, 0x00, 0x0b, 0x4b, 0x01, 0x02, 0x7f, 0x20, 0x04,
	0x20, 0x05, 0x6c, 0x21, 0x09, 0x20, 0x09, 0x45, 0x04, 0x40, 0x41, 0x01,
	0x0f, 0x0b, 0x20, 0x02, 0x43, 0x00, 0x00, 0x00, 0x00, 0x5f, 0x04, 0x40,
	0x41, 0x03, 0x0f, 0x0b, 0x20, 0x09, 0x10, 0x00, 0x21, 0x0a, 0x20, 0x0a,
	0x45, 0x04, 0x40, 0x41, 0x02, 0x0f, 0x0b, 0x20, 0x0a, 0x20, 0x03, 0x20,
	0x09, 0xfc, 0x0a, 0x00, 0x00, 0x20, 0x00, 0x20, 0x0a, 0x36, 0x02, 0x00,
	0x20, 0x01, 0x20, 0x09, 0x36, 0x02, 0x00, 0x41, 0x00, 0x0b,
}

// Empty is a valid Wasm 1.0 module with no sections.
var Empty = []byte{
	0x00, 0x61, 0x73, 0x6d, // Magic number: \0asm
	0x01, 0x00, 0x00, 0x00, // Version: 1
}

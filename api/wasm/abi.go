// Package wasm describes the ABI a WSQ codec module must expose to be hosted
// by the bridge.
//
// NOTE: uint32 is used for pointers and lengths because WebAssembly uses a 32-bit
// linear memory model. All guest addresses are 32-bit offsets into the module's
// exported memory.
//
// Exports a codec module must provide (names may be overridden per plugin):
//
//	memory                                    linear memory
//	malloc(size i32) i32                      0 on failure
//	free(ptr i32)
//	wsq_decode_mem(odata, width, height, depth, ppi, lossy, idata, ilen i32) i32
//	wsq_encode_mem(odata, olen i32, bitrate f32, idata, w, h, d, ppi, comment i32) i32
//
// The codec functions return 0 on success. Out-parameters are pointers to
// little-endian i32 slots; odata receives a pointer to a malloc'd buffer that
// the host releases with free. comment is a NUL-terminated string or 0.
//
// Optional: a mutable i32 global "debug" (NBIS verbosity), set by the host at
// instantiation. Imports provided by the host: env.log_message(level, ptr, len)
// and wasi_snapshot_preview1.
package wasm

// Host module and export names.
const (
	HostModuleName = "env"
	LogMessageName = "log_message"

	ExportMemory = "memory"
	ExportMalloc = "malloc"
	ExportFree   = "free"
	ExportDecode = "wsq_decode_mem"
	ExportEncode = "wsq_encode_mem"

	GlobalDebug = "debug"
)

// Offsets within the out-parameter block passed to the decode export.
const (
	DecodeOutData   = 0
	DecodeOutWidth  = 4
	DecodeOutHeight = 8
	DecodeOutDepth  = 12
	DecodeOutPPI    = 16
	DecodeOutLossy  = 20
	DecodeOutSize   = 24
)

// Offsets within the out-parameter block passed to the encode export.
const (
	EncodeOutData = 0
	EncodeOutLen  = 4
	EncodeOutSize = 8
)

// Log levels accepted by env.log_message.
const (
	LogLevelDebug uint32 = iota
	LogLevelInfo
	LogLevelWarn
	LogLevelError
)

package wasm

import (
	"context"

	"github.com/tetratelabs/wazero/api"

	abi "github.com/woxQAQ/wsq-bridge/api/wasm"
	"github.com/woxQAQ/wsq-bridge/internal/bridge"
)

// Memory provides bounds-checked access to a module's linear memory.
//
// Guest memory is separate from Go's heap and is never garbage collected:
// every guest allocation must be paired with a guest free, and slices
// returned by Read point into guest memory and are only valid until the
// guest next runs.
type Memory struct {
	mem api.Memory
}

// NewMemory creates a memory helper.
func NewMemory(module api.Module) *Memory {
	return &Memory{mem: module.Memory()}
}

// ReadString reads a null-terminated string from Wasm memory.
func (m *Memory) ReadString(ptr uint32, maxLen uint32) (string, bool) {
	buf, ok := m.mem.Read(ptr, maxLen)
	if !ok {
		return "", false
	}

	end := len(buf)
	for i, b := range buf {
		if b == 0 {
			end = i
			break
		}
	}

	return string(buf[:end]), true
}

// ReadBytes returns a view of length bytes at ptr. The view aliases guest memory.
func (m *Memory) ReadBytes(ptr uint32, length uint32) ([]byte, bool) {
	return m.mem.Read(ptr, length)
}

// ReadUint32 reads a little-endian uint32.
func (m *Memory) ReadUint32(ptr uint32) (uint32, error) {
	v, ok := m.mem.ReadUint32Le(ptr)
	if !ok {
		return 0, &MemoryAccessError{Operation: "read", Address: ptr, Length: 4}
	}
	return v, nil
}

// WriteBytes copies data into guest memory at ptr.
func (m *Memory) WriteBytes(ptr uint32, data []byte) error {
	if !m.mem.Write(ptr, data) {
		return &MemoryAccessError{Operation: "write", Address: ptr, Length: uint32(len(data))}
	}
	return nil
}

// Allocator allocates guest memory through the module's malloc and free exports.
type Allocator struct {
	mem    *Memory
	malloc api.Function
	free   api.Function
}

// NewAllocator resolves the allocator exports of an instance.
func NewAllocator(inst *Instance, mallocName, freeName string) (*Allocator, error) {
	malloc, err := inst.Function(mallocName)
	if err != nil {
		return nil, err
	}
	free, err := inst.Function(freeName)
	if err != nil {
		return nil, err
	}
	return &Allocator{mem: inst.Memory(), malloc: malloc, free: free}, nil
}

// Alloc allocates size bytes in the guest. The caller must Free the buffer,
// normally with defer right after a successful Alloc.
func (a *Allocator) Alloc(ctx context.Context, size uint32) (*GuestBuffer, error) {
	results, err := a.malloc.Call(ctx, uint64(size))
	if err != nil {
		return nil, &GuestCallError{FunctionName: abi.ExportMalloc, Err: err}
	}

	ptr := api.DecodeU32(results[0])
	if ptr == 0 {
		return nil, &bridge.AllocationError{Bytes: int64(size), Err: ErrGuestOutOfMemory}
	}

	return &GuestBuffer{alloc: a, Ptr: ptr, Len: size}, nil
}

// Adopt takes ownership of a buffer the guest allocated itself, such as a
// codec output. A zero ptr yields an empty buffer whose Free is a no-op.
func (a *Allocator) Adopt(ptr, size uint32) *GuestBuffer {
	return &GuestBuffer{alloc: a, Ptr: ptr, Len: size}
}

// GuestBuffer is an owned region of guest memory.
type GuestBuffer struct {
	alloc *Allocator
	Ptr   uint32
	Len   uint32
	freed bool
}

// Bytes returns a view of the buffer. The view aliases guest memory and is
// invalid after Free.
func (b *GuestBuffer) Bytes() ([]byte, error) {
	if b.Len == 0 {
		return []byte{}, nil
	}
	buf, ok := b.alloc.mem.ReadBytes(b.Ptr, b.Len)
	if !ok {
		return nil, &MemoryAccessError{Operation: "read", Address: b.Ptr, Length: b.Len}
	}
	return buf, nil
}

// Write copies data to the start of the buffer.
func (b *GuestBuffer) Write(data []byte) error {
	if uint64(len(data)) > uint64(b.Len) {
		return &MemoryAccessError{Operation: "write", Address: b.Ptr, Length: uint32(len(data))}
	}
	return b.alloc.mem.WriteBytes(b.Ptr, data)
}

// WriteCString copies s followed by a NUL terminator. The buffer must hold len(s)+1 bytes.
func (b *GuestBuffer) WriteCString(s []byte) error {
	if uint64(len(s))+1 > uint64(b.Len) {
		return &MemoryAccessError{Operation: "write", Address: b.Ptr, Length: uint32(len(s)) + 1}
	}
	if err := b.alloc.mem.WriteBytes(b.Ptr, s); err != nil {
		return err
	}
	return b.alloc.mem.WriteBytes(b.Ptr+uint32(len(s)), []byte{0})
}

// Zero clears the buffer.
func (b *GuestBuffer) Zero() error {
	return b.Write(make([]byte, b.Len))
}

// Uint32 reads the little-endian uint32 at offset.
func (b *GuestBuffer) Uint32(offset uint32) (uint32, error) {
	return b.alloc.mem.ReadUint32(b.Ptr + offset)
}

// Int32 reads the little-endian int32 at offset.
func (b *GuestBuffer) Int32(offset uint32) (int32, error) {
	v, err := b.Uint32(offset)
	return int32(v), err
}

// Free releases the buffer. Safe to call multiple times.
func (b *GuestBuffer) Free(ctx context.Context) error {
	if b.freed || b.Ptr == 0 {
		b.freed = true
		return nil
	}
	b.freed = true

	if _, err := b.alloc.free.Call(ctx, uint64(b.Ptr)); err != nil {
		return &GuestCallError{FunctionName: abi.ExportFree, Err: err}
	}
	return nil
}

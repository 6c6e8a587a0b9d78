package wasm

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	abi "github.com/woxQAQ/wsq-bridge/api/wasm"
	"github.com/woxQAQ/wsq-bridge/internal/bridge"
)

// Exports names the guest functions a codec module provides.
type Exports struct {
	Malloc string
	Free   string
	Decode string
	Encode string
}

// DefaultExports returns the NBIS export names.
func DefaultExports() Exports {
	return Exports{
		Malloc: abi.ExportMalloc,
		Free:   abi.ExportFree,
		Decode: abi.ExportDecode,
		Encode: abi.ExportEncode,
	}
}

func (e Exports) names() []string {
	return []string{e.Malloc, e.Free, e.Decode, e.Encode}
}

// CodecConfig holds configuration for a Wasm-hosted codec.
type CodecConfig struct {
	// Compiled module to instantiate.
	ModuleName string

	Exports Exports

	// Value written to the guest's debug global, when it exports one.
	Debug bool

	// Upper bound on live instances; calls beyond it wait for a free one.
	MaxInstances int
}

// Codec implements bridge.Codec on top of a WSQ library compiled to Wasm.
//
// NBIS keeps global state, so a guest instance serves one call at a time.
// Codec keeps a pool of up to MaxInstances instances and checks one out per
// call; a decode result keeps its instance until the result is released.
type Codec struct {
	manager *InstanceManager
	config  CodecConfig
	logger  *zap.Logger

	idle  chan *codecInstance
	slots chan struct{}

	mu     sync.Mutex
	closed bool
}

type codecInstance struct {
	inst   *Instance
	alloc  *Allocator
	decode api.Function
	encode api.Function
}

var _ bridge.Codec = (*Codec)(nil)

// NewCodec creates a codec over an already compiled module.
func NewCodec(manager *InstanceManager, config CodecConfig, logger *zap.Logger) (*Codec, error) {
	if _, ok := manager.runtime.GetCompiledModule(config.ModuleName); !ok {
		return nil, &ModuleNotFoundError{ModuleName: config.ModuleName}
	}
	if config.Exports == (Exports{}) {
		config.Exports = DefaultExports()
	}
	if config.MaxInstances <= 0 {
		config.MaxInstances = 1
	}

	return &Codec{
		manager: manager,
		config:  config,
		logger: logger.With(
			zap.String("component", "wasm-codec"),
			zap.String("module", config.ModuleName),
		),
		idle:  make(chan *codecInstance, config.MaxInstances),
		slots: make(chan struct{}, config.MaxInstances),
	}, nil
}

func (c *Codec) newInstance(ctx context.Context) (*codecInstance, error) {
	var debug uint64
	if c.config.Debug {
		debug = 1
	}

	inst, err := c.manager.Instantiate(ctx, &InstanceConfig{
		ModuleName: c.config.ModuleName,
		Exports:    c.config.Exports.names(),
		Globals:    map[string]uint64{abi.GlobalDebug: debug},
	})
	if err != nil {
		return nil, err
	}

	alloc, err := NewAllocator(inst, c.config.Exports.Malloc, c.config.Exports.Free)
	if err != nil {
		_ = inst.Close(ctx)
		return nil, err
	}

	// Both lookups were validated by Instantiate.
	decode, _ := inst.Function(c.config.Exports.Decode)
	encode, _ := inst.Function(c.config.Exports.Encode)

	if c.config.Debug {
		if _, ok := inst.Global(abi.GlobalDebug); !ok {
			c.logger.Warn("Debug requested but module exports no debug global",
				zap.String("instance_id", inst.ID),
			)
		}
	}

	return &codecInstance{inst: inst, alloc: alloc, decode: decode, encode: encode}, nil
}

// acquire checks out an idle instance, creating one while under MaxInstances.
func (c *Codec) acquire(ctx context.Context) (*codecInstance, error) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return nil, ErrCodecClosed
	}

	select {
	case ci := <-c.idle:
		return ci, nil
	default:
	}

	select {
	case ci := <-c.idle:
		return ci, nil
	case c.slots <- struct{}{}:
		ci, err := c.newInstance(ctx)
		if err != nil {
			<-c.slots
			return nil, err
		}
		return ci, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// release returns an instance to the pool. Instances that trapped are
// discarded: their globals and heap may be inconsistent.
func (c *Codec) release(ci *codecInstance, healthy bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if healthy && !c.closed {
		c.idle <- ci
		return
	}

	if err := ci.inst.Close(context.Background()); err != nil {
		c.logger.Warn("Failed to close codec instance",
			zap.String("instance_id", ci.inst.ID),
			zap.Error(err),
		)
	}
	<-c.slots
}

// Decode runs the guest decoder. The returned samples are a view into guest
// memory, valid until the result is released.
func (c *Codec) Decode(ctx context.Context, data []byte) (*bridge.Decoded, error) {
	if uint64(len(data)) > math.MaxUint32 {
		return nil, &bridge.AllocationError{Bytes: int64(len(data)), Limit: math.MaxUint32}
	}

	ci, err := c.acquire(ctx)
	if err != nil {
		return nil, err
	}

	healthy, handedOff := true, false
	defer func() {
		if !handedOff {
			c.release(ci, healthy)
		}
	}()

	// malloc(0) may legitimately return NULL.
	input, err := ci.alloc.Alloc(ctx, uint32(max(len(data), 1)))
	if err != nil {
		return nil, err
	}
	defer c.free(ctx, input)

	if err := input.Write(data); err != nil {
		return nil, err
	}

	out, err := ci.alloc.Alloc(ctx, abi.DecodeOutSize)
	if err != nil {
		return nil, err
	}
	defer c.free(ctx, out)

	if err := out.Zero(); err != nil {
		return nil, err
	}

	results, err := ci.decode.Call(ctx,
		uint64(out.Ptr+abi.DecodeOutData),
		uint64(out.Ptr+abi.DecodeOutWidth),
		uint64(out.Ptr+abi.DecodeOutHeight),
		uint64(out.Ptr+abi.DecodeOutDepth),
		uint64(out.Ptr+abi.DecodeOutPPI),
		uint64(out.Ptr+abi.DecodeOutLossy),
		uint64(input.Ptr),
		uint64(len(data)),
	)
	if err != nil {
		healthy = false
		return nil, &GuestCallError{FunctionName: c.config.Exports.Decode, Err: err}
	}
	if status := api.DecodeI32(results[0]); status != 0 {
		return nil, &GuestStatusError{FunctionName: c.config.Exports.Decode, Status: status}
	}

	fields := make([]int32, abi.DecodeOutSize/4)
	for i := range fields {
		if fields[i], err = out.Int32(uint32(i * 4)); err != nil {
			return nil, err
		}
	}
	width := fields[abi.DecodeOutWidth/4]
	height := fields[abi.DecodeOutHeight/4]

	odata := ci.alloc.Adopt(uint32(fields[abi.DecodeOutData/4]), 0)

	n := int64(width) * int64(height)
	if width < 0 || height < 0 || n > math.MaxUint32 {
		c.free(ctx, odata)
		return nil, fmt.Errorf("guest reported invalid dimensions %dx%d", width, height)
	}
	if n > 0 && odata.Ptr == 0 {
		return nil, fmt.Errorf("guest reported %dx%d image without data", width, height)
	}
	odata.Len = uint32(n)

	samples, err := odata.Bytes()
	if err != nil {
		c.free(ctx, odata)
		return nil, err
	}

	handedOff = true
	releaseCtx := context.WithoutCancel(ctx)
	return bridge.NewDecoded(
		samples,
		int(width),
		int(height),
		int(fields[abi.DecodeOutDepth/4]),
		int(fields[abi.DecodeOutPPI/4]),
		fields[abi.DecodeOutLossy/4] != 0,
		func() {
			c.free(releaseCtx, odata)
			c.release(ci, true)
		},
	), nil
}

// Encode runs the guest encoder. The returned data is a view into guest
// memory, valid until the result is released.
func (c *Codec) Encode(ctx context.Context, req *bridge.EncodeRequest) (*bridge.Encoded, error) {
	if uint64(len(req.Samples)) > math.MaxUint32-1 || uint64(len(req.Comment)) > math.MaxUint32-1 {
		return nil, &bridge.AllocationError{Bytes: int64(len(req.Samples)), Limit: math.MaxUint32}
	}

	ci, err := c.acquire(ctx)
	if err != nil {
		return nil, err
	}

	healthy, handedOff := true, false
	defer func() {
		if !handedOff {
			c.release(ci, healthy)
		}
	}()

	samples, err := ci.alloc.Alloc(ctx, uint32(max(len(req.Samples), 1)))
	if err != nil {
		return nil, err
	}
	defer c.free(ctx, samples)

	if err := samples.Write(req.Samples); err != nil {
		return nil, err
	}

	// A nil comment reaches the guest as NULL.
	var commentPtr uint32
	if req.Comment != nil {
		comment, err := ci.alloc.Alloc(ctx, uint32(len(req.Comment)+1))
		if err != nil {
			return nil, err
		}
		defer c.free(ctx, comment)

		if err := comment.WriteCString(req.Comment); err != nil {
			return nil, err
		}
		commentPtr = comment.Ptr
	}

	out, err := ci.alloc.Alloc(ctx, abi.EncodeOutSize)
	if err != nil {
		return nil, err
	}
	defer c.free(ctx, out)

	if err := out.Zero(); err != nil {
		return nil, err
	}

	results, err := ci.encode.Call(ctx,
		uint64(out.Ptr+abi.EncodeOutData),
		uint64(out.Ptr+abi.EncodeOutLen),
		api.EncodeF32(req.Bitrate),
		uint64(samples.Ptr),
		api.EncodeI32(int32(req.Width)),
		api.EncodeI32(int32(req.Height)),
		api.EncodeI32(int32(req.Depth)),
		api.EncodeI32(int32(req.PPI)),
		uint64(commentPtr),
	)
	if err != nil {
		healthy = false
		return nil, &GuestCallError{FunctionName: c.config.Exports.Encode, Err: err}
	}
	if status := api.DecodeI32(results[0]); status != 0 {
		return nil, &GuestStatusError{FunctionName: c.config.Exports.Encode, Status: status}
	}

	dataPtr, err := out.Uint32(abi.EncodeOutData)
	if err != nil {
		return nil, err
	}
	dataLen, err := out.Uint32(abi.EncodeOutLen)
	if err != nil {
		return nil, err
	}

	odata := ci.alloc.Adopt(dataPtr, dataLen)
	data, err := odata.Bytes()
	if err != nil {
		c.free(ctx, odata)
		return nil, err
	}

	handedOff = true
	releaseCtx := context.WithoutCancel(ctx)
	return bridge.NewEncoded(data, func() {
		c.free(releaseCtx, odata)
		c.release(ci, true)
	}), nil
}

// free releases a guest buffer, logging failures: there is nothing else a
// caller on an exit path can do with them.
func (c *Codec) free(ctx context.Context, buf *GuestBuffer) {
	if err := buf.Free(ctx); err != nil {
		c.logger.Warn("Failed to free guest buffer",
			zap.Uint32("ptr", buf.Ptr),
			zap.Uint32("length", buf.Len),
			zap.Error(err),
		)
	}
}

// Close closes idle instances and rejects further calls. Instances held by
// unreleased results are closed when released.
func (c *Codec) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	var firstErr error
	for {
		select {
		case ci := <-c.idle:
			if err := ci.inst.Close(ctx); err != nil && firstErr == nil {
				firstErr = err
			}
			<-c.slots
		default:
			c.logger.Debug("Wasm codec closed")
			return firstErr
		}
	}
}

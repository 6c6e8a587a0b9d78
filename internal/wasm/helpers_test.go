package wasm

import (
	"context"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/woxQAQ/wsq-bridge/internal/wasm/wasmtest"
)

var (
	fakeCodecWasm = wasmtest.Codec
	emptyWasm     = wasmtest.Empty
)

const (
	fakeModuleName     = "fake-wsq"
	wasmtestMemorySize = wasmtest.MemoryPages * 65536
)

type testEnv struct {
	runtime *Runtime
	loader  *ModuleLoader
	manager *InstanceManager
}

func newTestEnv(t *testing.T, config *RuntimeConfig) *testEnv {
	t.Helper()

	logger := zaptest.NewLogger(t)
	ctx := context.Background()

	runtime, err := NewRuntime(ctx, logger, config)
	if err != nil {
		t.Fatalf("Failed to create runtime: %v", err)
	}
	t.Cleanup(func() { runtime.Close(context.Background()) })

	loader := NewModuleLoader(runtime, logger)
	if _, err := loader.LoadModuleFromMemory(ctx, fakeModuleName, fakeCodecWasm); err != nil {
		t.Fatalf("Failed to load fake codec module: %v", err)
	}

	return &testEnv{
		runtime: runtime,
		loader:  loader,
		manager: NewInstanceManager(runtime, NewHostFunctions(logger), logger),
	}
}

func (e *testEnv) newCodec(t *testing.T, config CodecConfig) *Codec {
	t.Helper()

	if config.ModuleName == "" {
		config.ModuleName = fakeModuleName
	}
	codec, err := NewCodec(e.manager, config, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("Failed to create codec: %v", err)
	}
	t.Cleanup(func() { codec.Close(context.Background()) })
	return codec
}

// outstanding reports the live guest allocation count of every idle instance.
func outstanding(t *testing.T, c *Codec) []int32 {
	t.Helper()

	var (
		held   []*codecInstance
		counts []int32
	)
	for {
		select {
		case ci := <-c.idle:
			held = append(held, ci)
			v, ok := ci.inst.Global("outstanding")
			if !ok {
				t.Fatal("fake module does not export 'outstanding'")
			}
			counts = append(counts, int32(uint32(v)))
			continue
		default:
		}
		break
	}
	for _, ci := range held {
		c.idle <- ci
	}
	return counts
}

func assertNoLeaks(t *testing.T, c *Codec) {
	t.Helper()
	for i, n := range outstanding(t, c) {
		if n != 0 {
			t.Errorf("instance %d has %d outstanding guest allocations", i, n)
		}
	}
}

func argb(v uint32) int32 {
	return int32(v)
}

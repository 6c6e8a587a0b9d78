package plugin

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/woxQAQ/wsq-bridge/internal/config"
	"github.com/woxQAQ/wsq-bridge/internal/wasm"
	"github.com/woxQAQ/wsq-bridge/internal/wasm/wasmtest"
)

var codecWasm = wasmtest.Codec

const validManifest = `
name: nbis
version: 5.0.0
wasm:
  file: nbis.wasm
max_comment_len: 131069
author: NIST
license: public domain
`

// writePlugin creates dir/name holding manifest and, when wasmBytes is
// non-nil, the referenced Wasm file.
func writePlugin(t *testing.T, dir, name, manifest string, wasmBytes []byte) string {
	t.Helper()

	pluginDir := filepath.Join(dir, name)
	if err := os.MkdirAll(pluginDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(pluginDir, ManifestFile), []byte(manifest), 0o644); err != nil {
		t.Fatal(err)
	}
	if wasmBytes != nil {
		if err := os.WriteFile(filepath.Join(pluginDir, "nbis.wasm"), wasmBytes, 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return pluginDir
}

func newTestRuntime(t *testing.T) (*wasm.Runtime, *wasm.HostFunctionsImpl) {
	t.Helper()

	logger := zaptest.NewLogger(t)
	runtime, err := wasm.NewRuntime(context.Background(), logger, wasm.DefaultRuntimeConfig())
	if err != nil {
		t.Fatalf("Failed to create runtime: %v", err)
	}
	t.Cleanup(func() { runtime.Close(context.Background()) })

	return runtime, wasm.NewHostFunctions(logger)
}

func testConfig(paths ...string) *config.Config {
	return &config.Config{
		PluginPaths: paths,
		Wasm: config.WasmConfig{
			MemoryPages:  256,
			MaxInstances: 2,
		},
	}
}

func argb(v uint32) int32 {
	return int32(v)
}

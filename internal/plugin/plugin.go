package plugin

import (
	"time"

	"github.com/woxQAQ/wsq-bridge/internal/wasm"
)

// Plugin is a loaded codec plugin: its manifest and compiled Wasm module.
type Plugin struct {
	Manifest *Manifest

	// Compiled is cached in the runtime under the plugin name.
	Compiled *wasm.CompiledModule

	LoadedAt time.Time
}

// Name returns the plugin name.
func (p *Plugin) Name() string {
	return p.Manifest.Name
}

// Version returns the plugin version.
func (p *Plugin) Version() string {
	return p.Manifest.Version
}

// Exports returns the guest function names the codec calls.
func (p *Plugin) Exports() wasm.Exports {
	return p.Manifest.CodecExports()
}

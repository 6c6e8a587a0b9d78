package plugin

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/woxQAQ/wsq-bridge/internal/config"
	"github.com/woxQAQ/wsq-bridge/internal/wasm"
)

var errNotLoaded = errors.New("plugins not loaded")

// Manager manages the plugin lifecycle and the codecs built from plugins.
type Manager struct {
	cfg         *config.Config
	runtime     *wasm.Runtime
	loader      *Loader
	registry    *Registry
	instanceMgr *wasm.InstanceManager
	logger      *zap.Logger

	mu     sync.RWMutex
	loaded bool
	codecs map[string]*wasm.Codec // plugin name -> codec
}

// NewManager creates a new plugin manager.
func NewManager(
	cfg *config.Config,
	runtime *wasm.Runtime,
	hostFuncs *wasm.HostFunctionsImpl,
	logger *zap.Logger,
) *Manager {
	return &Manager{
		cfg:         cfg,
		runtime:     runtime,
		loader:      NewLoader(runtime, logger),
		registry:    NewRegistry(logger),
		instanceMgr: wasm.NewInstanceManager(runtime, hostFuncs, logger),
		logger:      logger.With(zap.String("component", "plugin-manager")),
		codecs:      make(map[string]*wasm.Codec),
	}
}

// LoadAll discovers and loads all plugins from configured paths.
func (m *Manager) LoadAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.loaded {
		return fmt.Errorf("plugins already loaded")
	}

	m.logger.Info("Loading plugins",
		zap.Strings("paths", m.cfg.PluginPaths),
	)

	plugins, err := m.loader.DiscoverPlugins(ctx, m.cfg.PluginPaths)
	if err != nil {
		return err
	}

	for _, plugin := range plugins {
		if err := m.registry.Register(plugin); err != nil {
			m.logger.Error("Failed to register plugin",
				zap.String("name", plugin.Name()),
				zap.Error(err),
			)
			continue
		}
	}

	m.loaded = true

	m.logger.Info("Plugins loaded successfully",
		zap.Int("count", m.registry.Count()),
	)

	return nil
}

// GetPlugin retrieves a plugin by name.
func (m *Manager) GetPlugin(name string) (*Plugin, error) {
	plugin, ok := m.registry.Get(name)
	if !ok {
		return nil, &PluginNotFoundError{PluginName: name}
	}

	return plugin, nil
}

// DefaultPlugin returns the configured codec plugin, or the only loaded
// plugin when none is configured.
func (m *Manager) DefaultPlugin() (*Plugin, error) {
	if !m.IsLoaded() {
		return nil, errNotLoaded
	}

	if m.cfg.Codec != "" {
		return m.GetPlugin(m.cfg.Codec)
	}

	plugins := m.registry.List()
	if len(plugins) != 1 {
		return nil, &PluginNotFoundError{}
	}
	return plugins[0], nil
}

// Codec returns the codec for a plugin, creating it on first use. Codecs are
// shared: each one bounds its own guest instances.
func (m *Manager) Codec(name string) (*wasm.Codec, error) {
	plugin, err := m.GetPlugin(name)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if codec, ok := m.codecs[name]; ok {
		return codec, nil
	}

	codec, err := wasm.NewCodec(m.instanceMgr, wasm.CodecConfig{
		ModuleName:   plugin.Compiled.Name,
		Exports:      plugin.Exports(),
		Debug:        m.cfg.Wasm.Debug,
		MaxInstances: m.cfg.Wasm.MaxInstances,
	}, m.logger)
	if err != nil {
		return nil, &PluginLoadError{PluginName: name, Err: err}
	}

	m.codecs[name] = codec

	m.logger.Debug("Codec created",
		zap.String("plugin", name),
		zap.Int("max_instances", m.cfg.Wasm.MaxInstances),
	)

	return codec, nil
}

// Shutdown closes every codec, then the runtime.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.logger.Info("Shutting down plugin manager")

	m.mu.Lock()
	var errs []error
	for name, codec := range m.codecs {
		if err := codec.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close codec '%s': %w", name, err))
		}
	}
	clear(m.codecs)
	m.mu.Unlock()

	// Runtime close handles instance cleanup
	if err := m.runtime.Close(ctx); err != nil {
		errs = append(errs, err)
	}

	if err := errors.Join(errs...); err != nil {
		m.logger.Error("Plugin manager shutdown failed", zap.Error(err))
		return err
	}

	m.logger.Info("Plugin manager shutdown complete")
	return nil
}

// Registry returns the plugin registry.
func (m *Manager) Registry() *Registry {
	return m.registry
}

// IsLoaded returns whether plugins have been loaded.
func (m *Manager) IsLoaded() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.loaded
}

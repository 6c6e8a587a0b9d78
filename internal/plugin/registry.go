package plugin

import (
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Registry manages loaded plugins.
type Registry struct {
	sync.RWMutex
	plugins map[string]*Plugin // name -> plugin
	logger  *zap.Logger
}

// NewRegistry creates a new plugin registry.
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		plugins: make(map[string]*Plugin),
		logger:  logger.With(zap.String("component", "plugin-registry")),
	}
}

// Register adds a plugin to the registry.
func (r *Registry) Register(plugin *Plugin) error {
	r.Lock()
	defer r.Unlock()

	name := plugin.Name()

	if _, exists := r.plugins[name]; exists {
		return &PluginAlreadyRegisteredError{PluginName: name}
	}

	r.plugins[name] = plugin

	r.logger.Info("Plugin registered",
		zap.String("name", name),
		zap.String("version", plugin.Version()),
	)

	return nil
}

// Get retrieves a plugin by name.
func (r *Registry) Get(name string) (*Plugin, bool) {
	r.RLock()
	defer r.RUnlock()

	plugin, ok := r.plugins[name]
	return plugin, ok
}

// List returns all registered plugins, sorted by name.
func (r *Registry) List() []*Plugin {
	r.RLock()
	defer r.RUnlock()

	result := make([]*Plugin, 0, len(r.plugins))
	for _, plugin := range r.plugins {
		result = append(result, plugin)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Name() < result[j].Name()
	})
	return result
}

// Count returns the number of registered plugins.
func (r *Registry) Count() int {
	r.RLock()
	defer r.RUnlock()

	return len(r.plugins)
}

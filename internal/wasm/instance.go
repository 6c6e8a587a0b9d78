package wasm

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"
)

// InstanceManager creates and manages module instances.
type InstanceManager struct {
	runtime   *Runtime
	logger    *zap.Logger
	hostFuncs *HostFunctionsImpl
}

// NewInstanceManager creates a new instance manager.
func NewInstanceManager(runtime *Runtime, hostFuncs *HostFunctionsImpl, logger *zap.Logger) *InstanceManager {
	return &InstanceManager{
		runtime:   runtime,
		hostFuncs: hostFuncs,
		logger:    logger.With(zap.String("component", "wasm-instance")),
	}
}

// InstanceConfig holds configuration for creating instances.
type InstanceConfig struct {
	// Module name to instantiate.
	ModuleName string

	// Instance ID (if empty, generates UUID).
	InstanceID string

	// Exported functions to resolve and cache.
	Exports []string

	// Values for exported mutable globals, set right after instantiation.
	// Globals the module does not export are skipped.
	Globals map[string]uint64
}

// Instance represents an instantiated Wasm module.
// An Instance is not safe for concurrent use.
type Instance struct {
	// wazero module instance.
	module api.Module

	runtime *Runtime

	// Instance metadata.
	ID        string
	Name      string
	CreatedAt int64

	// Exported functions (cached for performance).
	exports map[string]api.Function
}

// Instantiate creates a new instance from a compiled module.
// Host functions are exported to the Wasm module.
func (m *InstanceManager) Instantiate(ctx context.Context, config *InstanceConfig) (*Instance, error) {
	compiled, ok := m.runtime.GetCompiledModule(config.ModuleName)
	if !ok {
		return nil, &ModuleNotFoundError{ModuleName: config.ModuleName}
	}

	instanceID := config.InstanceID
	if instanceID == "" {
		instanceID = uuid.New().String()
	}

	m.logger.Debug("Instantiating Wasm module",
		zap.String("module", config.ModuleName),
		zap.String("instance_id", instanceID),
	)

	if err := m.runtime.registerHostModules(ctx, m.hostFuncs); err != nil {
		return nil, &InstantiationError{
			ModuleName: config.ModuleName,
			InstanceID: instanceID,
			Err:        err,
		}
	}

	// Reactor modules built with wasi-sdk need _initialize to run libc
	// constructors; a module without it is instantiated as is.
	moduleConfig := wazero.NewModuleConfig().
		WithName(instanceID).
		WithStartFunctions("_initialize").
		WithStderr(m.hostFuncs.stderr())

	module, err := m.runtime.runtime.InstantiateModule(ctx, compiled.Module, moduleConfig)
	if err != nil {
		return nil, &InstantiationError{
			ModuleName: config.ModuleName,
			InstanceID: instanceID,
			Err:        err,
		}
	}

	exports, err := m.cacheExportedFunctions(module, config)
	if err != nil {
		_ = module.Close(ctx)
		return nil, err
	}

	m.setGlobals(module, config)

	instance := &Instance{
		module:    module,
		runtime:   m.runtime,
		ID:        instanceID,
		Name:      config.ModuleName,
		CreatedAt: time.Now().Unix(),
		exports:   exports,
	}

	// Track active instance.
	m.runtime.StoreInstance(instance)

	m.logger.Debug("Module instantiated successfully",
		zap.String("instance_id", instanceID),
		zap.Int("exported_functions", len(exports)),
	)

	return instance, nil
}

// Function returns a cached exported function.
func (i *Instance) Function(name string) (api.Function, error) {
	fn, ok := i.exports[name]
	if !ok {
		return nil, &FunctionNotFoundError{ModuleName: i.Name, FunctionName: name}
	}
	return fn, nil
}

// Memory returns a helper over the instance's exported memory.
func (i *Instance) Memory() *Memory {
	return NewMemory(i.module)
}

// Global returns the current value of an exported global.
func (i *Instance) Global(name string) (uint64, bool) {
	g := i.module.ExportedGlobal(name)
	if g == nil {
		return 0, false
	}
	return g.Get(), true
}

// Close closes the instance and releases resources.
func (i *Instance) Close(ctx context.Context) error {
	i.runtime.DeleteInstance(i.ID)
	return i.module.Close(ctx)
}

// cacheExportedFunctions resolves every function named in the config.
// This improves performance by avoiding repeated lookups.
func (m *InstanceManager) cacheExportedFunctions(module api.Module, config *InstanceConfig) (map[string]api.Function, error) {
	exports := make(map[string]api.Function, len(config.Exports))

	for _, name := range config.Exports {
		fn := module.ExportedFunction(name)
		if fn == nil {
			return nil, &FunctionNotFoundError{ModuleName: config.ModuleName, FunctionName: name}
		}
		exports[name] = fn
	}

	return exports, nil
}

func (m *InstanceManager) setGlobals(module api.Module, config *InstanceConfig) {
	for name, value := range config.Globals {
		g := module.ExportedGlobal(name)
		if g == nil {
			m.logger.Debug("Module does not export global",
				zap.String("module", config.ModuleName),
				zap.String("global", name),
			)
			continue
		}

		mg, ok := g.(api.MutableGlobal)
		if !ok {
			m.logger.Warn("Exported global is immutable",
				zap.String("module", config.ModuleName),
				zap.String("global", name),
			)
			continue
		}
		mg.Set(value)
	}
}

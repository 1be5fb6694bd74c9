package core

import (
	"sync"

	"github.com/sliink/commitstream/internal/model"
)

// PluginRegistry keeps track of registered plugins in registration order
type PluginRegistry struct {
	plugins map[string]model.Plugin
	order   []string
	mutex   sync.RWMutex
	BaseComponent
}

// NewPluginRegistry creates a new plugin registry
func NewPluginRegistry() *PluginRegistry {
	return &PluginRegistry{
		plugins:       make(map[string]model.Plugin),
		BaseComponent: NewBaseComponent("plugin_registry", "Plugin Registry"),
	}
}

// Initialize prepares the plugin registry for operation
func (r *PluginRegistry) Initialize() bool {
	r.SetStatus(model.StatusInitialized)
	return true
}

// Start begins plugin registry operation
func (r *PluginRegistry) Start() bool {
	r.SetStatus(model.StatusRunning)
	return true
}

// Stop stops every plugin, inputs first and outputs last
func (r *PluginRegistry) Stop() bool {
	for _, pluginType := range []model.PluginType{model.InputPluginType, model.ProcessorPluginType, model.OutputPluginType} {
		for _, p := range r.GetPluginsByType(pluginType) {
			p.Stop()
		}
	}

	r.SetStatus(model.StatusStopped)
	return true
}

// RegisterPlugin adds a plugin to the registry
func (r *PluginRegistry) RegisterPlugin(p model.Plugin) bool {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, exists := r.plugins[p.ID()]; exists {
		return false
	}

	r.plugins[p.ID()] = p
	r.order = append(r.order, p.ID())
	return true
}

// UnregisterPlugin removes a plugin from the registry
func (r *PluginRegistry) UnregisterPlugin(pluginID string) bool {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, exists := r.plugins[pluginID]; !exists {
		return false
	}

	delete(r.plugins, pluginID)
	for i, id := range r.order {
		if id == pluginID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

// GetPlugin retrieves a plugin by ID
func (r *PluginRegistry) GetPlugin(pluginID string) (model.Plugin, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	p, exists := r.plugins[pluginID]
	return p, exists
}

// GetPluginsByType retrieves all plugins of a specific type
func (r *PluginRegistry) GetPluginsByType(pluginType model.PluginType) []model.Plugin {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	var result []model.Plugin
	for _, id := range r.order {
		if p := r.plugins[id]; p.GetType() == pluginType {
			result = append(result, p)
		}
	}
	return result
}

// GetInputPlugins retrieves all input plugins
func (r *PluginRegistry) GetInputPlugins() []model.InputPlugin {
	var result []model.InputPlugin
	for _, p := range r.GetPluginsByType(model.InputPluginType) {
		if inputPlugin, ok := p.(model.InputPlugin); ok {
			result = append(result, inputPlugin)
		}
	}
	return result
}

// GetProcessorPlugins retrieves all processor plugins
func (r *PluginRegistry) GetProcessorPlugins() []model.ProcessorPlugin {
	var result []model.ProcessorPlugin
	for _, p := range r.GetPluginsByType(model.ProcessorPluginType) {
		if processorPlugin, ok := p.(model.ProcessorPlugin); ok {
			result = append(result, processorPlugin)
		}
	}
	return result
}

// GetOutputPlugins retrieves all output plugins
func (r *PluginRegistry) GetOutputPlugins() []model.OutputPlugin {
	var result []model.OutputPlugin
	for _, p := range r.GetPluginsByType(model.OutputPluginType) {
		if outputPlugin, ok := p.(model.OutputPlugin); ok {
			result = append(result, outputPlugin)
		}
	}
	return result
}

// GetAllPlugins retrieves all registered plugins
func (r *PluginRegistry) GetAllPlugins() []model.Plugin {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	result := make([]model.Plugin, 0, len(r.order))
	for _, id := range r.order {
		result = append(result, r.plugins[id])
	}
	return result
}

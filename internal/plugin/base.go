package plugin

import (
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/sliink/commitstream/internal/model"
)

// BasePlugin provides common functionality for all plugins
type BasePlugin struct {
	id         string
	name       string
	pluginType model.PluginType
	mu         sync.RWMutex
	status     model.ComponentStatus
	Config     map[string]interface{}
	core       model.CoreAPI
	logger     *slog.Logger
}

// NewBasePlugin creates a new base plugin
func NewBasePlugin(id, name string, pluginType model.PluginType) BasePlugin {
	return BasePlugin{
		id:         id,
		name:       name,
		pluginType: pluginType,
		status:     model.StatusUninitialized,
		Config:     make(map[string]interface{}),
	}
}

// ID returns the plugin's unique identifier
func (p *BasePlugin) ID() string {
	return p.id
}

// Name returns the plugin's human-readable name
func (p *BasePlugin) Name() string {
	return p.name
}

// GetType returns the plugin type
func (p *BasePlugin) GetType() model.PluginType {
	return p.pluginType
}

// GetStatus returns the current plugin status
func (p *BasePlugin) GetStatus() model.ComponentStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.status
}

// SetStatus updates the plugin status
func (p *BasePlugin) SetStatus(status model.ComponentStatus) {
	p.mu.Lock()
	p.status = status
	p.mu.Unlock()
}

// Configure applies configuration to the plugin
func (p *BasePlugin) Configure(config map[string]interface{}) bool {
	if config == nil {
		return false
	}
	p.Config = config
	return true
}

// RegisterWithCore registers the plugin with the core system
func (p *BasePlugin) RegisterWithCore(core model.CoreAPI) bool {
	p.core = core
	return true
}

// Validate checks if the plugin is properly configured
func (p *BasePlugin) Validate() bool {
	// Base implementation assumes valid, derived plugins should override
	return true
}

// SetLogger replaces the plugin logger
func (p *BasePlugin) SetLogger(l *slog.Logger) {
	p.logger = l
}

// Logger returns a logger tagged with the plugin id
func (p *BasePlugin) Logger() *slog.Logger {
	l := p.logger
	if l == nil {
		l = slog.Default()
	}
	return l.With("component", "plugin", "plugin_id", p.id)
}

// PublishEvent forwards an event to the core, if registered
func (p *BasePlugin) PublishEvent(eventType model.EventType, data interface{}) {
	if p.core == nil {
		return
	}
	p.core.PublishEvent(eventType, p.id, data)
}

// DecodeConfig decodes the plugin configuration into out. Durations accept
// strings such as "30s" and times accept RFC3339.
func (p *BasePlugin) DecodeConfig(out interface{}) error {
	return DecodeConfig(p.Config, out)
}

// DecodeConfig decodes a raw plugin configuration into out
func DecodeConfig(raw map[string]interface{}, out interface{}) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToTimeHookFunc(time.RFC3339),
			mapstructure.StringToSliceHookFunc(","),
			durationFromNumberHook,
		),
	})
	if err != nil {
		return err
	}
	if err := decoder.Decode(raw); err != nil {
		return fmt.Errorf("decode plugin config: %w", err)
	}
	return nil
}

// durationFromNumberHook reads bare numbers as milliseconds
func durationFromNumberHook(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
	if to != reflect.TypeOf(time.Duration(0)) {
		return data, nil
	}
	switch v := data.(type) {
	case int:
		return time.Duration(v) * time.Millisecond, nil
	case int64:
		return time.Duration(v) * time.Millisecond, nil
	case float64:
		return time.Duration(v * float64(time.Millisecond)), nil
	}
	return data, nil
}

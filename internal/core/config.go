package core

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/sliink/commitstream/internal/checkpoint"
	"github.com/sliink/commitstream/internal/model"
	"github.com/sliink/commitstream/internal/plugin"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. COMMITSTREAM_API_PORT
const EnvPrefix = "COMMITSTREAM"

const redacted = "***"

// Settings is the typed view of the configuration
type Settings struct {
	LogLevel   string             `mapstructure:"log_level"`
	LogFormat  string             `mapstructure:"log_format"`
	API        APISettings        `mapstructure:"api"`
	Checkpoint CheckpointSettings `mapstructure:"checkpoint"`
	Telemetry  TelemetrySettings  `mapstructure:"telemetry"`
	Inputs     []plugin.Spec      `mapstructure:"inputs"`
	Processors []plugin.Spec      `mapstructure:"processors"`
	Outputs    []plugin.Spec      `mapstructure:"outputs"`
	// Pipeline lists processor ids in execution order. Empty means every
	// declared processor, in declaration order.
	Pipeline []string `mapstructure:"pipeline"`
}

// APISettings configures the control API
type APISettings struct {
	Enabled bool   `mapstructure:"enabled"`
	Host    string `mapstructure:"host"`
	Port    int    `mapstructure:"port"`
}

// CheckpointSettings configures checkpoint storage. An empty Dir keeps
// checkpoints in memory only.
type CheckpointSettings struct {
	Dir      string        `mapstructure:"dir"`
	Interval time.Duration `mapstructure:"interval"`
	Fsync    string        `mapstructure:"fsync"`
}

// TelemetrySettings configures trace export
type TelemetrySettings struct {
	Endpoint string `mapstructure:"endpoint"`
}

// Specs returns the plugin declarations
func (s Settings) Specs() plugin.Specs {
	return plugin.Specs{Inputs: s.Inputs, Processors: s.Processors, Outputs: s.Outputs}
}

// Validate checks the cross references of the settings
func (s Settings) Validate() error {
	if len(s.Inputs) == 0 {
		return errors.New("config: no inputs declared")
	}
	if len(s.Outputs) == 0 {
		return errors.New("config: no outputs declared")
	}
	processors := make(map[string]bool, len(s.Processors))
	for _, p := range s.Processors {
		processors[p.ID] = true
	}
	for _, id := range s.Pipeline {
		if !processors[id] {
			return fmt.Errorf("config: pipeline references unknown processor %q", id)
		}
	}
	if s.API.Enabled && (s.API.Port <= 0 || s.API.Port > 65535) {
		return fmt.Errorf("config: invalid api port %d", s.API.Port)
	}
	return nil
}

// ConfigManager handles loading, storing, and accessing configuration.
// Values come from defaults, the config file, COMMITSTREAM_* environment
// variables and bound command line flags, in increasing precedence.
type ConfigManager struct {
	v        *viper.Viper
	watchers map[string][]func(interface{})
	mutex    sync.RWMutex
	BaseComponent
}

// NewConfigManager creates a new configuration manager with defaults set
func NewConfigManager() *ConfigManager {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("api.enabled", false)
	v.SetDefault("api.host", "localhost")
	v.SetDefault("api.port", 8080)
	v.SetDefault("checkpoint.dir", "")
	v.SetDefault("checkpoint.interval", checkpoint.DefaultInterval)
	v.SetDefault("checkpoint.fsync", "always")
	v.SetDefault("telemetry.endpoint", "")

	return &ConfigManager{
		v:             v,
		watchers:      make(map[string][]func(interface{})),
		BaseComponent: NewBaseComponent("config_manager", "Configuration Manager"),
	}
}

// Initialize prepares the configuration manager for operation
func (m *ConfigManager) Initialize() bool {
	m.SetStatus(model.StatusInitialized)
	return true
}

// Start begins configuration manager operation
func (m *ConfigManager) Start() bool {
	m.SetStatus(model.StatusRunning)
	return true
}

// Stop halts configuration manager operation
func (m *ConfigManager) Stop() bool {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.watchers = make(map[string][]func(interface{}))

	m.SetStatus(model.StatusStopped)
	return true
}

// LoadConfig reads a YAML, JSON or TOML file, chosen by extension
func (m *ConfigManager) LoadConfig(configFile string) error {
	m.mutex.Lock()
	m.v.SetConfigFile(configFile)
	err := m.v.ReadInConfig()
	m.mutex.Unlock()
	if err != nil {
		return fmt.Errorf("error reading config file: %w", err)
	}

	m.notify("")
	return nil
}

// SaveConfig writes the current configuration to a file. An empty name
// reuses the file the configuration was loaded from.
func (m *ConfigManager) SaveConfig(configFile string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if configFile == "" {
		configFile = m.v.ConfigFileUsed()
	}
	if configFile == "" {
		return errors.New("no config file specified")
	}
	if err := m.v.WriteConfigAs(configFile); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}
	return nil
}

// ConfigFile returns the file the configuration was loaded from
func (m *ConfigManager) ConfigFile() string {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.v.ConfigFileUsed()
}

// BindFlag lets a command line flag override the value at key
func (m *ConfigManager) BindFlag(key string, flag *pflag.Flag) error {
	if flag == nil {
		return fmt.Errorf("no flag for %s", key)
	}
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.v.BindPFlag(key, flag)
}

// GetConfig retrieves a configuration value by dotted path. An empty path
// returns the whole configuration.
func (m *ConfigManager) GetConfig(path string, defaultValue interface{}) interface{} {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.get(path, defaultValue)
}

func (m *ConfigManager) get(path string, defaultValue interface{}) interface{} {
	if path == "" {
		return m.v.AllSettings()
	}
	if !m.v.IsSet(path) {
		return defaultValue
	}
	return m.v.Get(path)
}

// SetConfig sets a configuration value by dotted path. An empty path
// merges a map into the configuration.
func (m *ConfigManager) SetConfig(path string, value interface{}) error {
	m.mutex.Lock()
	if path == "" {
		values, ok := value.(map[string]interface{})
		if !ok {
			m.mutex.Unlock()
			return errors.New("cannot set root config to non-map value")
		}
		for k, val := range values {
			m.v.Set(k, val)
		}
	} else {
		m.v.Set(path, value)
	}
	m.mutex.Unlock()

	m.notify(path)
	return nil
}

// WatchConfig registers a callback for changes at path or below it. The
// callback is invoked once with the current value.
func (m *ConfigManager) WatchConfig(path string, callback func(interface{})) {
	m.mutex.Lock()
	m.watchers[path] = append(m.watchers[path], callback)
	current := m.get(path, nil)
	m.mutex.Unlock()

	go callback(current)
}

// notify calls the watchers of path and of all its parents
func (m *ConfigManager) notify(path string) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	var parts []string
	if path != "" {
		parts = strings.Split(path, ".")
	}
	for i := 0; i <= len(parts); i++ {
		subPath := strings.Join(parts[:i], ".")
		watchers := m.watchers[subPath]
		if len(watchers) == 0 {
			continue
		}
		value := m.get(subPath, nil)
		for _, callback := range watchers {
			go callback(value)
		}
	}
}

// Settings decodes the configuration into its typed view and validates it
func (m *ConfigManager) Settings() (Settings, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	var s Settings
	err := m.v.Unmarshal(&s, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)))
	if err != nil {
		return Settings{}, fmt.Errorf("config: %w", err)
	}
	if s.Checkpoint.Interval <= 0 {
		s.Checkpoint.Interval = checkpoint.DefaultInterval
	}
	return s, s.Validate()
}

// Redacted returns the whole configuration with secrets masked
func (m *ConfigManager) Redacted() map[string]interface{} {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return redact(m.v.AllSettings()).(map[string]interface{})
}

func redact(value interface{}) interface{} {
	switch v := value.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for k, val := range v {
			if isSecretKey(k) {
				out[k] = redacted
				continue
			}
			out[k] = redact(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, val := range v {
			out[i] = redact(val)
		}
		return out
	default:
		return value
	}
}

func isSecretKey(key string) bool {
	key = strings.ToLower(key)
	return key == "token" || strings.HasSuffix(key, "_token") || strings.Contains(key, "password") || strings.Contains(key, "secret")
}

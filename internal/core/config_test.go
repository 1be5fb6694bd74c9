package core

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sliink/commitstream/internal/model"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testConfigYAML = `
log_level: debug
api:
  enabled: true
  port: 9090
checkpoint:
  dir: /var/lib/commitstream
  interval: 30s
inputs:
  - id: commits
    type: github_commits
    config:
      repo: octo/repo
      token: ghp_secret
      poll_interval: 1m
processors:
  - id: no-bots
    type: cel_filter
    config:
      expression: author != "bot"
outputs:
  - id: console
    type: stdout
pipeline: [no-bots]
`

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func loadedManager(t *testing.T) *ConfigManager {
	t.Helper()
	m := NewConfigManager()
	require.NoError(t, m.LoadConfig(writeConfig(t, "commitstream.yaml", testConfigYAML)))
	return m
}

func TestConfigManagerLifecycle(t *testing.T) {
	m := NewConfigManager()
	assert.Equal(t, "config_manager", m.ID())

	assert.True(t, m.Initialize())
	assert.Equal(t, model.StatusInitialized, m.GetStatus())
	assert.True(t, m.Start())
	assert.Equal(t, model.StatusRunning, m.GetStatus())

	m.WatchConfig("api", func(interface{}) {})
	assert.True(t, m.Stop())
	assert.Empty(t, m.watchers)
	assert.Equal(t, model.StatusStopped, m.GetStatus())
}

func TestLoadConfig(t *testing.T) {
	t.Run("LoadConfig loads YAML", func(t *testing.T) {
		m := loadedManager(t)
		assert.Equal(t, "debug", m.GetConfig("log_level", nil))
		assert.Equal(t, 9090, m.GetConfig("api.port", nil))
		assert.Contains(t, m.ConfigFile(), "commitstream.yaml")
	})

	t.Run("LoadConfig loads JSON", func(t *testing.T) {
		m := NewConfigManager()
		require.NoError(t, m.LoadConfig(writeConfig(t, "c.json", `{"log_format": "json"}`)))
		assert.Equal(t, "json", m.GetConfig("log_format", nil))
	})

	t.Run("LoadConfig returns error for nonexistent file", func(t *testing.T) {
		assert.Error(t, NewConfigManager().LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")))
	})

	t.Run("LoadConfig returns error for invalid content", func(t *testing.T) {
		assert.Error(t, NewConfigManager().LoadConfig(writeConfig(t, "bad.json", `{"log_level": `)))
	})

	t.Run("LoadConfig notifies root path watchers", func(t *testing.T) {
		m := NewConfigManager()
		var mu sync.Mutex
		var calls int
		m.WatchConfig("", func(interface{}) {
			mu.Lock()
			calls++
			mu.Unlock()
		})
		require.NoError(t, m.LoadConfig(writeConfig(t, "c.yaml", "log_level: warn\n")))

		assert.Eventually(t, func() bool {
			mu.Lock()
			defer mu.Unlock()
			return calls == 2
		}, time.Second, time.Millisecond)
	})
}

func TestSettings(t *testing.T) {
	t.Run("Decodes typed settings", func(t *testing.T) {
		s, err := loadedManager(t).Settings()
		require.NoError(t, err)

		assert.Equal(t, "debug", s.LogLevel)
		assert.Equal(t, "text", s.LogFormat, "default kept")
		assert.True(t, s.API.Enabled)
		assert.Equal(t, "localhost", s.API.Host)
		assert.Equal(t, 9090, s.API.Port)
		assert.Equal(t, "/var/lib/commitstream", s.Checkpoint.Dir)
		assert.Equal(t, 30*time.Second, s.Checkpoint.Interval)
		assert.Equal(t, []string{"no-bots"}, s.Pipeline)

		require.Len(t, s.Inputs, 1)
		assert.Equal(t, "commits", s.Inputs[0].ID)
		assert.Equal(t, "github_commits", s.Inputs[0].Type)
		assert.Equal(t, "octo/repo", s.Inputs[0].Config["repo"])

		specs := s.Specs()
		assert.Len(t, specs.Processors, 1)
		assert.Len(t, specs.Outputs, 1)
	})

	t.Run("Environment overrides the file", func(t *testing.T) {
		t.Setenv("COMMITSTREAM_API_PORT", "7070")
		s, err := loadedManager(t).Settings()
		require.NoError(t, err)
		assert.Equal(t, 7070, s.API.Port)
	})

	t.Run("Flags override the file", func(t *testing.T) {
		m := loadedManager(t)
		flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
		flags.String("log-level", "info", "")
		require.NoError(t, m.BindFlag("log_level", flags.Lookup("log-level")))
		require.NoError(t, flags.Parse([]string{"--log-level=error"}))

		s, err := m.Settings()
		require.NoError(t, err)
		assert.Equal(t, "error", s.LogLevel)
		assert.Error(t, m.BindFlag("missing", flags.Lookup("missing")))
	})

	t.Run("Validation", func(t *testing.T) {
		tests := []struct {
			name string
			yaml string
		}{
			{name: "no inputs", yaml: "outputs: [{id: o, type: stdout}]\n"},
			{name: "no outputs", yaml: "inputs: [{id: i, type: github_commits}]\n"},
			{name: "unknown pipeline processor", yaml: "inputs: [{id: i, type: github_commits}]\noutputs: [{id: o, type: stdout}]\npipeline: [nope]\n"},
			{name: "bad api port", yaml: "inputs: [{id: i, type: github_commits}]\noutputs: [{id: o, type: stdout}]\napi: {enabled: true, port: 0}\n"},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				m := NewConfigManager()
				require.NoError(t, m.LoadConfig(writeConfig(t, "c.yaml", tt.yaml)))
				_, err := m.Settings()
				assert.Error(t, err)
			})
		}
	})
}

func TestSaveConfig(t *testing.T) {
	t.Run("SaveConfig writes config to file", func(t *testing.T) {
		m := loadedManager(t)
		path := filepath.Join(t.TempDir(), "saved.yaml")
		require.NoError(t, m.SaveConfig(path))

		reloaded := NewConfigManager()
		require.NoError(t, reloaded.LoadConfig(path))
		assert.Equal(t, 9090, reloaded.GetConfig("api.port", nil))
	})

	t.Run("SaveConfig returns error with no path", func(t *testing.T) {
		assert.Error(t, NewConfigManager().SaveConfig(""))
	})
}

func TestGetSetConfig(t *testing.T) {
	m := loadedManager(t)

	t.Run("GetConfig with empty path returns entire config", func(t *testing.T) {
		all := m.GetConfig("", nil).(map[string]interface{})
		assert.Contains(t, all, "inputs")
		assert.Contains(t, all, "api")
	})

	t.Run("GetConfig with non-existent path returns default value", func(t *testing.T) {
		assert.Equal(t, "fallback", m.GetConfig("nope.nothing", "fallback"))
	})

	t.Run("SetConfig with nested path sets value", func(t *testing.T) {
		require.NoError(t, m.SetConfig("telemetry.endpoint", "localhost:4318"))
		assert.Equal(t, "localhost:4318", m.GetConfig("telemetry.endpoint", nil))
	})

	t.Run("SetConfig with empty path merges a map", func(t *testing.T) {
		require.NoError(t, m.SetConfig("", map[string]interface{}{"log_format": "json"}))
		assert.Equal(t, "json", m.GetConfig("log_format", nil))
		assert.Error(t, m.SetConfig("", "not a map"))
	})
}

func TestWatchConfig(t *testing.T) {
	m := NewConfigManager()

	var mu sync.Mutex
	seen := map[string][]interface{}{}
	watch := func(path string) {
		m.WatchConfig(path, func(v interface{}) {
			mu.Lock()
			seen[path] = append(seen[path], v)
			mu.Unlock()
		})
	}
	watch("api.port")
	watch("api")
	watch("log_level")

	require.NoError(t, m.SetConfig("api.port", 9999))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen["api.port"]) == 2 && len(seen["api"]) == 2
	}, time.Second, time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, seen["log_level"], 1, "unrelated path only sees the initial call")
	assert.Contains(t, seen["api.port"], 9999)
}

func TestRedacted(t *testing.T) {
	all := loadedManager(t).Redacted()

	inputs := all["inputs"].([]interface{})
	conf := inputs[0].(map[string]interface{})["config"].(map[string]interface{})
	assert.Equal(t, "***", conf["token"])
	assert.Equal(t, "octo/repo", conf["repo"])
}

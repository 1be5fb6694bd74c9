package plugin

import (
	"testing"
	"time"

	"github.com/sliink/commitstream/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockCoreAPI implements model.CoreAPI for testing
type mockCoreAPI struct {
	publishEventCalled bool
	lastEventType      model.EventType
	lastSourceID       string
	lastData           interface{}
}

func (m *mockCoreAPI) PublishEvent(eventType model.EventType, sourceID string, data interface{}) {
	m.publishEventCalled = true
	m.lastEventType = eventType
	m.lastSourceID = sourceID
	m.lastData = data
}

func TestNewBasePlugin(t *testing.T) {
	t.Run("Creates plugin with correct properties", func(t *testing.T) {
		plugin := NewBasePlugin("test_id", "Test Plugin", model.InputPluginType)

		assert.Equal(t, "test_id", plugin.id)
		assert.Equal(t, "Test Plugin", plugin.name)
		assert.Equal(t, model.InputPluginType, plugin.pluginType)
		assert.Equal(t, model.StatusUninitialized, plugin.status)
		assert.NotNil(t, plugin.Config)
	})
}

func TestBasePluginAccessors(t *testing.T) {
	plugin := NewBasePlugin("test_id", "Test Plugin", model.ProcessorPluginType)

	t.Run("ID returns correct identifier", func(t *testing.T) {
		assert.Equal(t, "test_id", plugin.ID())
	})

	t.Run("Name returns correct name", func(t *testing.T) {
		assert.Equal(t, "Test Plugin", plugin.Name())
	})

	t.Run("GetType returns correct plugin type", func(t *testing.T) {
		assert.Equal(t, model.ProcessorPluginType, plugin.GetType())
	})

	t.Run("SetStatus updates status", func(t *testing.T) {
		plugin.SetStatus(model.StatusRunning)
		assert.Equal(t, model.StatusRunning, plugin.GetStatus())
	})
}

func TestBasePluginConfigure(t *testing.T) {
	plugin := NewBasePlugin("test_id", "Test Plugin", model.OutputPluginType)

	t.Run("Configure with nil config returns false", func(t *testing.T) {
		assert.False(t, plugin.Configure(nil))
	})

	t.Run("Configure with valid config returns true", func(t *testing.T) {
		config := map[string]interface{}{"format": "json"}
		assert.True(t, plugin.Configure(config))
		assert.Equal(t, config, plugin.Config)
	})
}

func TestBasePluginPublishEvent(t *testing.T) {
	plugin := NewBasePlugin("test_id", "Test Plugin", model.InputPluginType)

	t.Run("Without core is a no-op", func(t *testing.T) {
		plugin.PublishEvent(model.EventError, "boom")
	})

	t.Run("Forwards to core with plugin id", func(t *testing.T) {
		core := &mockCoreAPI{}
		assert.True(t, plugin.RegisterWithCore(core))

		plugin.PublishEvent(model.EventFetchFailed, "window")
		assert.True(t, core.publishEventCalled)
		assert.Equal(t, model.EventFetchFailed, core.lastEventType)
		assert.Equal(t, "test_id", core.lastSourceID)
		assert.Equal(t, "window", core.lastData)
	})
}

func TestDecodeConfig(t *testing.T) {
	type target struct {
		Repo         string        `mapstructure:"repo"`
		PageSize     int           `mapstructure:"page_size"`
		PollInterval time.Duration `mapstructure:"poll_interval"`
		MaxWindow    time.Duration `mapstructure:"max_window"`
		StartTime    time.Time     `mapstructure:"start_time"`
		Skip         bool          `mapstructure:"skip_malformed"`
		Fields       []string      `mapstructure:"fields"`
	}

	var out target
	err := DecodeConfig(map[string]interface{}{
		"repo":           "octo/repo",
		"page_size":      "50",
		"poll_interval":  "2s",
		"max_window":     1500,
		"start_time":     "2024-01-01T00:00:00Z",
		"skip_malformed": "true",
		"fields":         "id,author",
	}, &out)
	require.NoError(t, err)

	assert.Equal(t, target{
		Repo:         "octo/repo",
		PageSize:     50,
		PollInterval: 2 * time.Second,
		MaxWindow:    1500 * time.Millisecond,
		StartTime:    time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Skip:         true,
		Fields:       []string{"id", "author"},
	}, out)

	t.Run("Bad duration fails", func(t *testing.T) {
		var out target
		assert.Error(t, DecodeConfig(map[string]interface{}{"poll_interval": "soon"}, &out))
	})
}

type stubInput struct {
	BasePlugin
}

func TestCreatePlugins(t *testing.T) {
	factory := NewPluginFactory()
	factory.RegisterOutputPlugin("stub_out", func(id string) model.OutputPlugin { return nil })
	var created []string
	factory.RegisterProcessorPlugin("stub_proc", func(id string) model.ProcessorPlugin {
		created = append(created, id)
		return &stubProcessor{BasePlugin: NewBasePlugin(id, "Stub", model.ProcessorPluginType)}
	})

	t.Run("Creates and configures declared plugins", func(t *testing.T) {
		plugins, err := CreatePlugins(factory, Specs{
			Processors: []Spec{
				{ID: "p1", Type: "stub_proc", Config: map[string]interface{}{"k": "v"}},
				{ID: "p2", Type: "stub_proc"},
			},
		})
		require.NoError(t, err)
		require.Len(t, plugins, 2)
		assert.Equal(t, []string{"p1", "p2"}, created)
		assert.Equal(t, "v", plugins[0].(*stubProcessor).Config["k"])
		assert.NotNil(t, plugins[1].(*stubProcessor).Config)
	})

	t.Run("Unknown type fails", func(t *testing.T) {
		_, err := CreatePlugins(factory, Specs{Inputs: []Spec{{ID: "x", Type: "nope"}}})
		assert.ErrorContains(t, err, "unknown input plugin")
	})

	t.Run("Missing and duplicate ids fail", func(t *testing.T) {
		_, err := CreatePlugins(factory, Specs{Processors: []Spec{{Type: "stub_proc"}}})
		assert.Error(t, err)

		_, err = CreatePlugins(factory, Specs{Processors: []Spec{
			{ID: "dup", Type: "stub_proc"},
			{ID: "dup", Type: "stub_proc"},
		}})
		assert.ErrorContains(t, err, "duplicate")
	})

	t.Run("Names lists registered types", func(t *testing.T) {
		assert.Equal(t, []string{"stub_proc"}, factory.Names(model.ProcessorPluginType))
		assert.Equal(t, []string{"stub_out"}, factory.Names(model.OutputPluginType))
		assert.Empty(t, factory.Names(model.InputPluginType))
	})
}

type stubProcessor struct {
	BasePlugin
}

func (s *stubProcessor) Initialize() bool { return true }
func (s *stubProcessor) Start() bool      { return true }
func (s *stubProcessor) Stop() bool       { return true }
func (s *stubProcessor) Process(batch *model.DataBatch) (*model.DataBatch, error) {
	return batch, nil
}

func TestBasePluginExtension(t *testing.T) {
	t.Run("Can be embedded in derived plugin", func(t *testing.T) {
		derived := &stubInput{BasePlugin: NewBasePlugin("derived", "Derived Plugin", model.InputPluginType)}

		assert.Equal(t, "derived", derived.ID())
		assert.Equal(t, "Derived Plugin", derived.Name())
		assert.Equal(t, model.InputPluginType, derived.GetType())
	})
}

package standard

import (
	"testing"

	"github.com/sliink/commitstream/internal/model"
	"github.com/sliink/commitstream/internal/plugin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegister(t *testing.T) {
	factory := NewFactory()

	assert.Equal(t, []string{"github_commits"}, factory.Names(model.InputPluginType))
	assert.Equal(t, []string{"cel_filter", "path_filter"}, factory.Names(model.ProcessorPluginType))
	assert.Equal(t, []string{"file", "stdout"}, factory.Names(model.OutputPluginType))
}

func TestCreateFromSpecs(t *testing.T) {
	plugins, err := plugin.CreatePlugins(NewFactory(), plugin.Specs{
		Inputs:     []plugin.Spec{{ID: "commits", Type: "github_commits", Config: map[string]interface{}{"repo": "octo/repo"}}},
		Processors: []plugin.Spec{{ID: "authors", Type: "cel_filter", Config: map[string]interface{}{"expression": `author != "bot"`}}},
		Outputs:    []plugin.Spec{{ID: "console", Type: "stdout"}},
	})
	require.NoError(t, err)
	require.Len(t, plugins, 3)

	_, ok := plugins[0].(model.InputPlugin)
	assert.True(t, ok)
	_, ok = plugins[1].(model.ProcessorPlugin)
	assert.True(t, ok)
	_, ok = plugins[2].(model.OutputPlugin)
	assert.True(t, ok)

	for _, p := range plugins {
		assert.True(t, p.Validate(), p.ID())
	}
}

package plugin

import (
	"errors"
	"fmt"

	"github.com/sliink/commitstream/internal/model"
)

// Spec declares one plugin instance in the configuration
type Spec struct {
	ID     string                 `mapstructure:"id" json:"id"`
	Type   string                 `mapstructure:"type" json:"type"`
	Config map[string]interface{} `mapstructure:"config" json:"config,omitempty"`
}

// Specs groups the plugin declarations by kind
type Specs struct {
	Inputs     []Spec
	Processors []Spec
	Outputs    []Spec
}

// CreatePlugins creates and configures every declared plugin. Unlike a
// best-effort loader it fails on the first unknown type, missing id or
// rejected configuration.
func CreatePlugins(factory *PluginFactory, specs Specs) ([]model.Plugin, error) {
	if factory == nil {
		return nil, errors.New("plugin: nil factory")
	}

	var plugins []model.Plugin
	seen := make(map[string]bool)

	create := func(pluginType model.PluginType, list []Spec) error {
		for _, spec := range list {
			if spec.ID == "" {
				return fmt.Errorf("%s plugin of type %q has no id", pluginType, spec.Type)
			}
			if seen[spec.ID] {
				return fmt.Errorf("duplicate plugin id: %s", spec.ID)
			}
			seen[spec.ID] = true

			p, err := factory.CreatePlugin(pluginType, spec.Type, spec.ID)
			if err != nil {
				return err
			}

			conf := spec.Config
			if conf == nil {
				conf = make(map[string]interface{})
			}
			if !p.Configure(conf) {
				return fmt.Errorf("invalid configuration for plugin %s", spec.ID)
			}
			plugins = append(plugins, p)
		}
		return nil
	}

	if err := create(model.InputPluginType, specs.Inputs); err != nil {
		return nil, err
	}
	if err := create(model.ProcessorPluginType, specs.Processors); err != nil {
		return nil, err
	}
	if err := create(model.OutputPluginType, specs.Outputs); err != nil {
		return nil, err
	}
	return plugins, nil
}

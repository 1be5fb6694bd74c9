// Package standard registers the built-in plugins with a factory
package standard

import (
	"github.com/sliink/commitstream/internal/model"
	"github.com/sliink/commitstream/internal/plugin"
	"github.com/sliink/commitstream/internal/plugin/inputs"
	"github.com/sliink/commitstream/internal/plugin/outputs"
	"github.com/sliink/commitstream/internal/plugin/processors"
)

// Register adds every built-in plugin to factory
func Register(factory *plugin.PluginFactory) {
	factory.RegisterInputPlugin(inputs.CommitSourceType, func(id string) model.InputPlugin {
		return inputs.NewCommitSource(id)
	})

	factory.RegisterProcessorPlugin(processors.CELFilterType, func(id string) model.ProcessorPlugin {
		return processors.NewCELFilter(id)
	})
	factory.RegisterProcessorPlugin(processors.PathFilterType, func(id string) model.ProcessorPlugin {
		return processors.NewPathFilter(id)
	})

	factory.RegisterOutputPlugin(outputs.StdoutType, func(id string) model.OutputPlugin {
		return outputs.NewStdoutOutput(id)
	})
	factory.RegisterOutputPlugin(outputs.FileType, func(id string) model.OutputPlugin {
		return outputs.NewFileOutput(id)
	})
}

// NewFactory returns a factory with the built-in plugins registered
func NewFactory() *plugin.PluginFactory {
	factory := plugin.NewPluginFactory()
	Register(factory)
	return factory
}

package processors

import (
	"errors"
	"regexp"

	"github.com/sliink/commitstream/internal/model"
	"github.com/sliink/commitstream/internal/plugin"
)

// PathFilterType is the registered name of the path filter processor
const PathFilterType = "path_filter"

// PathFilter narrows the changed files of each record to those matching at
// least one include pattern and no exclude pattern
type PathFilter struct {
	plugin.BasePlugin
	include   []*regexp.Regexp
	exclude   []*regexp.Regexp
	dropEmpty bool
}

type pathFilterConfig struct {
	Include   []string `mapstructure:"include"`
	Exclude   []string `mapstructure:"exclude"`
	DropEmpty bool     `mapstructure:"drop_empty"`
}

// NewPathFilter creates a new path filter processor
func NewPathFilter(id string) *PathFilter {
	return &PathFilter{
		BasePlugin: plugin.NewBasePlugin(id, "Path Filter", model.ProcessorPluginType),
	}
}

// Initialize compiles the configured patterns
func (p *PathFilter) Initialize() bool {
	var cfg pathFilterConfig
	if err := p.DecodeConfig(&cfg); err != nil {
		p.Logger().Error("invalid path filter config", "error", err)
		return false
	}

	include, err := compileAll(cfg.Include)
	if err != nil {
		p.Logger().Error("invalid include pattern", "error", err)
		return false
	}
	exclude, err := compileAll(cfg.Exclude)
	if err != nil {
		p.Logger().Error("invalid exclude pattern", "error", err)
		return false
	}

	p.include = include
	p.exclude = exclude
	p.dropEmpty = cfg.DropEmpty
	p.SetStatus(model.StatusInitialized)
	return len(p.include)+len(p.exclude) > 0
}

func compileAll(patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, pat := range patterns {
		re, err := regexp.Compile(pat)
		if err != nil {
			return nil, err
		}
		out = append(out, re)
	}
	return out, nil
}

// Start begins filter operation
func (p *PathFilter) Start() bool {
	p.SetStatus(model.StatusRunning)
	return true
}

// Stop halts filter operation
func (p *PathFilter) Stop() bool {
	p.SetStatus(model.StatusStopped)
	return true
}

// Validate checks that at least one pattern is configured
func (p *PathFilter) Validate() bool {
	var cfg pathFilterConfig
	if err := p.DecodeConfig(&cfg); err != nil {
		return false
	}
	return len(cfg.Include)+len(cfg.Exclude) > 0
}

// Process filters the file changes of every record in the batch
func (p *PathFilter) Process(batch *model.DataBatch) (*model.DataBatch, error) {
	if batch == nil {
		return nil, errors.New("nil batch")
	}

	records := make([]model.Record, 0, len(batch.Records))
	for _, record := range batch.Records {
		files := make([]model.FileChange, 0, len(record.FilesChanged))
		for _, f := range record.FilesChanged {
			if p.keep(f.Filename) {
				files = append(files, f)
			}
		}
		if len(files) == 0 && p.dropEmpty {
			continue
		}
		record.FilesChanged = files
		records = append(records, record)
	}
	return batch.WithRecords(records), nil
}

func (p *PathFilter) keep(name string) bool {
	for _, re := range p.exclude {
		if re.MatchString(name) {
			return false
		}
	}
	if len(p.include) == 0 {
		return true
	}
	for _, re := range p.include {
		if re.MatchString(name) {
			return true
		}
	}
	return false
}

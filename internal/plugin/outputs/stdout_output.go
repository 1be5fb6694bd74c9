package outputs

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/sliink/commitstream/internal/model"
	"github.com/sliink/commitstream/internal/plugin"
)

// StdoutType is the registered name of the stdout output
const StdoutType = "stdout"

// StdoutOutput writes committed windows to standard output
type StdoutOutput struct {
	plugin.BasePlugin
	colorize bool
	format   string

	mu  sync.Mutex
	out io.Writer
}

type stdoutConfig struct {
	Colorize bool   `mapstructure:"colorize"`
	Format   string `mapstructure:"format"`
}

// NewStdoutOutput creates a new stdout output plugin
func NewStdoutOutput(id string) *StdoutOutput {
	return &StdoutOutput{
		BasePlugin: plugin.NewBasePlugin(id, "Stdout Output", model.OutputPluginType),
		format:     "text",
		out:        os.Stdout,
	}
}

// SetWriter redirects output, mostly for tests
func (s *StdoutOutput) SetWriter(w io.Writer) {
	s.mu.Lock()
	s.out = w
	s.mu.Unlock()
}

// Initialize prepares the stdout output for operation
func (s *StdoutOutput) Initialize() bool {
	cfg := stdoutConfig{Format: "text"}
	if err := s.DecodeConfig(&cfg); err != nil {
		s.Logger().Error("invalid stdout config", "error", err)
		return false
	}
	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Format != "text" && cfg.Format != "json" {
		s.Logger().Error("unsupported format", "format", cfg.Format)
		return false
	}

	s.colorize = cfg.Colorize
	s.format = cfg.Format
	s.SetStatus(model.StatusInitialized)
	return true
}

// Start begins stdout output operation
func (s *StdoutOutput) Start() bool {
	s.SetStatus(model.StatusRunning)
	return true
}

// Stop halts stdout output operation
func (s *StdoutOutput) Stop() bool {
	s.SetStatus(model.StatusStopped)
	return true
}

// Validate checks if the stdout output is properly configured
func (s *StdoutOutput) Validate() bool {
	var cfg stdoutConfig
	if err := s.DecodeConfig(&cfg); err != nil {
		return false
	}
	return cfg.Format == "" || cfg.Format == "text" || cfg.Format == "json"
}

// Send writes a batch in the configured format
func (s *StdoutOutput) Send(batch *model.DataBatch) error {
	if s.GetStatus() != model.StatusRunning {
		return errors.New("stdout output not running")
	}
	if batch == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var err error
	switch s.format {
	case "json":
		err = writeJSON(s.out, batch)
	default:
		err = writeText(s.out, batch, s.colorize)
	}
	if err != nil {
		return fmt.Errorf("stdout output: %w", err)
	}
	return nil
}

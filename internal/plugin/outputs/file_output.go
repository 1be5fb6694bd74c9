package outputs

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/sliink/commitstream/internal/model"
	"github.com/sliink/commitstream/internal/plugin"
)

// FileType is the registered name of the file output
const FileType = "file"

// FileOutput appends committed windows to a file as newline-delimited JSON.
// Every batch is flushed before Send returns.
type FileOutput struct {
	plugin.BasePlugin
	path  string
	fsync bool

	mu   sync.Mutex
	file *os.File
	buf  *bufio.Writer
}

type fileConfig struct {
	Path  string `mapstructure:"path"`
	Fsync bool   `mapstructure:"fsync"`
}

// NewFileOutput creates a new file output plugin
func NewFileOutput(id string) *FileOutput {
	return &FileOutput{
		BasePlugin: plugin.NewBasePlugin(id, "File Output", model.OutputPluginType),
	}
}

// Initialize reads the target path
func (f *FileOutput) Initialize() bool {
	var cfg fileConfig
	if err := f.DecodeConfig(&cfg); err != nil || cfg.Path == "" {
		f.Logger().Error("file output needs a path", "error", err)
		return false
	}
	f.path = cfg.Path
	f.fsync = cfg.Fsync
	f.SetStatus(model.StatusInitialized)
	return true
}

// Start opens the target file for appending
func (f *FileOutput) Start() bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.path == "" {
		return false
	}
	if f.file != nil {
		return true
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		f.Logger().Error("failed to create output directory", "path", f.path, "error", err)
		return false
	}
	file, err := os.OpenFile(f.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		f.Logger().Error("failed to open output file", "path", f.path, "error", err)
		return false
	}
	f.file = file
	f.buf = bufio.NewWriter(file)
	f.SetStatus(model.StatusRunning)
	return true
}

// Stop flushes and closes the file
func (f *FileOutput) Stop() bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.file == nil {
		f.SetStatus(model.StatusStopped)
		return true
	}
	err := errors.Join(f.buf.Flush(), f.file.Close())
	f.file, f.buf = nil, nil
	if err != nil {
		f.Logger().Error("failed to close output file", "path", f.path, "error", err)
		f.SetStatus(model.StatusError)
		return false
	}
	f.SetStatus(model.StatusStopped)
	return true
}

// Validate checks that a path is configured
func (f *FileOutput) Validate() bool {
	var cfg fileConfig
	return f.DecodeConfig(&cfg) == nil && cfg.Path != ""
}

// Send appends a batch and flushes it
func (f *FileOutput) Send(batch *model.DataBatch) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.file == nil {
		return errors.New("file output not running")
	}
	if batch == nil {
		return nil
	}
	if err := writeJSON(f.buf, batch); err != nil {
		return fmt.Errorf("file output: %w", err)
	}
	if err := f.buf.Flush(); err != nil {
		return fmt.Errorf("file output: %w", err)
	}
	if f.fsync {
		if err := f.file.Sync(); err != nil {
			return fmt.Errorf("file output: %w", err)
		}
	}
	return nil
}

// Path returns the configured target path
func (f *FileOutput) Path() string {
	return f.path
}

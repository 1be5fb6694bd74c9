package inputs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	gh "github.com/google/go-github/v66/github"
	"github.com/sliink/commitstream/internal/github"
	"github.com/sliink/commitstream/internal/model"
	"github.com/sliink/commitstream/internal/plugin"
	"github.com/sliink/commitstream/internal/poller"
)

// CommitSourceType is the registered name of the GitHub commit input
const CommitSourceType = "github_commits"

// DefaultTokenEnv is read when no token is configured
const DefaultTokenEnv = "GITHUB_TOKEN"

// CommitSourceConfig is the decoded configuration of a CommitSource
type CommitSourceConfig struct {
	Repo        string  `mapstructure:"repo"`
	Token       string  `mapstructure:"token"`
	TokenEnv    string  `mapstructure:"token_env"`
	BaseURL     string  `mapstructure:"base_url"`
	PageSize    int     `mapstructure:"page_size"`
	FileDetails *bool   `mapstructure:"file_details"`
	Concurrency int     `mapstructure:"concurrency"`
	RateLimit   float64 `mapstructure:"rate_limit"`

	StartTime     time.Time     `mapstructure:"start_time"`
	PollInterval  time.Duration `mapstructure:"poll_interval"`
	MaxWindow     time.Duration `mapstructure:"max_window"`
	FetchTimeout  time.Duration `mapstructure:"fetch_timeout"`
	MaxBackoff    time.Duration `mapstructure:"max_backoff"`
	SkipMalformed bool          `mapstructure:"skip_malformed"`
}

func (c CommitSourceConfig) engineConfig() poller.Config {
	return poller.Config{
		StartTime:     c.StartTime,
		PollInterval:  c.PollInterval,
		MaxWindow:     c.MaxWindow,
		FetchTimeout:  c.FetchTimeout,
		MaxBackoff:    c.MaxBackoff,
		SkipMalformed: c.SkipMalformed,
	}
}

func (c CommitSourceConfig) clientOptions() []github.Option {
	opts := []github.Option{
		github.WithPageSize(c.PageSize),
		github.WithConcurrency(c.Concurrency),
	}
	token := c.Token
	if token == "" {
		env := c.TokenEnv
		if env == "" {
			env = DefaultTokenEnv
		}
		token = os.Getenv(env)
	}
	if token != "" {
		opts = append(opts, github.WithToken(token))
	}
	if c.BaseURL != "" {
		opts = append(opts, github.WithBaseURL(c.BaseURL))
	}
	if c.FileDetails != nil {
		opts = append(opts, github.WithFileDetails(*c.FileDetails))
	}
	if c.RateLimit > 0 {
		opts = append(opts, github.WithRateLimit(c.RateLimit, 1))
	}
	return opts
}

// CommitSource polls the commit history of one GitHub repository
type CommitSource struct {
	plugin.BasePlugin
	cfg    CommitSourceConfig
	engine *poller.Engine[*gh.RepositoryCommit]
	sink   forwardSink
	clock  func() time.Time

	mu      sync.RWMutex
	windows int64
	lastErr error
}

// NewCommitSource creates a new GitHub commit input plugin
func NewCommitSource(id string) *CommitSource {
	return &CommitSource{
		BasePlugin: plugin.NewBasePlugin(id, "GitHub Commits", model.InputPluginType),
	}
}

// SetClock replaces the wall clock used for window planning. It must be
// called before Initialize.
func (s *CommitSource) SetClock(now func() time.Time) {
	s.clock = now
}

// Validate checks that a valid repository is configured
func (s *CommitSource) Validate() bool {
	var cfg CommitSourceConfig
	if err := s.DecodeConfig(&cfg); err != nil {
		return false
	}
	_, _, err := github.ParseRepo(cfg.Repo)
	return err == nil
}

// Initialize builds the GitHub client and the poll engine
func (s *CommitSource) Initialize() bool {
	if err := s.initialize(); err != nil {
		s.Logger().Error("failed to initialize commit source", "error", err)
		s.setErr(err)
		s.SetStatus(model.StatusError)
		return false
	}
	s.SetStatus(model.StatusInitialized)
	return true
}

func (s *CommitSource) initialize() error {
	if err := s.DecodeConfig(&s.cfg); err != nil {
		return err
	}

	logger := s.Logger()
	client, err := github.NewClient(s.cfg.Repo, append(s.cfg.clientOptions(), github.WithLogger(logger))...)
	if err != nil {
		return err
	}

	opts := []poller.Option{
		poller.WithSourceID(s.ID()),
		poller.WithLogger(logger),
		poller.WithListener(s),
	}
	if s.clock != nil {
		opts = append(opts, poller.WithClock(s.clock))
	}

	engine, err := poller.New[*gh.RepositoryCommit](client, github.Translator{}, &s.sink, s.cfg.engineConfig(), opts...)
	if err != nil {
		return err
	}
	s.engine = engine
	return nil
}

// Start marks the source as running. Polling begins with Run.
func (s *CommitSource) Start() bool {
	if s.engine == nil {
		return false
	}
	s.SetStatus(model.StatusRunning)
	return true
}

// Stop marks the source as stopped. Polling ends when the Run context is
// cancelled.
func (s *CommitSource) Stop() bool {
	if s.GetStatus() != model.StatusError {
		s.SetStatus(model.StatusStopped)
	}
	return true
}

// Run polls the repository until ctx is cancelled or a fatal error occurs
func (s *CommitSource) Run(ctx context.Context, sink model.Sink) error {
	if s.engine == nil {
		return errors.New("commit source not initialized")
	}
	if sink == nil {
		return errors.New("commit source: nil sink")
	}
	s.sink.target = sink

	err := s.engine.Run(ctx)
	if err != nil {
		s.setErr(err)
		s.SetStatus(model.StatusError)
		s.PublishEvent(model.EventError, err.Error())
	}
	return err
}

// Snapshot returns the cursor as a singleton list
func (s *CommitSource) Snapshot() []time.Time {
	if s.engine == nil {
		return nil
	}
	return s.engine.Snapshot()
}

// Restore resets the cursor before Run
func (s *CommitSource) Restore(state []time.Time) error {
	if s.engine == nil {
		return errors.New("commit source not initialized")
	}
	return s.engine.Restore(state)
}

// Cursor returns the current cursor
func (s *CommitSource) Cursor() time.Time {
	if s.engine == nil {
		return time.Time{}
	}
	return s.engine.Cursor()
}

// State returns the poll loop state
func (s *CommitSource) State() string {
	if s.engine == nil {
		return string(poller.StateIdle)
	}
	return string(s.engine.State())
}

// Dropped returns the number of malformed commits skipped
func (s *CommitSource) Dropped() int64 {
	if s.engine == nil {
		return 0
	}
	return s.engine.Dropped()
}

// Windows returns the number of committed windows
func (s *CommitSource) Windows() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.windows
}

// Err returns the last fatal error, if any
func (s *CommitSource) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastErr
}

// WindowCommitted implements poller.Listener
func (s *CommitSource) WindowCommitted(w poller.Window, records int) {
	s.mu.Lock()
	s.windows++
	s.mu.Unlock()
}

// FetchFailed implements poller.Listener
func (s *CommitSource) FetchFailed(w poller.Window, err error) {
	s.PublishEvent(model.EventFetchFailed, map[string]interface{}{
		"since": w.Since,
		"until": w.Until,
		"error": err.Error(),
	})
}

func (s *CommitSource) setErr(err error) {
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
}

// forwardSink lets the engine be built before the host supplies its sink
type forwardSink struct {
	target model.Sink
}

func (f *forwardSink) Emit(record model.Record, ts int64) error {
	if f.target == nil {
		return fmt.Errorf("no sink attached")
	}
	return f.target.Emit(record, ts)
}

func (f *forwardSink) AdvanceWatermark(ts int64) error {
	if f.target == nil {
		return fmt.Errorf("no sink attached")
	}
	return f.target.AdvanceWatermark(ts)
}

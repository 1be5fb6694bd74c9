// Package github fetches repository commit history from the GitHub REST API
// and translates it into records.
package github

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	gh "github.com/google/go-github/v66/github"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

const (
	// DefaultPageSize is the number of commits requested per page
	DefaultPageSize = 100
	// MaxPageSize is the largest page the API serves
	MaxPageSize = 100
	// DefaultConcurrency bounds parallel commit detail requests
	DefaultConcurrency = 4
)

// ErrInvalidRepo is returned for repository names not of the form owner/name
var ErrInvalidRepo = errors.New("github: repository must be owner/name")

// ParseRepo splits "owner/name"
func ParseRepo(full string) (owner, name string, err error) {
	owner, name, ok := strings.Cut(strings.TrimSpace(full), "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidRepo, full)
	}
	return owner, name, nil
}

// Option configures a Client
type Option func(*clientOptions)

type clientOptions struct {
	token       string
	baseURL     string
	httpClient  *http.Client
	pageSize    int
	fileDetails bool
	concurrency int
	limiter     *rate.Limiter
	logger      *slog.Logger
}

// WithToken authenticates requests with a personal access token
func WithToken(token string) Option {
	return func(o *clientOptions) { o.token = token }
}

// WithBaseURL points the client at a GitHub Enterprise or test server
func WithBaseURL(base string) Option {
	return func(o *clientOptions) { o.baseURL = base }
}

// WithHTTPClient sets the underlying HTTP client
func WithHTTPClient(c *http.Client) Option {
	return func(o *clientOptions) { o.httpClient = c }
}

// WithPageSize sets the page size, capped at MaxPageSize
func WithPageSize(n int) Option {
	return func(o *clientOptions) { o.pageSize = n }
}

// WithFileDetails controls whether per-commit file changes are loaded
func WithFileDetails(enabled bool) Option {
	return func(o *clientOptions) { o.fileDetails = enabled }
}

// WithConcurrency bounds parallel commit detail requests
func WithConcurrency(n int) Option {
	return func(o *clientOptions) { o.concurrency = n }
}

// WithRateLimit throttles outgoing requests to rps with the given burst
func WithRateLimit(rps float64, burst int) Option {
	return func(o *clientOptions) {
		if rps > 0 {
			if burst < 1 {
				burst = 1
			}
			o.limiter = rate.NewLimiter(rate.Limit(rps), burst)
		}
	}
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(o *clientOptions) { o.logger = l }
}

// Client lists the commits of one repository
type Client struct {
	gh          *gh.Client
	owner       string
	repo        string
	pageSize    int
	fileDetails bool
	concurrency int
	limiter     *rate.Limiter
	logger      *slog.Logger
}

// NewClient creates a client for repo ("owner/name")
func NewClient(repo string, opts ...Option) (*Client, error) {
	owner, name, err := ParseRepo(repo)
	if err != nil {
		return nil, err
	}

	o := clientOptions{
		pageSize:    DefaultPageSize,
		fileDetails: true,
		concurrency: DefaultConcurrency,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.pageSize <= 0 || o.pageSize > MaxPageSize {
		o.pageSize = DefaultPageSize
	}
	if o.concurrency <= 0 {
		o.concurrency = DefaultConcurrency
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	client := gh.NewClient(o.httpClient)
	if o.token != "" {
		client = client.WithAuthToken(o.token)
	}
	if o.baseURL != "" {
		base := o.baseURL
		if !strings.HasSuffix(base, "/") {
			base += "/"
		}
		u, err := url.Parse(base)
		if err != nil {
			return nil, fmt.Errorf("github: invalid base url: %w", err)
		}
		client.BaseURL = u
	}

	return &Client{
		gh:          client,
		owner:       owner,
		repo:        name,
		pageSize:    o.pageSize,
		fileDetails: o.fileDetails,
		concurrency: o.concurrency,
		limiter:     o.limiter,
		logger:      o.logger.With("component", "github", "repo", repo),
	}, nil
}

// Repo returns "owner/name"
func (c *Client) Repo() string {
	return c.owner + "/" + c.repo
}

// ListEvents returns every commit whose committer date lies in
// [since, until), oldest first. All pages are drained before it returns.
func (c *Client) ListEvents(ctx context.Context, since, until time.Time) ([]*gh.RepositoryCommit, error) {
	opts := &gh.CommitsListOptions{
		Since:       since,
		Until:       until,
		ListOptions: gh.ListOptions{PerPage: c.pageSize},
	}

	var commits []*gh.RepositoryCommit
	pages := 0
	for {
		if err := c.wait(ctx); err != nil {
			return nil, err
		}
		page, resp, err := c.gh.Repositories.ListCommits(ctx, c.owner, c.repo, opts)
		if err != nil {
			return nil, fmt.Errorf("list commits page %d: %w", pages+1, err)
		}
		pages++

		for _, rc := range page {
			// until is inclusive on the API side
			if date := CommitDate(rc); !date.IsZero() && (date.Before(since) || !date.Before(until)) {
				continue
			}
			commits = append(commits, rc)
		}

		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	if c.fileDetails {
		if err := c.loadDetails(ctx, commits); err != nil {
			return nil, err
		}
	}

	sort.SliceStable(commits, func(i, j int) bool {
		return CommitDate(commits[i]).Before(CommitDate(commits[j]))
	})

	c.logger.Debug("commits listed",
		"since", since, "until", until, "pages", pages, "commits", len(commits))
	return commits, nil
}

// loadDetails fills in file changes, which the list endpoint omits
func (c *Client) loadDetails(ctx context.Context, commits []*gh.RepositoryCommit) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)

	for i, rc := range commits {
		sha := rc.GetSHA()
		if rc.Files != nil || sha == "" {
			continue
		}
		g.Go(func() error {
			if err := c.wait(ctx); err != nil {
				return err
			}
			full, _, err := c.gh.Repositories.GetCommit(ctx, c.owner, c.repo, sha, nil)
			if err != nil {
				return fmt.Errorf("get commit %s: %w", sha, err)
			}
			commits[i].Files = full.Files
			if commits[i].Files == nil {
				commits[i].Files = []*gh.CommitFile{}
			}
			if commits[i].Author == nil {
				commits[i].Author = full.Author
			}
			return nil
		})
	}
	return g.Wait()
}

func (c *Client) wait(ctx context.Context) error {
	if c.limiter == nil {
		return ctx.Err()
	}
	return c.limiter.Wait(ctx)
}

// CommitDate returns the committer date, falling back to the author date
func CommitDate(rc *gh.RepositoryCommit) time.Time {
	commit := rc.GetCommit()
	if d := commit.GetCommitter().GetDate(); !d.IsZero() {
		return d.Time
	}
	return commit.GetAuthor().GetDate().Time
}

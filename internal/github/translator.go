package github

import (
	"errors"
	"fmt"

	gh "github.com/google/go-github/v66/github"
	"github.com/sliink/commitstream/internal/model"
)

// ErrMalformedCommit is returned for commits that cannot become a record
var ErrMalformedCommit = errors.New("github: malformed commit")

// Translator maps API commits to records. It is pure and safe for
// concurrent use.
type Translator struct{}

// Translate converts one commit
func (Translator) Translate(rc *gh.RepositoryCommit) (model.Record, error) {
	if rc == nil || rc.Commit == nil {
		return model.Record{}, fmt.Errorf("%w: missing commit payload", ErrMalformedCommit)
	}
	sha := rc.GetSHA()
	if sha == "" {
		return model.Record{}, fmt.Errorf("%w: missing sha", ErrMalformedCommit)
	}
	ts := CommitDate(rc)
	if ts.IsZero() {
		return model.Record{}, fmt.Errorf("%w: commit %s has no date", ErrMalformedCommit, sha)
	}

	files := make([]model.FileChange, 0, len(rc.Files))
	for _, f := range rc.Files {
		if f == nil {
			continue
		}
		files = append(files, model.FileChange{
			Filename:     f.GetFilename(),
			LinesChanged: f.GetChanges(),
		})
	}

	return model.Record{
		ID:           sha,
		Timestamp:    ts.UTC(),
		Author:       authorName(rc),
		FilesChanged: files,
	}, nil
}

// authorName prefers the profile name of the linked account, then its login
func authorName(rc *gh.RepositoryCommit) string {
	user := rc.GetAuthor()
	if name := user.GetName(); name != "" {
		return name
	}
	if login := user.GetLogin(); login != "" {
		return login
	}
	return model.UnknownAuthor
}

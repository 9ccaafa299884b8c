// Package gitversion classifies the nitter commits instances report against
// the upstream repository: current, outdated, custom branch or unknown.
package gitversion

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/storer"
)

const (
	remoteName  = "origin"
	cloneFolder = "nitter_version_clone"
)

// CommitInfo is the classification of a single commit against the upstream
// branch.
type CommitInfo int

const (
	// UnknownCommit is a commit that cannot be resolved in the upstream repo.
	UnknownCommit CommitInfo = iota
	// Current is the upstream branch tip.
	Current
	// Outdated is an ancestor of the upstream branch tip.
	Outdated
	// CustomBranch resolves upstream but is not on the tracked branch.
	CustomBranch
	// Missing means no version information was available at all.
	Missing
)

func (c CommitInfo) String() string {
	switch c {
	case Current:
		return "Current"
	case Outdated:
		return "Outdated"
	case CustomBranch:
		return "CustomBranch"
	case Missing:
		return "Missing"
	default:
		return "UnknownCommit"
	}
}

// MarshalJSON serializes the state by name for the read API.
func (c CommitInfo) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

// IsUpstream reports whether the commit lives on the tracked upstream branch.
func (c CommitInfo) IsUpstream() bool {
	return c == Current || c == Outdated
}

// IsLatestVersion reports whether the commit is the upstream branch tip.
func (c CommitInfo) IsLatestVersion() bool {
	return c == Current
}

// Engine keeps a bare clone of the upstream repository and a generational
// commit classification cache. It is not safe for concurrent use; the scanner
// holds exclusive access.
type Engine struct {
	repo      *git.Repository
	sourceURL string
	branch    string
	cache     *commitCache
}

// New opens (or initializes) a bare repository under scratchFolder and
// performs an initial remote fetch.
func New(scratchFolder, sourceURL, branch string) (*Engine, error) {
	path := filepath.Join(scratchFolder, cloneFolder)
	repo, err := git.PlainOpen(path)
	if err != nil {
		repo, err = git.PlainInit(path, true)
		if err != nil {
			return nil, fmt.Errorf("initializing version clone at %s: %w", path, err)
		}
	}

	e := &Engine{
		repo:      repo,
		sourceURL: sourceURL,
		branch:    branch,
		cache:     newCommitCache(),
	}
	if err := e.UpdateRemote(); err != nil {
		return nil, err
	}
	return e, nil
}

// UpdateRemote fetches the upstream branches and advances the cache
// generation. A changed source URL rewrites the remote first.
func (e *Engine) UpdateRemote() error {
	e.cache.cycle()

	remote, err := e.repo.Remote(remoteName)
	switch {
	case err == nil:
		if urls := remote.Config().URLs; len(urls) == 0 || urls[0] != e.sourceURL {
			if err := e.repo.DeleteRemote(remoteName); err != nil {
				return fmt.Errorf("replacing remote %s: %w", remoteName, err)
			}
			remote = nil
		}
	case errors.Is(err, git.ErrRemoteNotFound):
		remote = nil
	default:
		return fmt.Errorf("looking up remote %s: %w", remoteName, err)
	}
	if remote == nil {
		remote, err = e.repo.CreateRemote(&config.RemoteConfig{
			Name: remoteName,
			URLs: []string{e.sourceURL},
		})
		if err != nil {
			return fmt.Errorf("creating remote %s: %w", remoteName, err)
		}
	}

	err = remote.Fetch(&git.FetchOptions{
		RefSpecs: []config.RefSpec{"+refs/heads/*:refs/heads/*"},
		Force:    true,
	})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return fmt.Errorf("fetching %s: %w", e.sourceURL, err)
	}
	return nil
}

// LatestCommit returns the id of the tracked branch tip.
func (e *Engine) LatestCommit() (string, error) {
	tip, err := e.branchTip()
	if err != nil {
		return "", err
	}
	return tip.String(), nil
}

// CheckURL classifies the commit a version URL points at, using the last
// path segment as the sha.
func (e *Engine) CheckURL(url string) (CommitInfo, error) {
	sha := url[strings.LastIndex(url, "/")+1:]
	if sha == "" {
		return UnknownCommit, nil
	}
	return e.CheckCommit(sha)
}

// CheckCommit classifies a commit sha, short or full length.
func (e *Engine) CheckCommit(sha string) (CommitInfo, error) {
	if result, ok := e.cache.get(sha); ok {
		return result, nil
	}
	result, err := e.classify(sha)
	if err != nil {
		return UnknownCommit, err
	}
	e.cache.put(sha, result)
	return result, nil
}

func (e *Engine) classify(sha string) (CommitInfo, error) {
	hash, err := e.repo.ResolveRevision(plumbing.Revision(sha))
	if err != nil {
		return UnknownCommit, nil
	}

	tip, err := e.branchTip()
	if err != nil {
		return UnknownCommit, err
	}
	if tip == *hash {
		return Current, nil
	}

	commit, err := e.repo.CommitObject(tip)
	if err != nil {
		return UnknownCommit, fmt.Errorf("reading branch tip %s: %w", tip, err)
	}
	found := false
	iter := object.NewCommitPreorderIter(commit, nil, nil)
	err = iter.ForEach(func(c *object.Commit) error {
		if c.Hash == *hash {
			found = true
			return storer.ErrStop
		}
		return nil
	})
	if err != nil {
		return UnknownCommit, fmt.Errorf("walking branch history: %w", err)
	}
	if found {
		return Outdated, nil
	}
	return CustomBranch, nil
}

func (e *Engine) branchTip() (plumbing.Hash, error) {
	ref, err := e.repo.Reference(plumbing.NewBranchReferenceName(e.branch), true)
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("resolving branch %s: %w", e.branch, err)
	}
	return ref.Hash(), nil
}

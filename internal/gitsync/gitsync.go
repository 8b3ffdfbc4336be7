// gitsync package implements Git synchronization. It maintains a local working copy for each configured
// repository, checked out at the configured reference, and pushes commits made on top of it. This package
// implements no threadpooling, it is expected that the caller will handle concurrency and parallelism.
// The Synchronizer is not thread-safe.
package gitsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/protocol/packp/capability"
	"github.com/go-git/go-git/v5/plumbing/transport"

	"github.com/repotend/repotend/internal/config"
	"github.com/repotend/repotend/internal/metrics"
)

// configFile is an internal config file used to track if a git repository
// can be re-used or needs to be wiped.
const configFile = "repotendconfig"

const remote = "origin"

func init() {
	// For Azure DevOps compatibility. More details: https://github.com/go-git/go-git/issues/64
	transport.UnsupportedCapabilities = []capability.Capability{
		capability.ThinPack,
	}
}

// ErrNotBranch is returned by Push when the configured reference is not a branch.
var ErrNotBranch = errors.New("push requires a branch reference")

// Synchronizer manages the synchronization of a Git repository to the local filesystem.
// It handles cloning, fetching, checking out specific references or commits and pushing.
type Synchronizer struct {
	path   string
	config config.Git
	apps   *GitHubApps
	name   string
}

// New creates a new Synchronizer instance. It is expected the threadpooling is outside of this package.
// The synchronizer does not validate the path holds the same repository as the config. Therefore, the caller
// should guarantee that the path is unique for each repository and that the path is not used by multiple
// Synchronizer instances. If the path does not exist, it will be created.
func New(path string, config config.Git, name string) *Synchronizer {
	return &Synchronizer{path: path, config: config, name: name}
}

// WithGitHubApps shares a GitHub App transport cache between synchronizers.
func (s *Synchronizer) WithGitHubApps(apps *GitHubApps) *Synchronizer {
	s.apps = apps
	return s
}

func (s *Synchronizer) Path() string {
	return s.path
}

// Execute performs the synchronization of the configured Git repository. If the repository does not exist
// on disk, clone it. If it does exist, fetch the latest changes and force the local branch onto the remote
// branch, discarding local changes.
func (s *Synchronizer) Execute(ctx context.Context) error {
	startTime := time.Now()

	done, err := s.execute(ctx)
	if err != nil {
		metrics.GitSyncFailed(s.name, s.config.Repo)
		return fmt.Errorf("%s: git synchronizer: %v: %w", s.name, s.config.Repo, err)
	}
	if done {
		metrics.GitSyncSucceeded(s.name, s.config.Repo, startTime)
	}
	return nil
}

func (s *Synchronizer) execute(ctx context.Context) (bool, error) {
	var repository *git.Repository
	var fetched bool
	if s.config.Commit == nil && s.config.Reference == nil {
		return false, errors.New("either reference or commit must be set in git configuration")
	}

	var referenceName plumbing.ReferenceName
	if s.config.Reference != nil {
		referenceName = fullReferenceName(*s.config.Reference)
	}

	// A configuration change may necessitate wiping an earlier clone: in particular, re-cloning
	// is the easiest option if the repository URL has changed. For simplicity, follow the same
	// logic with any config change EXCEPT for credentials. That's because it's harder to do, the
	// resolved file alone won't have the secrets, only their names.

	if data, err := os.ReadFile(filepath.Join(s.path, ".git", configFile)); err == nil {
		config := config.Git{
			Credentials: s.config.Credentials,
		}
		if err := json.Unmarshal(data, &config); err != nil || !config.Equal(&s.config) {
			if err := os.RemoveAll(s.path); err != nil {
				return false, err
			}
		}
	} else if !os.IsNotExist(err) {
		return false, err
	}

	var authMethod transport.AuthMethod

	repository, err := git.PlainOpen(s.path)
	if errors.Is(err, git.ErrRepositoryNotExists) { // does not exist? clone it
		authMethod, err = s.auth(ctx)
		if err != nil {
			return false, err
		}

		fetched = true
		repository, err = git.PlainCloneContext(ctx, s.path, false, &git.CloneOptions{
			URL:           s.config.Repo,
			Auth:          authMethod,
			ReferenceName: referenceName,
			SingleBranch:  true,
			NoCheckout:    true, // We will checkout later
		})
		if err != nil {
			return false, err
		}

		data, err := json.Marshal(s.config)
		if err != nil {
			return false, err
		}
		if err := os.WriteFile(filepath.Join(s.path, ".git", configFile), data, 0644); err != nil {
			return false, err
		}
	} else if err != nil { // other errors are bubbled up
		return false, err
	}

	w, err := repository.Worktree()
	if err != nil {
		return false, err
	}

	if s.config.Commit != nil {
		opts := &git.CheckoutOptions{
			Force: true,
			Hash:  plumbing.NewHash(*s.config.Commit),
		}
		if w.Checkout(opts) == nil { // success! nothing further to do
			return fetched, nil
		}
	}

	// If we couldn't check out the hash, we're using a branch or tag reference,
	// or we have not checked out anything yet. Either way, we'll need to fetch
	// and checkout.

	if authMethod == nil {
		authMethod, err = s.auth(ctx)
		if err != nil {
			return false, err
		}
	}

	fetched = true
	if err := repository.FetchContext(ctx, &git.FetchOptions{
		RemoteName: remote,
		Auth:       authMethod,
		Force:      true,
		RefSpecs: []gitconfig.RefSpec{
			gitconfig.RefSpec(fmt.Sprintf("+refs/heads/*:refs/remotes/%s/refs/heads/*", remote)),
			gitconfig.RefSpec(fmt.Sprintf("+refs/tags/*:refs/remotes/%s/refs/tags/*", remote)),
		},
	}); err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return false, err
	}

	opts := &git.CheckoutOptions{
		Force: true, // Discard any local changes
	}
	switch {
	case s.config.Reference != nil:
		upstream, err := repository.Reference(remoteReferenceName(referenceName), true)
		if err != nil {
			return false, fmt.Errorf("reference %s: %w", referenceName, err)
		}

		// Branches get a local branch forced onto the remote head, so that
		// commits made on top of the checkout can be pushed back. Tags are
		// checked out detached.
		if referenceName.IsBranch() {
			if err := repository.Storer.SetReference(plumbing.NewHashReference(referenceName, upstream.Hash())); err != nil {
				return false, err
			}
			opts.Branch = referenceName
		} else {
			opts.Hash = upstream.Hash()
		}
	case s.config.Commit != nil:
		opts.Hash = plumbing.NewHash(*s.config.Commit)
	}

	return fetched, w.Checkout(opts)
}

// Push pushes the local branch to the remote branch it was checked out from.
// A remote that is already up to date is not an error.
func (s *Synchronizer) Push(ctx context.Context) error {
	startTime := time.Now()

	if err := s.push(ctx); err != nil {
		metrics.GitSyncFailed(s.name, s.config.Repo)
		return fmt.Errorf("%s: git push: %v: %w", s.name, s.config.Repo, err)
	}

	metrics.GitSyncSucceeded(s.name, s.config.Repo, startTime)
	return nil
}

func (s *Synchronizer) push(ctx context.Context) error {
	if s.config.Reference == nil {
		return ErrNotBranch
	}

	ref := fullReferenceName(*s.config.Reference)
	if !ref.IsBranch() {
		return ErrNotBranch
	}

	repository, err := git.PlainOpen(s.path)
	if err != nil {
		return err
	}

	authMethod, err := s.auth(ctx)
	if err != nil {
		return err
	}

	err = repository.PushContext(ctx, &git.PushOptions{
		RemoteName: remote,
		Auth:       authMethod,
		RefSpecs:   []gitconfig.RefSpec{gitconfig.RefSpec(fmt.Sprintf("%[1]s:%[1]s", ref))},
	})
	if errors.Is(err, git.NoErrAlreadyUpToDate) {
		return nil
	}
	return err
}

// Close closes the synchronizer and releases any resources.
func (*Synchronizer) Close(context.Context) {
	// No resources to close.
}

// fullReferenceName accepts both "refs/heads/main" and the short "main",
// which is taken to be a branch.
func fullReferenceName(ref string) plumbing.ReferenceName {
	if strings.HasPrefix(ref, "refs/") {
		return plumbing.ReferenceName(ref)
	}
	return plumbing.NewBranchReferenceName(ref)
}

func remoteReferenceName(ref plumbing.ReferenceName) plumbing.ReferenceName {
	return plumbing.ReferenceName(fmt.Sprintf("refs/remotes/%s/%s", remote, ref))
}

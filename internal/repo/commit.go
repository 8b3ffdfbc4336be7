package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/format/index"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/repotend/repotend/internal/config"
)

// ErrNothingToCommit is returned when none of the listed paths changed.
var ErrNothingToCommit = errors.New("nothing to commit")

// GitCommitter stages and commits paths in a target's working copy.
type GitCommitter struct {
	author config.Author
	now    func() time.Time
	commit func(*git.Worktree, string, *git.CommitOptions) (plumbing.Hash, error)
}

func NewGitCommitter(author config.Author) *GitCommitter {
	return &GitCommitter{author: author, now: time.Now, commit: (*git.Worktree).Commit}
}

// Commit stages the given paths, in order, and records a commit with msg.
// If the commit fails the paths are unstaged again, so the index matches HEAD.
func (c *GitCommitter) Commit(_ context.Context, t *Target, paths []string, msg string) error {
	r, err := git.PlainOpen(t.Dir)
	if err != nil {
		return fmt.Errorf("%s: open repository: %w", t.Name, err)
	}

	w, err := r.Worktree()
	if err != nil {
		return fmt.Errorf("%s: worktree: %w", t.Name, err)
	}

	for _, p := range paths {
		if _, err := w.Add(p); err != nil {
			return fmt.Errorf("%s: stage %s: %w", t.Name, p, err)
		}
	}

	status, err := w.Status()
	if err != nil {
		return fmt.Errorf("%s: status: %w", t.Name, err)
	}

	staged := false
	for _, p := range paths {
		if s := status.File(p); s.Staging != git.Unmodified && s.Staging != git.Untracked {
			staged = true
			break
		}
	}
	if !staged {
		return fmt.Errorf("%s: %w", t.Name, ErrNothingToCommit)
	}

	if _, err := c.commit(w, msg, &git.CommitOptions{
		Author: &object.Signature{
			Name:  c.author.Name,
			Email: c.author.Email,
			When:  c.now(),
		},
	}); err != nil {
		err = fmt.Errorf("%s: commit: %w", t.Name, err)
		if uerr := unstage(r, w, paths); uerr != nil {
			return errors.Join(err, fmt.Errorf("%s: unstage: %w", t.Name, uerr))
		}
		return err
	}

	return nil
}

// unstage resets the index entries of paths to HEAD. Without a HEAD the
// entries are dropped.
func unstage(r *git.Repository, w *git.Worktree, paths []string) error {
	_, err := r.Head()
	switch {
	case errors.Is(err, plumbing.ErrReferenceNotFound):
		idx, err := r.Storer.Index()
		if err != nil {
			return err
		}
		for _, p := range paths {
			if _, err := idx.Remove(p); err != nil && !errors.Is(err, index.ErrEntryNotFound) {
				return err
			}
		}
		return r.Storer.SetIndex(idx)
	case err != nil:
		return err
	}

	return w.Restore(&git.RestoreOptions{Staged: true, Files: paths})
}

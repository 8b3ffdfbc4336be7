package templatesync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/akedrou/textdiff"

	"github.com/repotend/repotend/internal/repo"
)

// Outcome is the result of one synchronization.
type Outcome int

const (
	Unchanged Outcome = iota
	Created
	Updated
)

func (o Outcome) String() string {
	switch o {
	case Created:
		return "created"
	case Updated:
		return "updated"
	default:
		return "unchanged"
	}
}

// CommitMessage returns the message recorded for a created or updated artifact.
func CommitMessage(o Outcome, artifact string) string {
	if o == Created {
		return "[skip ci] Create " + artifact
	}
	return "[skip ci] Update " + artifact
}

// Committer records changed paths, relative to the repository root, as one
// commit.
type Committer interface {
	Commit(ctx context.Context, t *repo.Target, paths []string, msg string) error
}

// Emitter acts on a rendered artifact that differs from the prior file.
type Emitter interface {
	Emit(ctx context.Context, t *repo.Target, artifact string, prior Prior, rendered string) (Outcome, error)
}

func outcomeOf(prior Prior) Outcome {
	if prior.Existed {
		return Updated
	}
	return Created
}

// CommitEmitter overwrites the artifact and commits it. When the commit
// fails the previous file state is restored, so the working tree never
// holds an uncommitted artifact.
type CommitEmitter struct {
	committer Committer
}

func NewCommitEmitter(c Committer) *CommitEmitter {
	return &CommitEmitter{committer: c}
}

func (e *CommitEmitter) Emit(ctx context.Context, t *repo.Target, artifact string, prior Prior, rendered string) (Outcome, error) {
	outcome := outcomeOf(prior)
	path := t.Path(artifact)

	if err := os.WriteFile(path, []byte(rendered), 0644); err != nil {
		return Unchanged, err
	}

	if err := e.committer.Commit(ctx, t, []string{artifact}, CommitMessage(outcome, artifact)); err != nil {
		if rerr := restore(path, prior); rerr != nil {
			return Unchanged, errors.Join(err, rerr)
		}
		return Unchanged, err
	}

	return outcome, nil
}

func restore(path string, prior Prior) error {
	if !prior.Existed {
		if err := os.Remove(path); err != nil {
			return fmt.Errorf("rollback: %w", err)
		}
		return nil
	}
	if err := os.WriteFile(path, []byte(prior.Content), 0644); err != nil {
		return fmt.Errorf("rollback: %w", err)
	}
	return nil
}

// DiffEmitter prints a unified diff of the change instead of writing it.
// It is safe for concurrent use.
type DiffEmitter struct {
	mu  sync.Mutex
	out io.Writer
}

func NewDiffEmitter(out io.Writer) *DiffEmitter {
	return &DiffEmitter{out: out}
}

func (e *DiffEmitter) Emit(_ context.Context, t *repo.Target, artifact string, prior Prior, rendered string) (Outcome, error) {
	outcome := outcomeOf(prior)

	oldLabel := "a/" + artifact
	if !prior.Existed {
		oldLabel = "/dev/null"
	}
	diff := textdiff.Unified(oldLabel, "b/"+artifact, prior.Content, rendered)

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, err := fmt.Fprintf(e.out, "# %s: %s\n%s", t.Name, CommitMessage(outcome, artifact), diff); err != nil {
		return Unchanged, err
	}
	return outcome, nil
}

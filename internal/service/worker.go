package service

import (
	"cmp"
	"context"
	"errors"
	"sync"
	"time"

	"github.com/repotend/repotend/internal/config"
	"github.com/repotend/repotend/internal/history"
	"github.com/repotend/repotend/internal/logging"
	"github.com/repotend/repotend/internal/metrics"
	"github.com/repotend/repotend/internal/passes"
	"github.com/repotend/repotend/internal/progress"
	"github.com/repotend/repotend/internal/repo"
)

var (
	defaultInterval = time.Duration(config.DefaultInterval)
	errorInterval   = 30 * time.Second
)

// RepoWorker maintains one repository. Each iteration synchronizes the
// working copy with its remote, runs the selected passes in order and pushes
// the resulting commits.
type RepoWorker struct {
	target     *repo.Target
	sync       Synchronizer
	passes     []passes.Pass
	push       bool
	ledger     *history.Ledger
	canonical  sync.Locker
	changed    chan struct{}
	done       chan struct{}
	singleShot bool
	log        *logging.Logger
	bar        *progress.Bar
	mu         sync.Mutex
	status     Status
	interval   time.Duration
}

// Synchronizer keeps a working copy in step with its remote.
type Synchronizer interface {
	Execute(ctx context.Context) error
	Push(ctx context.Context) error
	Close(ctx context.Context)
}

func NewRepoWorker(target *repo.Target, ps []passes.Pass, logger *logging.Logger, bar *progress.Bar) *RepoWorker {
	return &RepoWorker{
		target:    target,
		passes:    ps,
		log:       logger,
		bar:       bar,
		canonical: &sync.Mutex{},
		changed:   make(chan struct{}), done: make(chan struct{}),
		interval: defaultInterval,
	}
}

// WithSynchronizer sets the synchronizer of a repository cloned from a
// remote. Without one the working copy is used as is and nothing is pushed.
func (w *RepoWorker) WithSynchronizer(s Synchronizer) *RepoWorker {
	w.sync = s
	return w
}

func (w *RepoWorker) WithPush(push bool) *RepoWorker {
	w.push = push
	return w
}

func (w *RepoWorker) WithHistory(ledger *history.Ledger) *RepoWorker {
	w.ledger = ledger
	return w
}

// WithCanonicalLock sets the lock held while passes read canonical sources.
func (w *RepoWorker) WithCanonicalLock(l sync.Locker) *RepoWorker {
	w.canonical = l
	return w
}

func (w *RepoWorker) WithSingleShot(singleShot bool) *RepoWorker {
	w.singleShot = singleShot
	return w
}

func (w *RepoWorker) WithInterval(d time.Duration) *RepoWorker {
	w.interval = cmp.Or(d, defaultInterval)
	return w
}

func (w *RepoWorker) Done() bool {
	select {
	case <-w.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the worker has left the pool or ctx is done.
func (w *RepoWorker) Wait(ctx context.Context) error {
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *RepoWorker) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}

// Stop asks the worker to leave the pool before its next iteration.
func (w *RepoWorker) Stop() {
	select {
	case <-w.changed:
	default:
		close(w.changed)
	}
}

// Execute runs one maintenance iteration: git sync, passes and push.
func (w *RepoWorker) Execute(ctx context.Context) time.Time {
	startTime := time.Now() // Used for timing metric

	defer w.bar.Add(1)

	if w.stopped() {
		return w.die(ctx)
	}

	if w.sync != nil {
		if err := w.sync.Execute(ctx); err != nil {
			w.log.Warnf("failed to synchronize repository %q: %v", w.target.Name, err)
			w.record(ctx, "", history.OutcomeSyncFailed, err.Error())
			return w.report(ctx, RunStateSyncFailed, nil, err)
		}
	}

	// Commits made by the passes that succeeded are pushed even when another
	// pass failed.
	changed, passErr := w.runPasses(ctx)

	if len(changed) > 0 && w.push && w.sync != nil {
		if err := w.sync.Push(ctx); err != nil {
			w.log.Warnf("failed to push repository %q: %v", w.target.Name, err)
			w.record(ctx, "", history.OutcomePushFailed, err.Error())
			return w.report(ctx, RunStatePushFailed, changed, err)
		}
		w.record(ctx, "", history.OutcomePushed, "")
		w.log.Infof("Repository %q pushed.", w.target.Name)
	}

	if passErr != nil {
		return w.report(ctx, RunStatePassFailed, changed, passErr)
	}

	w.log.Debugf("Repository %q processed in %v.", w.target.Name, time.Since(startTime))
	return w.report(ctx, RunStateSuccess, changed, nil)
}

// runPasses runs every pass even when an earlier one fails; a failed pass
// leaves the repository as it found it.
func (w *RepoWorker) runPasses(ctx context.Context) ([]string, error) {
	w.canonical.Lock()
	defer w.canonical.Unlock()

	var changed []string
	var errs []error
	for _, p := range w.passes {
		startTime := time.Now()

		result, err := p.Run(ctx, w.target)
		if err != nil {
			w.log.Warnf("pass %q failed for repository %q: %v", p.Name, w.target.Name, err)
			metrics.PassFailed(p.Name)
			w.record(ctx, p.Name, history.OutcomeFailed, err.Error())
			errs = append(errs, err)
			continue
		}

		metrics.PassSucceeded(p.Name, result.Detail, startTime)
		w.record(ctx, p.Name, result.Detail, "")
		if result.Changed {
			w.log.Infof("Pass %q %s repository %q.", p.Name, result.Detail, w.target.Name)
			changed = append(changed, p.Name)
		} else {
			w.log.Debugf("Pass %q left repository %q %s.", p.Name, w.target.Name, result.Detail)
		}
	}

	return changed, errors.Join(errs...)
}

func (w *RepoWorker) record(ctx context.Context, pass, outcome, message string) {
	if err := w.ledger.Record(ctx, history.Entry{
		Repository: w.target.Name,
		Pass:       pass,
		Outcome:    outcome,
		Message:    message,
	}); err != nil {
		w.log.Warnf("failed to record history for repository %q: %v", w.target.Name, err)
	}
}

func (w *RepoWorker) report(ctx context.Context, state RunState, changed []string, err error) time.Time {
	interval := w.interval

	w.mu.Lock()
	w.status = Status{State: state, Changed: changed}
	if err != nil {
		interval = errorInterval // faster retry on error
		w.status.Message = err.Error()
	}
	w.mu.Unlock()

	metrics.RepositoryProcessed(w.target.Name, state.String())

	if w.singleShot {
		return w.die(ctx)
	}

	return time.Now().Add(interval)
}

func (w *RepoWorker) stopped() bool {
	select {
	case <-w.changed:
		return true
	default:
		return false
	}
}

func (w *RepoWorker) die(ctx context.Context) time.Time {
	if w.sync != nil {
		w.sync.Close(ctx)
	}

	close(w.done)

	var zero time.Time
	return zero
}

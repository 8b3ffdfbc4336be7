package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/gobwas/glob"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/repotend/repotend/internal/config"
	"github.com/repotend/repotend/internal/gitsync"
	"github.com/repotend/repotend/internal/history"
	"github.com/repotend/repotend/internal/logging"
	"github.com/repotend/repotend/internal/passes"
	"github.com/repotend/repotend/internal/pool"
	"github.com/repotend/repotend/internal/progress"
	"github.com/repotend/repotend/internal/repo"
	"github.com/repotend/repotend/internal/templatesync"
)

const canonicalTask = "canonical sources"

// Service runs the selected passes over every configured repository. In
// single shot mode every repository is processed once; otherwise each is
// revisited every interval until the context is cancelled.
type Service struct {
	config      *config.Root
	log         *logging.Logger
	passNames   []string
	repoGlobs   []string
	workers     int
	singleShot  bool
	dryRun      bool
	diffOut     io.Writer
	metricsAddr string
	noProgress  bool
	apps        *gitsync.GitHubApps
	canonical   sync.RWMutex

	mu         sync.Mutex
	repoWorker map[string]*RepoWorker
}

func New() *Service {
	return &Service{
		log:        logging.NewNop(),
		diffOut:    os.Stdout,
		repoWorker: make(map[string]*RepoWorker),
	}
}

func (s *Service) WithConfig(root *config.Root) *Service {
	s.config = root
	return s
}

func (s *Service) WithLogger(log *logging.Logger) *Service {
	s.log = log
	return s
}

// WithPasses restricts the run to the named passes. Without names the
// passes that run by default are used.
func (s *Service) WithPasses(names []string) *Service {
	s.passNames = names
	return s
}

// WithRepositoryFilter restricts the run to repositories matching any of
// the glob patterns.
func (s *Service) WithRepositoryFilter(patterns []string) *Service {
	s.repoGlobs = patterns
	return s
}

// WithWorkers overrides the configured number of concurrent repositories.
func (s *Service) WithWorkers(n int) *Service {
	s.workers = n
	return s
}

func (s *Service) WithSingleShot(singleShot bool) *Service {
	s.singleShot = singleShot
	return s
}

// WithDryRun prints the changes passes would make as diffs to out instead of
// writing, committing and pushing them.
func (s *Service) WithDryRun(dryRun bool, out io.Writer) *Service {
	s.dryRun = dryRun
	if out != nil {
		s.diffOut = out
	}
	return s
}

// WithMetricsAddr serves Prometheus metrics on addr while the service runs.
func (s *Service) WithMetricsAddr(addr string) *Service {
	s.metricsAddr = addr
	return s
}

func (s *Service) WithNoProgress(noProgress bool) *Service {
	s.noProgress = noProgress
	return s
}

// Statuses returns the latest status of every repository worker.
func (s *Service) Statuses() map[string]Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make(map[string]Status, len(s.repoWorker))
	for name, w := range s.repoWorker {
		result[name] = w.Status()
	}
	return result
}

// Run processes the repositories. In single shot mode it returns once every
// repository has been processed, with an error if any of them failed.
func (s *Service) Run(ctx context.Context) error {
	if s.config == nil {
		return errors.New("service: no configuration")
	}

	if err := s.config.CheckReferences(); err != nil {
		return err
	}

	selected, err := s.selectPasses()
	if err != nil {
		return err
	}

	targets, err := s.targets()
	if err != nil {
		return err
	}

	var ledger *history.Ledger
	if s.config.History != nil {
		ledger, err = history.Open(ctx, s.config.History, s.log)
		if err != nil {
			return fmt.Errorf("history: %w", err)
		}
		defer ledger.Close()
	}

	s.apps = gitsync.NewGitHubApps(len(s.config.Secrets) + 1)

	if s.metricsAddr != "" {
		stop, err := s.serveMetrics(ctx)
		if err != nil {
			return err
		}
		defer stop()
	}

	if err := s.syncCanonical(ctx); err != nil {
		return err
	}

	if len(targets) == 0 {
		s.log.Warnf("No repositories to process.")
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var bar *progress.Bar
	if s.singleShot && !s.noProgress {
		bar = progress.New(len(targets), "repositories")
	}

	workers := s.workers
	if workers <= 0 {
		workers = s.config.WorkerCount()
	}
	p := pool.New(ctx, workers)

	for _, r := range targets {
		w := s.newWorker(r, selected, ledger, bar)
		s.mu.Lock()
		s.repoWorker[r.Name] = w
		s.mu.Unlock()
		p.Add(r.Name, w.Execute)
	}

	if !s.singleShot {
		p.Schedule(canonicalTask, s.refreshCanonical, time.Now().Add(s.config.SyncInterval()))
		<-ctx.Done()
		p.Wait()
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil
		}
		return ctx.Err()
	}

	for _, r := range targets {
		if err := s.worker(r.Name).Wait(ctx); err != nil {
			return err
		}
	}
	bar.Finish()

	return s.summarize()
}

func (s *Service) worker(name string) *RepoWorker {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.repoWorker[name]
}

func (s *Service) summarize() error {
	statuses := s.Statuses()
	names := make([]string, 0, len(statuses))
	for name := range statuses {
		names = append(names, name)
	}
	slices.Sort(names)

	var failed []string
	changed := 0
	for _, name := range names {
		st := statuses[name]
		if st.State.Failed() {
			failed = append(failed, name)
			s.log.Errorf("Repository %q: %v: %s", name, st.State, st.Message)
		}
		if len(st.Changed) > 0 {
			changed++
		}
	}

	s.log.Infof("Processed %d repositories: %d changed, %d failed.", len(names), changed, len(failed))

	if len(failed) > 0 {
		return fmt.Errorf("%d of %d repositories failed: %v", len(failed), len(names), failed)
	}
	return nil
}

func (s *Service) selectPasses() ([]passes.Pass, error) {
	var emitter templatesync.Emitter
	if s.dryRun {
		emitter = templatesync.NewDiffEmitter(s.diffOut)
	} else {
		emitter = templatesync.NewCommitEmitter(repo.NewGitCommitter(s.config.Commit.AuthorOrDefault()))
	}

	set, err := passes.Builtin(s.config, emitter)
	if err != nil {
		return nil, err
	}

	selected, err := set.Select(s.passNames)
	if err != nil {
		return nil, err
	}
	if len(selected) == 0 {
		return nil, errors.New("no passes selected")
	}
	return selected, nil
}

func (s *Service) targets() ([]*config.Repository, error) {
	globs := make([]glob.Glob, 0, len(s.repoGlobs))
	for _, pattern := range s.repoGlobs {
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid repository filter %q: %w", pattern, err)
		}
		globs = append(globs, g)
	}

	var result []*config.Repository
	for _, r := range s.config.SortedRepositories() {
		if len(globs) == 0 || slices.ContainsFunc(globs, func(g glob.Glob) bool { return g.Match(r.Name) }) {
			result = append(result, r)
		}
	}
	return result, nil
}

func (s *Service) newWorker(r *config.Repository, selected []passes.Pass, ledger *history.Ledger, bar *progress.Bar) *RepoWorker {
	target := repo.NewTarget(s.config, r)

	w := NewRepoWorker(target, selected, s.log.With("repository", r.Name), bar).
		WithHistory(ledger).
		WithCanonicalLock(s.canonical.RLocker()).
		WithSingleShot(s.singleShot).
		WithInterval(s.config.SyncInterval())

	if r.Git != nil {
		w = w.WithSynchronizer(gitsync.New(target.Dir, *r.Git, r.Name).WithGitHubApps(s.apps)).
			WithPush(!s.dryRun && r.ShouldPush(s.config.Commit))
	}

	return w
}

// syncCanonical checks out every canonical source in parallel. Passes cannot
// run without them, so any failure fails the run.
func (s *Service) syncCanonical(ctx context.Context) error {
	s.canonical.Lock()
	defer s.canonical.Unlock()

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(s.config.WorkerCount(), 1))

	for _, c := range s.config.SortedCanonical() {
		if c.Git == nil {
			continue
		}
		g.Go(func() error {
			syncer := gitsync.New(s.config.CanonicalDir(c.Name), *c.Git, c.Name).WithGitHubApps(s.apps)
			defer syncer.Close(ctx)
			if err := syncer.Execute(ctx); err != nil {
				return err
			}
			s.log.Debugf("Canonical source %q synchronized.", c.Name)
			return nil
		})
	}

	return g.Wait()
}

// refreshCanonical is the pool task refreshing canonical sources in watch mode.
func (s *Service) refreshCanonical(ctx context.Context) time.Time {
	if err := s.syncCanonical(ctx); err != nil {
		s.log.Warnf("failed to refresh canonical sources: %v", err)
		return time.Now().Add(errorInterval)
	}
	return time.Now().Add(s.config.SyncInterval())
}

func (s *Service) serveMetrics(ctx context.Context) (func(), error) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	l, err := net.Listen("tcp", s.metricsAddr)
	if err != nil {
		return nil, fmt.Errorf("metrics: %w", err)
	}

	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Errorf("metrics server: %v", err)
		}
	}()
	s.log.Infof("Serving metrics on %s.", l.Addr())

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}, nil
}

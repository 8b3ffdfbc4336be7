package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/repotend/repotend/internal/logging"
	"github.com/repotend/repotend/internal/passes"
	"github.com/repotend/repotend/internal/repo"
)

type fakeSync struct {
	syncErr error
	pushErr error
	synced  int
	pushed  int
	closed  bool
}

func (f *fakeSync) Execute(context.Context) error {
	f.synced++
	return f.syncErr
}

func (f *fakeSync) Push(context.Context) error {
	f.pushed++
	return f.pushErr
}

func (f *fakeSync) Close(context.Context) {
	f.closed = true
}

func fakePass(name string, result passes.Result, err error, runs *int) passes.Pass {
	return passes.Pass{
		Name: name,
		Run: func(context.Context, *repo.Target) (passes.Result, error) {
			*runs++
			return result, err
		},
	}
}

func TestRepoWorker(t *testing.T) {
	errPass := errors.New("pass failed")

	tests := []struct {
		note       string
		sync       *fakeSync
		results    []passes.Result
		errs       []error
		push       bool
		expState   RunState
		expChanged []string
		expRuns    int
		expPushed  int
	}{
		{
			note:     "nothing changed",
			sync:     &fakeSync{},
			results:  []passes.Result{{Detail: "unchanged"}, {Detail: "unchanged"}},
			errs:     []error{nil, nil},
			push:     true,
			expState: RunStateSuccess,
			expRuns:  2,
		},
		{
			note:       "changed and pushed",
			sync:       &fakeSync{},
			results:    []passes.Result{{Changed: true, Detail: "created"}, {Detail: "unchanged"}},
			errs:       []error{nil, nil},
			push:       true,
			expState:   RunStateSuccess,
			expChanged: []string{"p0"},
			expRuns:    2,
			expPushed:  1,
		},
		{
			note:       "changed without push",
			sync:       &fakeSync{},
			results:    []passes.Result{{Changed: true, Detail: "updated"}},
			errs:       []error{nil},
			expState:   RunStateSuccess,
			expChanged: []string{"p0"},
			expRuns:    1,
		},
		{
			note:      "sync failure skips passes",
			sync:      &fakeSync{syncErr: errors.New("network down")},
			results:   []passes.Result{{Changed: true}},
			errs:      []error{nil},
			push:      true,
			expState:  RunStateSyncFailed,
			expRuns:   0,
			expPushed: 0,
		},
		{
			note:       "pass failure does not stop other passes",
			sync:       &fakeSync{},
			results:    []passes.Result{{}, {Changed: true, Detail: "created"}},
			errs:       []error{errPass, nil},
			push:       true,
			expState:   RunStatePassFailed,
			expChanged: []string{"p1"},
			expRuns:    2,
			expPushed:  1,
		},
		{
			note:       "push failure",
			sync:       &fakeSync{pushErr: errors.New("rejected")},
			results:    []passes.Result{{Changed: true, Detail: "created"}},
			errs:       []error{nil},
			push:       true,
			expState:   RunStatePushFailed,
			expChanged: []string{"p0"},
			expRuns:    1,
			expPushed:  1,
		},
	}

	for _, tc := range tests {
		t.Run(tc.note, func(t *testing.T) {
			var runs int
			var ps []passes.Pass
			for i := range tc.results {
				ps = append(ps, fakePass("p"+string(rune('0'+i)), tc.results[i], tc.errs[i], &runs))
			}

			w := NewRepoWorker(&repo.Target{Name: "paper-button", Dir: t.TempDir()}, ps, logging.NewNop(), nil).
				WithSynchronizer(tc.sync).
				WithPush(tc.push).
				WithSingleShot(true)

			if next := w.Execute(t.Context()); !next.IsZero() {
				t.Fatalf("expected single shot worker to leave the pool, next run at %v", next)
			}
			if !w.Done() || !tc.sync.closed {
				t.Fatal("expected worker to be done and synchronizer closed")
			}

			st := w.Status()
			if st.State != tc.expState {
				t.Fatalf("expected state %v, got %v (%s)", tc.expState, st.State, st.Message)
			}
			if diff := cmp.Diff(tc.expChanged, st.Changed); diff != "" {
				t.Fatalf("unexpected changed passes (-want +got):\n%s", diff)
			}
			if runs != tc.expRuns {
				t.Fatalf("expected %d pass runs, got %d", tc.expRuns, runs)
			}
			if tc.sync.pushed != tc.expPushed {
				t.Fatalf("expected %d pushes, got %d", tc.expPushed, tc.sync.pushed)
			}
		})
	}
}

func TestRepoWorkerInterval(t *testing.T) {
	var runs int
	w := NewRepoWorker(&repo.Target{Name: "x"}, []passes.Pass{fakePass("p", passes.Result{}, nil, &runs)}, nil, nil).
		WithInterval(time.Hour)

	next := w.Execute(t.Context())
	if d := time.Until(next); d < 59*time.Minute {
		t.Fatalf("expected next run in about an hour, got %v", d)
	}

	w2 := NewRepoWorker(&repo.Target{Name: "y"}, []passes.Pass{fakePass("p", passes.Result{}, errors.New("boom"), &runs)}, nil, nil).
		WithInterval(time.Hour)
	next = w2.Execute(t.Context())
	if d := time.Until(next); d > errorInterval {
		t.Fatalf("expected faster retry after an error, got %v", d)
	}

	w.Stop()
	if next := w.Execute(t.Context()); !next.IsZero() || !w.Done() {
		t.Fatal("expected stopped worker to leave the pool")
	}
	if runs != 2 {
		t.Fatalf("expected stopped worker not to run passes, got %d runs", runs)
	}
}

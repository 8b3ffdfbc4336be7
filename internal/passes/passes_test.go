package passes_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/repotend/repotend/internal/config"
	"github.com/repotend/repotend/internal/passes"
	"github.com/repotend/repotend/internal/repo"
	"github.com/repotend/repotend/internal/templatesync"
)

func noop(context.Context, *repo.Target) (passes.Result, error) {
	return passes.Result{}, nil
}

func names(ps []passes.Pass) []string {
	var result []string
	for _, p := range ps {
		result = append(result, p.Name)
	}
	return result
}

func TestNewSetRejectsDuplicates(t *testing.T) {
	_, err := passes.NewSet(
		passes.Pass{Name: "a", Run: noop},
		passes.Pass{Name: "a", Run: noop},
	)
	if err == nil || !strings.Contains(err.Error(), "duplicate") {
		t.Fatalf("expected duplicate error, got %v", err)
	}

	if _, err := passes.NewSet(passes.Pass{Name: "b"}); err == nil {
		t.Fatal("expected error for pass without runner")
	}
}

func TestSelect(t *testing.T) {
	set, err := passes.NewSet(
		passes.Pass{Name: "license", Run: noop, RunsByDefault: true},
		passes.Pass{Name: "bower", Run: noop},
		passes.Pass{Name: "contribution-guide", Run: noop, RunsByDefault: true},
	)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		note    string
		names   []string
		exp     []string
		wantErr bool
	}{
		{note: "defaults", exp: []string{"license", "contribution-guide"}},
		{note: "explicit order", names: []string{"bower", "license"}, exp: []string{"bower", "license"}},
		{note: "duplicates collapse", names: []string{"bower", "bower"}, exp: []string{"bower"}},
		{note: "unknown", names: []string{"bower", "nope"}, wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.note, func(t *testing.T) {
			got, err := set.Select(tc.names)
			if (err != nil) != tc.wantErr {
				t.Fatalf("error = %v, wantErr %v", err, tc.wantErr)
			}
			if diff := cmp.Diff(tc.exp, names(got)); diff != "" {
				t.Fatalf("unexpected selection (-want +got):\n%s", diff)
			}
		})
	}

	if _, ok := set.Lookup("bower"); !ok {
		t.Fatal("expected bower to be found")
	}
	if _, ok := set.Lookup("nope"); ok {
		t.Fatal("expected nope to be missing")
	}
}

func TestBuiltin(t *testing.T) {
	root, err := config.Parse([]byte(`{workspace: ws}`))
	if err != nil {
		t.Fatal(err)
	}

	set, err := passes.Builtin(root, templatesync.NewDiffEmitter(os.Stdout))
	if err != nil {
		t.Fatal(err)
	}

	selected, err := set.Select(nil)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"contribution-guide"}, names(selected)); diff != "" {
		t.Fatalf("unexpected defaults (-want +got):\n%s", diff)
	}
}

func TestBuiltinDisabledByConfig(t *testing.T) {
	root, err := config.Parse([]byte(`{passes: {contribution-guide: {enabled: false}}}`))
	if err != nil {
		t.Fatal(err)
	}

	set, err := passes.Builtin(root, templatesync.NewDiffEmitter(os.Stdout))
	if err != nil {
		t.Fatal(err)
	}

	selected, err := set.Select(nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(selected) != 0 {
		t.Fatalf("expected no default passes, got %v", names(selected))
	}

	// Disabled passes can still be requested by name.
	if _, err := set.Select([]string{"contribution-guide"}); err != nil {
		t.Fatal(err)
	}
}

func TestFromSync(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "canonical.md"), []byte("Guide\n"), 0644); err != nil {
		t.Fatal(err)
	}
	target := &repo.Target{Name: "x", Dir: t.TempDir()}

	p := passes.FromSync("guide", "", true, &templatesync.Sync{
		Canonical: filepath.Join(dir, "canonical.md"),
		Artifact:  "GUIDE.md",
		Resolver:  templatesync.ResolveFunc(func(*repo.Target) (string, error) { return "", nil }),
		Emitter:   templatesync.NewDiffEmitter(&strings.Builder{}),
	})

	result, err := p.Run(t.Context(), target)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(passes.Result{Changed: true, Detail: "created"}, result); diff != "" {
		t.Fatalf("unexpected result (-want +got):\n%s", diff)
	}
}

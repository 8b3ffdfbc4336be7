package gitsync

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/repotend/repotend/internal/config"
)

// newRemote creates a bare repository holding one commit on main and
// returns its path.
func newRemote(t *testing.T, files map[string]string) string {
	t.Helper()

	seed := filepath.Join(t.TempDir(), "seed")
	r, err := git.PlainInitWithOptions(seed, &git.PlainInitOptions{
		InitOptions: git.InitOptions{DefaultBranch: plumbing.NewBranchReferenceName("main")},
	})
	if err != nil {
		t.Fatal(err)
	}

	commitFiles(t, r, seed, files, "seed")

	remote := filepath.Join(t.TempDir(), "remote.git")
	if _, err := git.PlainClone(remote, true, &git.CloneOptions{URL: seed}); err != nil {
		t.Fatal(err)
	}
	return remote
}

func commitFiles(t *testing.T, r *git.Repository, dir string, files map[string]string, msg string) plumbing.Hash {
	t.Helper()

	w, err := r.Worktree()
	if err != nil {
		t.Fatal(err)
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
		if _, err := w.Add(name); err != nil {
			t.Fatal(err)
		}
	}
	h, err := w.Commit(msg, &git.CommitOptions{
		Author: &object.Signature{Name: "test", Email: "test@example.com", When: time.Now()},
	})
	if err != nil {
		t.Fatal(err)
	}
	return h
}

func ref(s string) *string { return &s }

func TestSynchronizerCloneAndRefresh(t *testing.T) {
	remote := newRemote(t, map[string]string{"README.md": "hello\n"})
	path := filepath.Join(t.TempDir(), "checkout")

	s := New(path, config.Git{Repo: remote, Reference: ref("main")}, "paper-button")
	if err := s.Execute(t.Context()); err != nil {
		t.Fatal(err)
	}

	bs, err := os.ReadFile(filepath.Join(path, "README.md"))
	if err != nil {
		t.Fatal(err)
	}
	if string(bs) != "hello\n" {
		t.Fatalf("unexpected content %q", bs)
	}

	// Local edits are discarded on the next sync.
	if err := os.WriteFile(filepath.Join(path, "README.md"), []byte("dirty"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := s.Execute(t.Context()); err != nil {
		t.Fatal(err)
	}
	bs, err = os.ReadFile(filepath.Join(path, "README.md"))
	if err != nil {
		t.Fatal(err)
	}
	if string(bs) != "hello\n" {
		t.Fatalf("expected local edit to be discarded, got %q", bs)
	}
}

func TestSynchronizerPush(t *testing.T) {
	remote := newRemote(t, map[string]string{"README.md": "hello\n"})
	path := filepath.Join(t.TempDir(), "checkout")

	s := New(path, config.Git{Repo: remote, Reference: ref("refs/heads/main")}, "paper-button")
	if err := s.Execute(t.Context()); err != nil {
		t.Fatal(err)
	}

	r, err := git.PlainOpen(path)
	if err != nil {
		t.Fatal(err)
	}
	h := commitFiles(t, r, path, map[string]string{"CONTRIBUTING.md": "guide\n"}, "[skip ci] Create CONTRIBUTING.md")

	if err := s.Push(t.Context()); err != nil {
		t.Fatal(err)
	}

	bare, err := git.PlainOpen(remote)
	if err != nil {
		t.Fatal(err)
	}
	head, err := bare.Reference(plumbing.NewBranchReferenceName("main"), true)
	if err != nil {
		t.Fatal(err)
	}
	if head.Hash() != h {
		t.Fatalf("expected remote main at %v, got %v", h, head.Hash())
	}

	// Nothing new to push.
	if err := s.Push(t.Context()); err != nil {
		t.Fatalf("expected up to date push to succeed, got %v", err)
	}
}

func TestSynchronizerPushRequiresBranch(t *testing.T) {
	s := New(t.TempDir(), config.Git{Repo: "unused", Commit: ref("0123456789abcdef0123456789abcdef01234567")}, "x")
	if err := s.Push(t.Context()); !errors.Is(err, ErrNotBranch) {
		t.Fatalf("expected ErrNotBranch, got %v", err)
	}
}

func TestSynchronizerRequiresReferenceOrCommit(t *testing.T) {
	s := New(t.TempDir(), config.Git{Repo: "unused"}, "x")
	if err := s.Execute(t.Context()); err == nil {
		t.Fatal("expected error")
	}
}

func TestSynchronizerWipesOnConfigChange(t *testing.T) {
	first := newRemote(t, map[string]string{"a.txt": "a"})
	second := newRemote(t, map[string]string{"b.txt": "b"})
	path := filepath.Join(t.TempDir(), "checkout")

	if err := New(path, config.Git{Repo: first, Reference: ref("main")}, "x").Execute(t.Context()); err != nil {
		t.Fatal(err)
	}
	if err := New(path, config.Git{Repo: second, Reference: ref("main")}, "x").Execute(t.Context()); err != nil {
		t.Fatal(err)
	}

	if _, err := os.Stat(filepath.Join(path, "a.txt")); !os.IsNotExist(err) {
		t.Fatalf("expected a.txt to be gone after re-clone, got %v", err)
	}
	if _, err := os.Stat(filepath.Join(path, "b.txt")); err != nil {
		t.Fatal(err)
	}
}

func TestFullReferenceName(t *testing.T) {
	for in, exp := range map[string]plumbing.ReferenceName{
		"main":            "refs/heads/main",
		"refs/heads/dev":  "refs/heads/dev",
		"refs/tags/v1.0":  "refs/tags/v1.0",
		"feature/my-work": "refs/heads/feature/my-work",
	} {
		if got := fullReferenceName(in); got != exp {
			t.Errorf("fullReferenceName(%q) = %q, want %q", in, got, exp)
		}
	}
}

func TestAuthMethods(t *testing.T) {
	root, err := config.Parse([]byte(`
repositories:
  a:
    git: {repo: https://example.com/a.git, reference: main, credentials: basic}
  b:
    git: {repo: https://example.com/b.git, reference: main, credentials: token}
  c:
    git: {repo: https://example.com/c.git, reference: main}
secrets:
  basic: {type: basic_auth, username: bob, password: pw, headers: ["X-Org: polymer"]}
  token: {type: token_auth, token: abc}
`))
	if err != nil {
		t.Fatal(err)
	}

	a, err := New("", *root.Repositories["a"].Git, "a").auth(t.Context())
	if err != nil {
		t.Fatal(err)
	}
	basic, ok := a.(*basicAuth)
	if !ok || basic.Username != "bob" || basic.Password != "pw" || len(basic.Headers) != 1 {
		t.Fatalf("unexpected basic auth %#v", a)
	}
	if basic.String() != "http-basic-auth-extra - bob:******* [X-Org: polymer]" {
		t.Fatalf("unexpected masked string %q", basic.String())
	}

	b, err := New("", *root.Repositories["b"].Git, "b").auth(t.Context())
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := b.(*tokenAuth); !ok {
		t.Fatalf("expected token auth, got %T", b)
	}

	c, err := New("", *root.Repositories["c"].Git, "c").auth(t.Context())
	if err != nil || c != nil {
		t.Fatalf("expected no auth, got %v, %v", c, err)
	}
}

func TestGitHubAppsMissingKey(t *testing.T) {
	apps := NewGitHubApps(4)
	if _, err := apps.Token(t.Context(), 1, 2, filepath.Join(t.TempDir(), "missing.pem")); err == nil {
		t.Fatal("expected error")
	}
	if apps.Len() != 0 {
		t.Fatalf("expected empty cache, got %d", apps.Len())
	}
}

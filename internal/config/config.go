package config

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/goccy/go-yaml"
)

// Internal configuration data structures for repotend.

const (
	DefaultWorkspace = ".repotend"
	DefaultWorkers   = 4
	DefaultInterval  = Duration(10 * time.Minute)
)

// Root is the top-level configuration structure used by repotend.
type Root struct {
	Workspace    string                 `json:"workspace,omitempty"`
	Workers      int                    `json:"workers,omitempty"`
	Interval     Duration               `json:"interval,omitempty"`
	Canonical    map[string]*Canonical  `json:"canonical,omitempty"`
	Repositories map[string]*Repository `json:"repositories,omitempty"`
	Passes       map[string]*Pass       `json:"passes,omitempty"`
	Commit       *Commit                `json:"commit,omitempty"`
	History      *Database              `json:"history,omitempty"`
	Secrets      map[string]*Secret     `json:"secrets,omitempty"` // Schema validation overrides Secret to object type.

	_ struct{} `additionalProperties:"false"`
}

// UnmarshalYAML implements the yaml.Unmarshaler interface for the Root struct. This
// lets us define resources as mappings where keys are the resource names. It is
// also used to inject the secret store into each secret reference so that
// internal callers can resolve secret values as needed.
func (r *Root) UnmarshalYAML(bs []byte) error {
	type rawRoot Root // avoid recursive calls to UnmarshalYAML by type aliasing
	var raw rawRoot

	if err := yaml.Unmarshal(bs, &raw); err != nil {
		return fmt.Errorf("failed to decode Root: %w", err)
	}

	*r = Root(raw)
	return r.unmarshal()
}

func (r *Root) UnmarshalJSON(bs []byte) error {
	type rawRoot Root
	var raw rawRoot

	if err := json.Unmarshal(bs, &raw); err != nil {
		return fmt.Errorf("failed to decode Root: %w", err)
	}

	*r = Root(raw)
	return r.unmarshal()
}

func (r *Root) unmarshal() error {
	for name := range r.Secrets {
		r.Secrets[name] = cmp.Or(r.Secrets[name], &Secret{})
		r.Secrets[name].Name = name
	}

	for name := range r.Canonical {
		r.Canonical[name] = cmp.Or(r.Canonical[name], &Canonical{})
		r.Canonical[name].Name = name
		if g := r.Canonical[name].Git; g != nil && g.Credentials != nil {
			g.Credentials.value = r.Secrets[g.Credentials.Name]
		}
	}

	for name := range r.Repositories {
		r.Repositories[name] = cmp.Or(r.Repositories[name], &Repository{})
		r.Repositories[name].Name = name
		if g := r.Repositories[name].Git; g != nil && g.Credentials != nil {
			g.Credentials.value = r.Secrets[g.Credentials.Name]
		}
	}

	for name := range r.Passes {
		r.Passes[name] = cmp.Or(r.Passes[name], &Pass{})
		r.Passes[name].Name = name
	}

	return nil
}

func (r *Root) SortedCanonical() iter.Seq2[int, *Canonical] {
	return iterator(r.Canonical, func(c *Canonical) string { return c.Name })
}

func (r *Root) SortedRepositories() iter.Seq2[int, *Repository] {
	return iterator(r.Repositories, func(c *Repository) string { return c.Name })
}

func iterator[V any](m map[string]V, name func(V) string) func(func(int, V) bool) {
	return func(yield func(int, V) bool) {
		values := slices.Collect(maps.Values(m))
		slices.SortFunc(values, func(a, b V) int { return cmp.Compare(name(a), name(b)) })
		for i, v := range values {
			if !yield(i, v) {
				return
			}
		}
	}
}

// WorkspaceDir is the directory holding every checkout managed by repotend.
func (r *Root) WorkspaceDir() string {
	return cmp.Or(r.Workspace, DefaultWorkspace)
}

// CanonicalDir is where the named canonical source is checked out. Passes
// read their canonical templates from below this directory.
func (r *Root) CanonicalDir(name string) string {
	return filepath.Join(r.WorkspaceDir(), "repos", name)
}

// RepositoryDir is the working directory of the named target repository.
func (r *Root) RepositoryDir(repo *Repository) string {
	if repo.Path != nil {
		return *repo.Path
	}
	return filepath.Join(r.WorkspaceDir(), "targets", repo.Name)
}

func (r *Root) WorkerCount() int {
	if r.Workers <= 0 {
		return DefaultWorkers
	}
	return r.Workers
}

func (r *Root) SyncInterval() time.Duration {
	return time.Duration(cmp.Or(r.Interval, DefaultInterval))
}

// PassEnabled reports whether the named pass runs when no explicit pass
// list is given, falling back to the pass's own default.
func (r *Root) PassEnabled(name string, byDefault bool) bool {
	if p, ok := r.Passes[name]; ok && p.Enabled != nil {
		return *p.Enabled
	}
	return byDefault
}

// PassParams returns the configured parameters of the named pass, or nil.
func (r *Root) PassParams(name string) map[string]string {
	if p, ok := r.Passes[name]; ok {
		return p.Params
	}
	return nil
}

// CheckReferences checks what the schema cannot: credentials must name a
// configured secret and git sources need a reference or a commit.
func (r *Root) CheckReferences() error {
	var errs []error

	check := func(kind, name string, g *Git) {
		if g == nil {
			return
		}
		if g.Reference == nil && g.Commit == nil {
			errs = append(errs, fmt.Errorf("%s %q: git needs a reference or a commit", kind, name))
		}
		if g.Credentials != nil {
			if _, ok := r.Secrets[g.Credentials.Name]; !ok {
				errs = append(errs, fmt.Errorf("%s %q: unknown secret %q", kind, name, g.Credentials.Name))
			}
		}
	}

	for _, c := range r.SortedCanonical() {
		check("canonical source", c.Name, c.Git)
	}
	for _, repo := range r.SortedRepositories() {
		check("repository", repo.Name, repo.Git)
		if repo.Git != nil && repo.Path != nil {
			errs = append(errs, fmt.Errorf("repository %q: git and path are mutually exclusive", repo.Name))
		}
	}

	return errors.Join(errs...)
}

func Validate(data []byte) error {
	var config any
	if err := yaml.Unmarshal(data, &config); err != nil {
		return err
	}

	return rootSchema.Validate(config)
}

type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	return d.parse(s)
}

func (d *Duration) UnmarshalYAML(bs []byte) error {
	var s string
	if err := yaml.Unmarshal(bs, &s); err != nil {
		return err
	}
	return d.parse(s)
}

func (d *Duration) parse(s string) error {
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

// Canonical defines a repository holding canonical templates. It is checked
// out before any pass runs.
type Canonical struct {
	Name string `json:"-"`
	Git  *Git   `json:"git,omitempty"`

	_ struct{} `additionalProperties:"false"`
}

// Repository defines one managed target repository. Either Git (a remote
// that gets cloned into the workspace) or Path (an existing working copy)
// locates it; with neither, the workspace default location is used.
type Repository struct {
	Name     string            `json:"-"`
	Git      *Git              `json:"git,omitempty"`
	Path     *string           `json:"path,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
	Push     *bool             `json:"push,omitempty"`

	_ struct{} `additionalProperties:"false"`
}

// ShouldPush reports whether commits made in this repository are pushed,
// falling back to the global commit setting.
func (r *Repository) ShouldPush(commit *Commit) bool {
	if r.Push != nil {
		return *r.Push
	}
	return commit != nil && commit.Push
}

// Pass holds per pass configuration.
type Pass struct {
	Name    string            `json:"-"`
	Enabled *bool             `json:"enabled,omitempty"`
	Params  map[string]string `json:"params,omitempty"`

	_ struct{} `additionalProperties:"false"`
}

// Commit configures how changes are committed.
type Commit struct {
	Author Author `json:"author"`
	Push   bool   `json:"push,omitempty"`

	_ struct{} `additionalProperties:"false"`
}

type Author struct {
	Name  string `json:"name"`
	Email string `json:"email"`

	_ struct{} `additionalProperties:"false"`
}

// DefaultAuthor is used when no commit author is configured.
var DefaultAuthor = Author{Name: "repotend", Email: "repotend@localhost"}

func (c *Commit) AuthorOrDefault() Author {
	if c == nil || c.Author.Name == "" {
		return DefaultAuthor
	}
	return c.Author
}

// Git defines the Git synchronization configuration used by canonical
// sources and target repositories.
type Git struct {
	Repo        string     `json:"repo"`
	Reference   *string    `json:"reference,omitempty"`
	Commit      *string    `json:"commit,omitempty"`
	Credentials *SecretRef `json:"credentials,omitempty"` // If nil, no authentication is used. Note, JSON schema validation overrides this to string type.

	_ struct{} `additionalProperties:"false"`
}

func (g *Git) Equal(other *Git) bool {
	return fastEqual(g, other, func(g, other *Git) bool {
		return g.Repo == other.Repo &&
			stringPtrEqual(g.Reference, other.Reference) &&
			stringPtrEqual(g.Commit, other.Commit) &&
			g.Credentials.Equal(other.Credentials)
	})
}

type SecretRef struct {
	Name  string `json:"-"`
	value *Secret
}

// NewSecretRef returns a reference bound to the given secret.
func NewSecretRef(s *Secret) *SecretRef {
	return &SecretRef{Name: s.Name, value: s}
}

// Resolve retrieves the secret value from the secret store. If the secret is not found, an error is returned.
// If the secret is found, it returns the typed value.
func (s *SecretRef) Resolve(ctx context.Context) (any, error) {
	if s.value == nil {
		return nil, fmt.Errorf("secret %q not found", s.Name)
	}

	return s.value.Typed(ctx)
}

func (s *SecretRef) MarshalYAML() (any, error) {
	if s.Name == "" {
		return nil, nil
	}
	return s.Name, nil
}

func (s *SecretRef) MarshalJSON() ([]byte, error) {
	v, err := s.MarshalYAML()
	if err != nil {
		return nil, err
	}

	return json.Marshal(v)
}

func (s *SecretRef) UnmarshalYAML(bs []byte) error {
	if err := yaml.Unmarshal(bs, &s.Name); err != nil {
		return fmt.Errorf("expected scalar node: %w", err)
	}
	return nil
}

func (s *SecretRef) UnmarshalJSON(bs []byte) error {
	if err := json.Unmarshal(bs, &s.Name); err != nil {
		return fmt.Errorf("failed to unmarshal SecretRef: %w", err)
	}

	return nil
}

// Credentials are compared by name only: the resolved file alone won't have
// the secrets.
func (s *SecretRef) Equal(other *SecretRef) bool {
	return fastEqual(s, other, func(s, other *SecretRef) bool {
		return s.Name == other.Name
	})
}

// Database configures the optional run history ledger.
type Database struct {
	SQL *SQLDatabase `json:"sql,omitempty"`

	_ struct{} `additionalProperties:"false"`
}

type SQLDatabase struct {
	Driver string `json:"driver" enum:"sqlite,sqlite3,postgres,pgx,mysql"`
	DSN    string `json:"dsn"`

	_ struct{} `additionalProperties:"false"`
}

func ParseFile(filename string) (root *Root, err error) {
	bs, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", filename, err)
	}

	return Parse(bs)
}

func Parse(bs []byte) (*Root, error) {
	if err := Validate(bs); err != nil {
		return nil, err
	}

	var root Root
	if err := yaml.Unmarshal(bs, &root); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &root, nil
}

func stringPtrEqual(a, b *string) bool {
	return fastEqual(a, b, func(a, b *string) bool { return *a == *b })
}

func fastEqual[V any](a, b *V, slowEqual func(a, b *V) bool) bool {
	if a == b {
		return true
	}

	if a == nil || b == nil {
		return false
	}

	return slowEqual(a, b)
}

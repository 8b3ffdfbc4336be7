// Package repo models the repositories repotend maintains: where a target's
// working copy lives, the metadata passes read, and how changes made by a
// pass are committed.
package repo

import (
	"path/filepath"

	"github.com/repotend/repotend/internal/config"
)

// Target is one managed repository. Passes only read it.
type Target struct {
	Name     string
	Dir      string
	Metadata map[string]string
}

// NewTarget builds the target for a configured repository.
func NewTarget(root *config.Root, r *config.Repository) *Target {
	return &Target{
		Name:     r.Name,
		Dir:      root.RepositoryDir(r),
		Metadata: r.Metadata,
	}
}

// Path returns the absolute location of a path relative to the repository root.
func (t *Target) Path(rel string) string {
	return filepath.Join(t.Dir, filepath.FromSlash(rel))
}

// Meta returns a metadata value, or the empty string.
func (t *Target) Meta(key string) string {
	if t == nil {
		return ""
	}
	return t.Metadata[key]
}

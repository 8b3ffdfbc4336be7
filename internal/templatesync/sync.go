package templatesync

import (
	"context"

	"github.com/repotend/repotend/internal/repo"
)

// Sync renders one canonical template into one artifact of a target
// repository. It holds no per run state and may be shared across goroutines
// as long as its Emitter can.
type Sync struct {
	Canonical string // Absolute path of the canonical template.
	Artifact  string // Path of the generated file relative to the repository root.
	Template  Template
	Resolver  Resolver
	Emitter   Emitter
}

// Run performs one synchronization of t. Nothing is written or committed
// unless the rendered artifact differs from the existing file.
func (s *Sync) Run(ctx context.Context, t *repo.Target) (Outcome, error) {
	canonical, err := ReadCanonical(s.Canonical)
	if err != nil {
		return Unchanged, err
	}

	prior, err := Detect(t.Path(s.Artifact))
	if err != nil {
		return Unchanged, err
	}

	value, err := s.Resolver.Resolve(t, prior)
	if err != nil {
		return Unchanged, err
	}

	rendered := s.Template.Render(canonical, value)
	if prior.Unchanged(rendered) {
		return Unchanged, nil
	}

	return s.Emitter.Emit(ctx, t, s.Artifact, prior, rendered)
}

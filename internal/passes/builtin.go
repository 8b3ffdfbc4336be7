package passes

import (
	"context"

	"github.com/repotend/repotend/internal/config"
	"github.com/repotend/repotend/internal/passes/contribguide"
	"github.com/repotend/repotend/internal/repo"
	"github.com/repotend/repotend/internal/templatesync"
)

// FromSync adapts a template synchronization into a pass.
func FromSync(name, description string, byDefault bool, s *templatesync.Sync) Pass {
	return Pass{
		Name:          name,
		Description:   description,
		RunsByDefault: byDefault,
		Run: func(ctx context.Context, t *repo.Target) (Result, error) {
			outcome, err := s.Run(ctx, t)
			if err != nil {
				return Result{}, err
			}
			return Result{Changed: outcome != templatesync.Unchanged, Detail: outcome.String()}, nil
		},
	}
}

// Builtin returns the passes shipped with repotend, configured from root.
// Changes are handed to emitter.
func Builtin(root *config.Root, emitter templatesync.Emitter) (*Set, error) {
	guide := contribguide.New(contribguide.Options{
		CanonicalDir: root.CanonicalDir(contribguide.CanonicalRepository),
		DefaultJsbin: root.PassParams(contribguide.Name)[contribguide.ParamDefaultJsbin],
		Emitter:      emitter,
	})

	set, err := NewSet(
		FromSync(contribguide.Name, contribguide.Description, true, guide),
	)
	if err != nil {
		return nil, err
	}

	return set.WithDefaults(root.PassEnabled), nil
}

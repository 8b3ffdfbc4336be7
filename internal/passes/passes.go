// Package passes defines the maintenance passes repotend runs against each
// repository and the explicit set they are selected from.
package passes

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/repotend/repotend/internal/repo"
)

// Result reports what a pass did to one repository.
type Result struct {
	Changed bool
	Detail  string
}

// Pass is one unit of repository maintenance.
type Pass struct {
	Name          string
	Run           func(ctx context.Context, t *repo.Target) (Result, error)
	RunsByDefault bool
	Description   string
}

// Set is an ordered list of passes with unique names.
type Set struct {
	passes []Pass
}

func NewSet(passes ...Pass) (*Set, error) {
	seen := make(map[string]struct{}, len(passes))
	for _, p := range passes {
		if p.Name == "" || p.Run == nil {
			return nil, fmt.Errorf("pass %q: name and runner are required", p.Name)
		}
		if _, ok := seen[p.Name]; ok {
			return nil, fmt.Errorf("duplicate pass %q", p.Name)
		}
		seen[p.Name] = struct{}{}
	}
	return &Set{passes: slices.Clone(passes)}, nil
}

// All returns every pass in registration order.
func (s *Set) All() []Pass {
	return slices.Clone(s.passes)
}

func (s *Set) Lookup(name string) (Pass, bool) {
	i := slices.IndexFunc(s.passes, func(p Pass) bool { return p.Name == name })
	if i == -1 {
		return Pass{}, false
	}
	return s.passes[i], true
}

// Select returns the passes to run. With no names, the passes that run by
// default are returned. Otherwise the named passes are returned in the order
// given, and an unknown name is an error.
func (s *Set) Select(names []string) ([]Pass, error) {
	if len(names) == 0 {
		var result []Pass
		for _, p := range s.passes {
			if p.RunsByDefault {
				result = append(result, p)
			}
		}
		return result, nil
	}

	result := make([]Pass, 0, len(names))
	var unknown []string
	for _, name := range names {
		p, ok := s.Lookup(name)
		if !ok {
			unknown = append(unknown, name)
			continue
		}
		if !slices.ContainsFunc(result, func(q Pass) bool { return q.Name == name }) {
			result = append(result, p)
		}
	}
	if len(unknown) > 0 {
		return nil, fmt.Errorf("unknown pass(es): %s", strings.Join(unknown, ", "))
	}
	return result, nil
}

// WithDefaults returns a copy of the set where enabled decides which passes
// run by default.
func (s *Set) WithDefaults(enabled func(name string, byDefault bool) bool) *Set {
	passes := slices.Clone(s.passes)
	for i := range passes {
		passes[i].RunsByDefault = enabled(passes[i].Name, passes[i].RunsByDefault)
	}
	return &Set{passes: passes}
}

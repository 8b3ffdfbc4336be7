package templatesync

import (
	"strings"

	"github.com/repotend/repotend/internal/repo"
)

// Resolver derives the substitution value for a target. prior is the
// existing generated file, so resolvers may honour values pinned in it.
type Resolver interface {
	Resolve(t *repo.Target, prior Prior) (string, error)
}

// ResolveFunc computes a value from the target alone.
type ResolveFunc func(t *repo.Target) (string, error)

func (f ResolveFunc) Resolve(t *repo.Target, _ Prior) (string, error) {
	return f(t)
}

// Overridable prefers a "Key=value" line found in the leading comment of
// the existing file over the value computed by Default. A pinned value
// stays in effect even when the computed default later changes.
type Overridable struct {
	Key     string
	Default Resolver
}

func (o Overridable) Resolve(t *repo.Target, prior Prior) (string, error) {
	if prior.Existed {
		if v, ok := ParseOverride(prior.Content, o.Key); ok {
			return v, nil
		}
	}
	return o.Default.Resolve(t, prior)
}

// ParseOverride looks for a "key=value" line inside the HTML comment that
// opens content. Lines outside that comment are ignored, as is an empty value.
func ParseOverride(content, key string) (string, bool) {
	content = strings.TrimLeft(content, " \t\r\n")
	if !strings.HasPrefix(content, "<!--") {
		return "", false
	}

	comment, _, ok := strings.Cut(content[len("<!--"):], "-->")
	if !ok {
		return "", false
	}

	for line := range strings.Lines(comment) {
		k, v, found := strings.Cut(strings.TrimSpace(line), "=")
		if !found || strings.TrimSpace(k) != key {
			continue
		}
		if v = strings.TrimSpace(v); v != "" {
			return v, true
		}
	}
	return "", false
}

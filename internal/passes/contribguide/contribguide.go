// Package contribguide generates CONTRIBUTING.md in every repository from the
// canonical contribution guide, pointing its jsbin link at a bin made for
// that repository.
package contribguide

import (
	"cmp"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/repotend/repotend/internal/repo"
	"github.com/repotend/repotend/internal/templatesync"
)

const (
	Name        = "contribution-guide"
	Description = "Generate CONTRIBUTING.md from the canonical contribution guide"

	// CanonicalRepository is the canonical source holding the guide.
	CanonicalRepository = "ContributionGuide"

	Artifact = "CONTRIBUTING.md"

	// OverrideKey pins a repository specific jsbin link in the generated file.
	OverrideKey = "jsbin"

	// MetadataJsbin is the repository metadata key holding its jsbin link.
	MetadataJsbin = "jsbin"

	// ParamDefaultJsbin is the pass parameter replacing DefaultJsbin.
	ParamDefaultJsbin = "default_jsbin"

	DefaultJsbin = "https://jsbin.com/cagaye/edit?html,output"

	upstream = "https://github.com/PolymerElements/ContributionGuide/blob/master/CONTRIBUTING.md"
)

// The canonical guide links to a generic bin, e.g.
// [http://jsbin.com/cagaye](http://jsbin.com/cagaye/edit?html,output)
var marker = regexp.MustCompile(`\[https?://jsbin\.com/.*?\]\s*\(https?://jsbin.com/.*?\)`)

type Options struct {
	CanonicalDir string // Checkout of the ContributionGuide repository.
	DefaultJsbin string
	Emitter      templatesync.Emitter
}

// New builds the pass. Repository metadata and DefaultJsbin only choose the
// link of a newly created guide; afterwards the guide's own jsbin= line wins.
func New(opts Options) *templatesync.Sync {
	fallback := cmp.Or(opts.DefaultJsbin, DefaultJsbin)

	return &templatesync.Sync{
		Canonical: filepath.Join(opts.CanonicalDir, Artifact),
		Artifact:  Artifact,
		Template: templatesync.Template{
			Marker:   marker,
			Preamble: Preamble,
		},
		Resolver: templatesync.Overridable{
			Key: OverrideKey,
			Default: templatesync.ResolveFunc(func(t *repo.Target) (string, error) {
				return cmp.Or(strings.TrimSpace(t.Meta(MetadataJsbin)), fallback), nil
			}),
		},
		Emitter: opts.Emitter,
	}
}

// Preamble is the provenance header of a generated guide.
func Preamble(jsbin string) string {
	return `<!--
This file is autogenerated based on
` + upstream + `

If you edit that file, it will get updated everywhere else.
If you edit this file, your changes will get overridden :)

You can however override the jsbin link with one that's customized to this
specific element:

` + OverrideKey + `=` + jsbin + `
-->

`
}

package templatesync

import "regexp"

// Template describes how a canonical file is rendered for one repository.
type Template struct {
	// Marker locates the substitution point. Only the first match is replaced;
	// content without a match passes through unchanged.
	Marker *regexp.Regexp

	// Replacement produces the text written over the marker. Defaults to
	// MarkdownLink.
	Replacement func(value string) string

	// Preamble produces the provenance header prepended to the output.
	Preamble func(value string) string
}

// MarkdownLink renders value as both label and target of a markdown link.
func MarkdownLink(value string) string {
	return "[" + value + "](" + value + ")"
}

// Render substitutes value into canonical and prepends the preamble.
func (t *Template) Render(canonical, value string) string {
	if t.Marker != nil {
		if loc := t.Marker.FindStringIndex(canonical); loc != nil {
			replace := t.Replacement
			if replace == nil {
				replace = MarkdownLink
			}
			canonical = canonical[:loc[0]] + replace(value) + canonical[loc[1]:]
		}
	}

	if t.Preamble == nil {
		return canonical
	}
	return t.Preamble(value) + canonical
}

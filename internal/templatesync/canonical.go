// Package templatesync keeps a generated file in a target repository in step
// with a canonical template: it renders the template against per repository
// parameters, compares the result with what is on disk and, only when the
// bytes differ, writes the file and commits it.
package templatesync

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
)

// ErrMissingCanonicalSource means the canonical template was not checked out
// before the pass ran.
var ErrMissingCanonicalSource = errors.New("canonical source not found, git checkout error?")

// ReadCanonical loads the canonical template at path.
func ReadCanonical(path string) (string, error) {
	bs, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("%w: %s", ErrMissingCanonicalSource, path)
	} else if err != nil {
		return "", err
	}
	return string(bs), nil
}

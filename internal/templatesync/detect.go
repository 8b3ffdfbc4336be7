package templatesync

import (
	"errors"
	"io/fs"
	"os"
)

// Prior is the state of the generated file before a run.
type Prior struct {
	Existed bool
	Content string
}

// Detect reads the existing copy of the generated file, if any.
func Detect(path string) (Prior, error) {
	bs, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Prior{}, nil
	} else if err != nil {
		return Prior{}, err
	}
	return Prior{Existed: true, Content: string(bs)}, nil
}

// Unchanged reports whether rendered is byte-identical to the prior file.
func (p Prior) Unchanged(rendered string) bool {
	return p.Existed && p.Content == rendered
}

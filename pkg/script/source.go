package script

import (
	"fmt"
	"os"
)

// Source is a user script, delivered either as a path on the node's disk or
// as inline source text. Exactly one of the two is set.
type Source struct {
	Path string
	Text string
}

// FromPath references a script file on disk.
func FromPath(path string) Source {
	return Source{Path: path}
}

// FromText carries inline script source.
func FromText(text string) Source {
	return Source{Text: text}
}

// ReadSource loads a script file into an inline source, the form shipped to
// nodes during setup.
func ReadSource(path string) (Source, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Source{}, fmt.Errorf("failed to read script %s: %w", path, err)
	}
	return FromText(string(data)), nil
}

func (s Source) String() string {
	if s.Path != "" {
		return s.Path
	}
	return fmt.Sprintf("<inline script, %d bytes>", len(s.Text))
}

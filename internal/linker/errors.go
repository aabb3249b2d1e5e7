package linker

import "fmt"

// LoadError reports a failure resolving, parsing, mapping, or relocating
// a module.
type LoadError struct {
	Name   string
	Reason string
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("linker: loading %q: %s", e.Name, e.Reason)
}

func loadErrorf(name, format string, args ...any) error {
	return &LoadError{Name: name, Reason: fmt.Sprintf(format, args...)}
}

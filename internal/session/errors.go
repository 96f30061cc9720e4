package session

import "fmt"

// ValidationError rejects an action because of its input. No state changes.
type ValidationError struct {
	Package string
	Reason  string
}

func (e *ValidationError) Error() string {
	if e.Package == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %q", e.Reason, e.Package)
}

// NoSelectionError rejects an action that needs a current package.
type NoSelectionError struct {
	Action string
}

func (e *NoSelectionError) Error() string {
	if e.Action == "" {
		return "no package selected"
	}
	return fmt.Sprintf("cannot %s: no package selected", e.Action)
}

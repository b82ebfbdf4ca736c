package models

import "fmt"

// ValidationError is a local, pre-network failure; Field names the
// offending input so the UI can point at it.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

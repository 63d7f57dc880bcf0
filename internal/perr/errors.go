// Package perr defines the pipeline-wide error kinds (spec §7 ERROR HANDLING
// DESIGN). It has no dependencies on other internal packages so that every
// phase package, including the temp file registry, can report errors of a
// known kind without import cycles.
package perr

import "fmt"

// Kind is one of the error categories named in spec §7.
type Kind string

const (
	IoFailed         Kind = "io_failed"
	DecodeFailed     Kind = "decode_failed"
	RuleMismatch     Kind = "rule_mismatch"
	DuplicateID      Kind = "duplicate_id"
	ResourceExhausted Kind = "resource_exhausted"
	UsageError       Kind = "usage_error"
	ResumeMissing    Kind = "resume_missing"
)

// Error wraps an underlying error with one of the Kind values above.
type Error struct {
	Kind Kind
	Err  error
	Msg  string
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
	}
	if e.Msg == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err as a pipeline error of the given kind, with an optional
// descriptive message.
func New(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Err: err, Msg: msg}
}

// Is reports whether err is a *Error of kind k.
func Is(err error, k Kind) bool {
	e, ok := err.(*Error)
	return ok && e.Kind == k
}

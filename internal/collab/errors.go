package collab

import "fmt"

// Kind is the coarse error classification a collaborator can report about
// its own failure. Unrecognized errors fall through to heuristic
// classification on the message text.
type Kind int

const (
	KindUnknown Kind = iota
	KindSyntax
	KindMissingDependency
	KindConflict
	KindValidation
	KindTimeout
)

func (k Kind) String() string {
	switch k {
	case KindSyntax:
		return "syntax"
	case KindMissingDependency:
		return "missing_dependency"
	case KindConflict:
		return "conflict"
	case KindValidation:
		return "validation"
	case KindTimeout:
		return "timeout"
	}
	return "unknown"
}

// Error is a typed collaborator failure.
type Error struct {
	Kind Kind
	Msg  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

// NewError builds a typed collaborator error.
func NewError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

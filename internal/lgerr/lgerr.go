// Package lgerr defines the small set of error kinds used across the
// gateway's device drivers so diagnostics can classify a failure
// without string-matching it.
package lgerr

import "fmt"

// Kind classifies a failure the way spec §7 enumerates them.
type Kind int

const (
	IO Kind = iota
	Protocol
	Timeout
	Config
	Instrument
	Bug
)

func (k Kind) String() string {
	switch k {
	case IO:
		return "io"
	case Protocol:
		return "protocol"
	case Timeout:
		return "timeout"
	case Config:
		return "config"
	case Instrument:
		return "instrument"
	case Bug:
		return "bug"
	default:
		return "unknown"
	}
}

// Error wraps an underlying cause with a Kind and the component that
// observed it, so diagnostics can report "scpi: timeout: ..." style
// messages without parsing strings.
type Error struct {
	Kind   Kind
	Source string
	Err    error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Source, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Source, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an *Error. Use at the point a driver first observes the
// failure; callers further up the stack should wrap with %w instead
// of calling New again.
func New(kind Kind, source string, err error) *Error {
	return &Error{Kind: kind, Source: source, Err: err}
}

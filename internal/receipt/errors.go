package receipt

import (
	"errors"
	"fmt"
)

var (
	// ErrUnrecoverable means no total or line item could be recovered
	ErrUnrecoverable = errors.New("unrecoverable model response")
	// ErrInvalidAmount means an amount field could not be repaired
	ErrInvalidAmount = errors.New("invalid amount")
)

// ErrorKind classifies a ParseError
type ErrorKind int

const (
	Unrecoverable ErrorKind = iota
	InvalidAmount
)

func (k ErrorKind) String() string {
	switch k {
	case Unrecoverable:
		return "unrecoverable"
	case InvalidAmount:
		return "invalid_amount"
	default:
		return "unknown"
	}
}

// ParseError is returned when a model response cannot become a Record.
// Raw always carries the untouched response text for manual review.
type ParseError struct {
	Kind   ErrorKind
	Field  string // offending field for InvalidAmount ("total" or "items")
	Value  string // offending raw value, if any
	Reason string
	Raw    string
}

func (e *ParseError) Error() string {
	switch e.Kind {
	case InvalidAmount:
		if e.Value != "" {
			return fmt.Sprintf("%s: %s %q: %s", ErrInvalidAmount, e.Field, e.Value, e.Reason)
		}
		return fmt.Sprintf("%s: %s: %s", ErrInvalidAmount, e.Field, e.Reason)
	default:
		return fmt.Sprintf("%s: %s", ErrUnrecoverable, e.Reason)
	}
}

// Is lets errors.Is match the sentinel for the error's kind
func (e *ParseError) Is(target error) bool {
	switch e.Kind {
	case Unrecoverable:
		return target == ErrUnrecoverable
	case InvalidAmount:
		return target == ErrInvalidAmount
	}
	return false
}

package commands

import (
	"errors"
	"fmt"
)

// ErrorKind classifies dispatch-level failures. These are results, not
// session-fatal conditions: every kind below is reported to the caller and
// the session keeps streaming.
type ErrorKind string

const (
	ErrorKindUnknownCommand   ErrorKind = "unknown_command"
	ErrorKindInvalidArguments ErrorKind = "invalid_arguments"
	ErrorKindOutOfRange       ErrorKind = "out_of_range"
	ErrorKindBusy             ErrorKind = "busy"
	ErrorKindHandlerFailure   ErrorKind = "handler_failure"
)

var (
	// ErrDuplicateCommand is returned by Register when the name is taken.
	// Hitting it is a startup-time programmer error.
	ErrDuplicateCommand = errors.New("command is already registered")

	// ErrOutOfRange is wrapped by handlers whose positional argument or
	// current state falls outside the allowed range.
	ErrOutOfRange = errors.New("requested position is out of range")

	// ErrBusy is returned by a spawner while a background command is
	// already in flight.
	ErrBusy = errors.New("a background command is already in flight")
)

// ArgumentError reports a single offending argument. Handlers return it for
// conditions the declared schema cannot express (e.g. a field required only
// for one enum value).
type ArgumentError struct {
	Field   string
	Message string
}

func NewArgumentError(field, message string) *ArgumentError {
	return &ArgumentError{Field: field, Message: message}
}

func (e *ArgumentError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (field %q)", e.Message, e.Field)
}

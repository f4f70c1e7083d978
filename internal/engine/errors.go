package engine

import (
	"errors"
	"fmt"
)

// AuthorizationError rejects a command before any validation happens:
// the user is not allowed to send this command to this case.
type AuthorizationError struct {
	User    string
	Message string
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("unauthorized: %s (user=%s)", e.Message, e.User)
}

// IsAuthorizationError reports whether err is an authorization
// failure. Uses errors.As to handle wrapped errors.
func IsAuthorizationError(err error) bool {
	var ae *AuthorizationError
	return errors.As(err, &ae)
}

// InvalidCommandError rejects a command during validation: the command
// is well-formed but cannot be applied to the case in its current
// state. Validation failures never produce events.
type InvalidCommandError struct {
	Command string
	Message string
}

func (e *InvalidCommandError) Error() string {
	return fmt.Sprintf("invalid command %s: %s", e.Command, e.Message)
}

// IsInvalidCommand reports whether err is a validation failure.
func IsInvalidCommand(err error) bool {
	var ie *InvalidCommandError
	return errors.As(err, &ie)
}

func invalidf(command, format string, args ...any) error {
	return &InvalidCommandError{Command: command, Message: fmt.Sprintf(format, args...)}
}

func unauthorizedf(user, format string, args ...any) error {
	return &AuthorizationError{User: user, Message: fmt.Sprintf(format, args...)}
}

// EngineFaultError reports a processing failure that happened after
// the command already produced events. The runtime treats it as a
// poisoned in-memory state: it records diagnostics and rebuilds the
// case from the journal on the next command.
type EngineFaultError struct {
	Command string
	Err     error
}

func (e *EngineFaultError) Error() string {
	return fmt.Sprintf("engine fault in %s: %v", e.Command, e.Err)
}

func (e *EngineFaultError) Unwrap() error { return e.Err }

// IsEngineFault reports whether err poisoned the in-memory case.
func IsEngineFault(err error) bool {
	var fe *EngineFaultError
	return errors.As(err, &fe)
}

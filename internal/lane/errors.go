package lane

import (
	"errors"
	"fmt"
)

var (
	// ErrGracefulStop ends the lane's loop without counting as a failure.
	ErrGracefulStop = errors.New("graceful stop")
	// ErrSkip marks the current test as skipped.
	ErrSkip = errors.New("test skipped")
)

type stopError struct {
	reason string
}

func (e *stopError) Error() string { return "graceful stop: " + e.reason }

func (e *stopError) Is(target error) bool { return target == ErrGracefulStop }

// Stop returns an error that asks the worker to end this lane.
func Stop(reason string) error {
	return &stopError{reason: reason}
}

// IsGracefulStop reports whether err asks for the lane to stop.
func IsGracefulStop(err error) bool {
	return errors.Is(err, ErrGracefulStop)
}

// AssertionError reports a check that did not hold. Tests that return it are
// classified FAILED rather than BROKEN.
type AssertionError struct {
	Name    string
	Message string
}

func (e *AssertionError) Error() string {
	if e.Name == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Name, e.Message)
}

// IsAssertion reports whether err wraps an *AssertionError.
func IsAssertion(err error) bool {
	var ae *AssertionError
	return errors.As(err, &ae)
}

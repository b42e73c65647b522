package portal

import (
	"errors"
	"fmt"
)

// ErrNoAccuracy is returned when a substance offers none of the preferred
// accuracies. The substance has to be skipped; the session stays usable.
var ErrNoAccuracy = errors.New("no preferred accuracy available")

// ErrInvalidState is returned when an operation is attempted out of protocol order
var ErrInvalidState = errors.New("invalid protocol state")

// ShapeError reports an expected form element missing from a response.
// It means the portal changed and the pass cannot continue.
type ShapeError struct {
	Element string
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("form element %q missing from response", e.Element)
}

// StatusError reports a non-success HTTP status
type StatusError struct {
	StatusCode int
	Status     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %s", e.Status)
}

// IsShapeError reports whether err wraps a *ShapeError
func IsShapeError(err error) bool {
	var se *ShapeError
	return errors.As(err, &se)
}

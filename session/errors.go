package session

import (
	"errors"

	"github.com/gravitational/trace"
)

// ErrNoSession is returned when there is no credential pair to use.
var ErrNoSession = &trace.NotFoundError{Message: "no session"}

// IsNoSession reports whether err means there is no session.
func IsNoSession(err error) bool {
	return errors.Is(trace.Unwrap(err), ErrNoSession)
}

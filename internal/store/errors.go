package store

import "github.com/pkg/errors"

// wrapUnavailable marks cause as a reachability failure while keeping its
// message for logs.
func wrapUnavailable(cause error) error {
	if cause == nil {
		return nil
	}
	if errors.Is(cause, ErrUnavailable) {
		return cause
	}
	return errors.Wrap(ErrUnavailable, cause.Error())
}

// IsDegraded reports whether err means the store could not serve the call at
// all, as opposed to a definite answer such as ErrConflict or ErrNotFound.
func IsDegraded(err error) bool {
	return errors.Is(err, ErrUnavailable) || errors.Is(err, ErrTableMissing)
}

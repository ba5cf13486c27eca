package registry

import (
	"errors"
	"fmt"
)

// AuthError means the backend rejected our credentials. Always fatal for
// the whole run.
type AuthError struct {
	Backend string
	Err     error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("authentication failed for %s backend: %v", e.Backend, e.Err)
	}
	return fmt.Sprintf("authentication failed for %s backend", e.Backend)
}

func (e *AuthError) Unwrap() error { return e.Err }

// NotFoundError means the referenced resource does not exist. During
// deletion this is success-equivalent ("already gone"); during required
// discovery it is a real error.
type NotFoundError struct {
	Resource string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found", e.Resource)
}

// Error is a generic backend failure with an optional HTTP status code.
// Codes in [400,500) are terminal, everything else is retryable.
type Error struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	switch {
	case e.StatusCode != 0 && e.Err != nil:
		return fmt.Sprintf("%s: status %d: %v", e.Op, e.StatusCode, e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("%s: status %d", e.Op, e.StatusCode)
	default:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// IsNotFound reports whether err is a not-found condition.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	if errors.As(err, &nf) {
		return true
	}
	var re *Error
	return errors.As(err, &re) && re.StatusCode == 404
}

// IsAuth reports whether err is an authentication failure.
func IsAuth(err error) bool {
	var ae *AuthError
	if errors.As(err, &ae) {
		return true
	}
	var re *Error
	return errors.As(err, &re) && (re.StatusCode == 401 || re.StatusCode == 403)
}

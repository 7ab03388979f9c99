package gmail

import (
	"errors"
	"fmt"
)

var (
	// ErrFatalConfig reports missing credential material.
	ErrFatalConfig = errors.New("missing credential configuration")
	// ErrAuth reports that no valid authenticated session is available.
	ErrAuth = errors.New("gmail authentication failed")
	// ErrTransient reports a network or provider-side failure of one call.
	ErrTransient = errors.New("gmail request failed")
)

// AuthError wraps err so that errors.Is(err, ErrAuth) holds.
func AuthError(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrAuth, err)
}

// TransientError wraps err so that errors.Is(err, ErrTransient) holds.
func TransientError(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrTransient, err)
}

func IsAuth(err error) bool { return errors.Is(err, ErrAuth) }

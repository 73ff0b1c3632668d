package auth

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound      = errors.New("auth: not found")
	ErrAlreadyExists = errors.New("auth: already exists")
	ErrInvalidInput  = errors.New("auth: invalid input")
	ErrUnauthorized  = errors.New("auth: unauthorized")
	ErrNoEmail       = errors.New("auth: account has no email")
)

// ErrInvalidToken is the umbrella token verification failure. The specific
// variants below all unwrap to it, so callers can match uniformly while logs
// keep the cause.
var (
	ErrInvalidToken     = errors.New("auth: invalid token")
	ErrTokenMalformed   = fmt.Errorf("%w: malformed", ErrInvalidToken)
	ErrSignatureInvalid = fmt.Errorf("%w: signature mismatch", ErrInvalidToken)
	ErrTokenExpired     = fmt.Errorf("%w: expired", ErrInvalidToken)
)

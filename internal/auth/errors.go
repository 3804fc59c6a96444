package auth

import "errors"

// ErrUnauthorized means no usable credentials were presented.
var ErrUnauthorized = errors.New("auth: unauthorized")

// ErrInvalidToken means a token was presented but failed verification.
var ErrInvalidToken = errors.New("auth: invalid token")

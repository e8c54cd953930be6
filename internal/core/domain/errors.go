package domain

import "errors"

// Authentication errors. Their messages are safe to show to clients and
// deliberately do not say which check failed.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrMissingToken       = errors.New("no token provided")
	ErrInvalidToken       = errors.New("invalid token")
)

// Store lookups.
var (
	ErrUserNotFound  = errors.New("user not found")
	ErrAmbiguousUser = errors.New("email matches more than one user")
	ErrTokenNotFound = errors.New("session token not found")
)

// Pipeline errors. ErrNotConnected is the ConnectionError kind: the resource
// has not (re)connected yet and the supervisor is still retrying.
var (
	ErrNotConnected     = errors.New("resource not connected")
	ErrPublish          = errors.New("publish failed")
	ErrConsume          = errors.New("consume failed")
	ErrMalformedPayload = errors.New("malformed payload")
)

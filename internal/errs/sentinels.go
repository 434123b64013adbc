// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Common sentinels across repo/service layers.
var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates a unique constraint violation (e.g., an identifier held twice at commit).
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidArgument indicates a precondition violation, e.g. a merge request without any identifier.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrSelfChange indicates a merge would alter the local account's recipient without change_self.
	ErrSelfChange = errors.New("refusing to change self recipient")

	// ErrUnauthorized indicates failed authentication/authorization.
	ErrUnauthorized = errors.New("unauthorized")
)

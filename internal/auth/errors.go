package auth

import "errors"

// Closed error taxonomy surfaced to callers. Collaborating layers map these
// onto transport status codes; nothing in this package inspects error text.
var (
	ErrNotFound     = errors.New("auth: not found")
	ErrBadRequest   = errors.New("auth: bad request")
	ErrUnauthorized = errors.New("auth: unauthorized")
	ErrForbidden    = errors.New("auth: forbidden")
	ErrConflict     = errors.New("auth: conflict")
	ErrInternal     = errors.New("auth: internal error")
)

package ports

import "errors"

// ErrExhausted is returned when a role's port range has no free port left.
var ErrExhausted = errors.New("ports: range exhausted")

package types

import "errors"

// ErrNotFound is returned by storage backends when a row does not exist.
// Callers test for it with errors.Is.
var ErrNotFound = errors.New("not found")

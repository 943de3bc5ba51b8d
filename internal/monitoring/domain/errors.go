package monitoring

import "errors"

// ErrNotFound indicates a missing record.
var ErrNotFound = errors.New("monitoring: not found")

package store

import "errors"

// ErrNotFound is returned when a record does not exist. Owner-scoped lookups
// return it for records owned by another user as well, so callers cannot tell
// the two cases apart.
var ErrNotFound = errors.New("not found")

// ErrDuplicateEmail is returned when an insert or update would reuse an
// email address that already belongs to another user.
var ErrDuplicateEmail = errors.New("email already in use")

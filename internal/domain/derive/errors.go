package derive

import "errors"

var (
	// ErrUnknownFeature indicates a configured feature name this package
	// does not implement.
	ErrUnknownFeature = errors.New("unknown derived feature")
)

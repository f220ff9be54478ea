package stream

import "errors"

// Sentinel kinds for stream errors.
var (
	// ErrOutOfOrderTick is fatal: every downstream component assumes
	// non-decreasing tick order, so the run aborts.
	ErrOutOfOrderTick = errors.New("input tick order violated")
)

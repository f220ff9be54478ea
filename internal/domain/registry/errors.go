package registry

import "errors"

// Sentinel kinds for identity-resolution errors. Both are recovered: the
// stream continues and the occurrence is counted into the run summary.
var (
	ErrUnknownSlot  = errors.New("record for never-spawned slot")
	ErrSealedEntity = errors.New("record for sealed entity")
)

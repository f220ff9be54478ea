package series

import "errors"

var (
	// ErrUnknownClass indicates an entity whose class has no declared schema.
	ErrUnknownClass = errors.New("unknown entity class")
	// ErrTickRegression indicates an append older than the series frontier.
	ErrTickRegression = errors.New("tick regression in series append")
)

package jsonl

import "errors"

var (
	// ErrMalformedLine indicates a line that could not be decoded.
	ErrMalformedLine = errors.New("malformed record line")
)

package schema

import "errors"

// Sentinel kinds for schema errors. All of these surface during
// configuration validation, before any record is processed.
var (
	ErrInvalidPolicy        = errors.New("invalid gap-fill policy")
	ErrUnknownField         = errors.New("field not declared in schema")
	ErrUnsupportedFieldType = errors.New("field type cannot support requested derivation")
)

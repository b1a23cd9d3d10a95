package etl

import "errors"

var (
	// ErrMalformedResource marks a raw resource that failed extraction or
	// normalization. Recovered per record, counted as invalid.
	ErrMalformedResource = errors.New("malformed resource")

	// ErrMissingReference marks a recommendation whose patient reference
	// resolves to no indexed patient. Recovered per record, counted as
	// skipped.
	ErrMissingReference = errors.New("missing patient reference")

	// ErrValidationFailure marks a merged row that failed the required
	// field contract. Recovered per record, counted as invalid.
	ErrValidationFailure = errors.New("record validation failed")
)

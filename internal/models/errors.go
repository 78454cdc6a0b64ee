package models

import "errors"

// Error classes surfaced to the driver. Callers wrap them with context and
// match them with errors.Is.
var (
	// ErrMissingInput reports a model description, mask, scan or engine
	// output that does not exist.
	ErrMissingInput = errors.New("missing input")

	// ErrInvalidInput reports malformed condition data or inconsistent inputs.
	ErrInvalidInput = errors.New("invalid input")

	// ErrSingularTransform reports an affine that cannot be inverted.
	ErrSingularTransform = errors.New("singular transform")

	// ErrUnsupportedStrategy reports an unknown modeling strategy.
	ErrUnsupportedStrategy = errors.New("unsupported strategy")
)

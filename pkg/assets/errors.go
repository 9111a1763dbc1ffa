package assets

import "errors"

// Error taxonomy surfaced by the management service. Callers branch on these
// with errors.Is; everything else is an internal failure.
var (
	ErrNotFound   = errors.New("not found")
	ErrNotOwner   = errors.New("reference belongs to another owner")
	ErrValidation = errors.New("invalid input")
)

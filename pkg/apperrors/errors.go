package apperrors

import "errors"

var (
	ErrNotFound               = errors.New("not found")
	ErrConflict               = errors.New("conflict")
	ErrInvalidConfig          = errors.New("invalid puzzle config")
	ErrGenerationUnavailable  = errors.New("generation service unavailable")
	ErrInsufficientCandidates = errors.New("insufficient candidates")
	ErrMalformedOutput        = errors.New("malformed model output")
)

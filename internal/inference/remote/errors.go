package remote

import "errors"

// Sentinel errors for remote scorer failures.
var (
	ErrScorerUnavailable = errors.New("scorer node unreachable")
	ErrInferenceTimeout  = errors.New("inference timeout")
	ErrInvalidResponse   = errors.New("scorer returned invalid response")
)

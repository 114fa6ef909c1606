package models

import "math"

// Confidence thresholds on the 0-100 score scale. Branch selection in the
// pipeline and the stored result's level label both derive from these, so they
// are defined exactly once.
const (
	ThresholdLow    = 50.0
	ThresholdMedium = 70.0
	ThresholdHigh   = 85.0
)

// ConfidenceLevelFor maps a confidence score to its ordinal label. Monotone
// step function; each upper boundary is inclusive in the next band. A result's
// level is never stored independently — it is always recomputed from the score
// through this function.
func ConfidenceLevelFor(score float64) string {
	switch {
	case score < ThresholdLow:
		return ConfidenceLow
	case score < ThresholdMedium:
		return ConfidenceMedium
	case score < ThresholdHigh:
		return ConfidenceHigh
	default:
		return ConfidenceVeryHigh
	}
}

// ClampScore bounds a confidence score to [0,100].
func ClampScore(score float64) float64 {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

// Round2 rounds a score to two decimal places.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

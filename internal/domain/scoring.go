package domain

// Conversion thresholds for the priority buckets.
const (
	HighPriorityThreshold   = 70
	MediumPriorityThreshold = 40
)

// PriorityForConversion maps a conversion probability (0-100) to a priority bucket.
// Every path that scores a contact goes through here.
func PriorityForConversion(probability int) string {
	switch {
	case probability >= HighPriorityThreshold:
		return PriorityHigh
	case probability >= MediumPriorityThreshold:
		return PriorityMedium
	default:
		return PriorityLow
	}
}

// ClampScore bounds a model-provided score to 0..100.
func ClampScore(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

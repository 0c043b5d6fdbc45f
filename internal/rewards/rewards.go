package rewards

// Dropoff accuracy tiers. Points step down with distance from the
// destination waypoint; past the outer threshold the ride needs a
// manual review instead of an automatic award.
const (
	ExactPoints = 10
	NearPoints  = 8
	FarPoints   = 5

	NearThresholdM = 50.0
	FarThresholdM  = 100.0
)

// Score maps a dropoff error distance in meters to awarded points and
// whether the completion needs manual review. Pure and deterministic;
// the caller persists the result.
func Score(distanceM float64) (points int, needsReview bool) {
	switch {
	case distanceM == 0:
		return ExactPoints, false
	case distanceM <= NearThresholdM:
		return NearPoints, false
	case distanceM <= FarThresholdM:
		return FarPoints, false
	default:
		return 0, true
	}
}

// BestCase is the highest tier, used when estimating an alert's
// potential reward before anyone has completed the ride.
func BestCase() int { return ExactPoints }

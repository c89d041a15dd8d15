package background

// OfferPolicy sets the thresholds for prompting a background check.
type OfferPolicy struct {
	// ScoreBelow prompts when the current trust score is under it.
	ScoreBelow int
	// GuestsAbove prompts when the party size exceeds it.
	GuestsAbove int
}

// DefaultOfferPolicy prompts under a trusted-level score and for parties
// larger than eight.
func DefaultOfferPolicy() OfferPolicy {
	return OfferPolicy{ScoreBelow: 70, GuestsAbove: 8}
}

// ShouldOffer decides whether the background check is prompted for this
// booking. Any single trigger suffices; in particular a score under the
// threshold prompts even when a platform profile link is present.
func ShouldOffer(score int, hasProfileLink bool, guestCount int, nearHome bool, policy OfferPolicy) bool {
	switch {
	case score < policy.ScoreBelow:
		return true
	case !hasProfileLink:
		return true
	case guestCount > policy.GuestsAbove:
		return true
	case nearHome:
		return true
	}
	return false
}

// Package trust reduces form answers and channel outcomes to one score and
// level a host can act on.
package trust

import (
	"time"

	"guestgate/internal/channels"
	"guestgate/internal/form"
)

// Adjustment is one named, signed contribution to the score.
type Adjustment struct {
	Reason string `json:"reason"`
	Delta  int    `json:"delta"`
}

// Score is the aggregated verification outcome.
//
// Invariants:
//   - Value is clamped to [0,100]
//   - Adjustments list every non-zero contribution in deterministic order:
//     form adjustments in schema order, then channels in declaration order
//   - identical inputs produce an identical Score
type Score struct {
	Value       int          `json:"value"`
	Level       Level        `json:"level"`
	Adjustments []Adjustment `json:"adjustments"`
	ComputedAt  time.Time    `json:"computed_at"`
}

// Compute derives the trust score. This is pure domain logic - no I/O, no
// side effects, no clock beyond the passed now.
func Compute(data form.Data, results map[channels.Channel]channels.Result, cfg Config, now time.Time) Score {
	adjustments := make([]Adjustment, 0, 4+len(channels.All))
	total := cfg.Base

	apply := func(reason string, delta int) {
		if delta == 0 {
			return
		}
		adjustments = append(adjustments, Adjustment{Reason: reason, Delta: delta})
		total += delta
	}

	// Form-derived adjustments, schema order.
	if profileComplete(data) {
		apply("profile_complete", cfg.ProfileComplete)
	}
	if data[form.FieldStayPurpose] != "" {
		apply("stay_purpose_shared", cfg.StayPurposeShared)
	}
	if data.NearHome() {
		apply("near_home_stay", cfg.NearHomePenalty)
	}
	if count, ok := data.GuestCount(); ok && count >= cfg.LargeGroupAtLeast {
		apply("large_group", cfg.LargeGroupPenalty)
	}

	// Channel adjustments, declaration order. In-flight and absent attempts
	// contribute nothing.
	for _, ch := range channels.All {
		result, ok := results[ch]
		if !ok {
			continue
		}
		adj := cfg.Channels[ch]
		switch result.Status {
		case channels.StatusVerified:
			apply(string(ch)+"_verified", adj.Verified)
		case channels.StatusFailed:
			apply(string(ch)+"_failed", adj.Failed)
		}
	}

	value := clamp(total)
	return Score{
		Value:       value,
		Level:       cfg.levelFor(value),
		Adjustments: adjustments,
		ComputedAt:  now,
	}
}

func profileComplete(data form.Data) bool {
	return data[form.FieldEmail] != "" &&
		data[form.FieldFirstName] != "" &&
		data[form.FieldLastName] != "" &&
		data[form.FieldPhone] != ""
}

func clamp(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// levelFor picks the highest threshold at or below the clamped value.
// Levels are validated ascending, so the last match wins.
func (c Config) levelFor(value int) Level {
	level := LevelLow
	for _, t := range c.Levels {
		if value >= t.Min {
			level = t.Level
		}
	}
	return level
}

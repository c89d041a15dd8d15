package trust

import (
	"guestgate/internal/channels"
	dErrors "guestgate/pkg/domain-errors"
)

// Level is the discretized trust category a host acts on.
type Level string

const (
	LevelLow       Level = "low"
	LevelStandard  Level = "standard"
	LevelTrusted   Level = "trusted"
	LevelExemplary Level = "exemplary"
)

// LevelThreshold maps a minimum clamped score to a level.
type LevelThreshold struct {
	Min   int   `json:"min"`
	Level Level `json:"level"`
}

// ChannelAdjustment holds the signed deltas one channel contributes.
// Absent and in-flight attempts contribute nothing.
type ChannelAdjustment struct {
	Verified int `json:"verified"`
	Failed   int `json:"failed"`
}

// Config carries every score magnitude as data. Magnitudes are deployment
// policy, not code: hosts tune them without a release.
type Config struct {
	// Base is the starting score before any adjustment.
	Base int `json:"base"`

	// Form-derived adjustments, applied in schema order.
	ProfileComplete   int `json:"profile_complete"`
	StayPurposeShared int `json:"stay_purpose_shared"`
	NearHomePenalty   int `json:"near_home_penalty"`
	LargeGroupPenalty int `json:"large_group_penalty"`
	LargeGroupAtLeast int `json:"large_group_at_least"`

	// Channel adjustments, applied in channel declaration order.
	Channels map[channels.Channel]ChannelAdjustment `json:"channels"`

	// Levels are ascending thresholds; the highest Min <= score wins.
	Levels []LevelThreshold `json:"levels"`
}

// DefaultConfig returns the stock scoring policy.
func DefaultConfig() Config {
	return Config{
		Base:              50,
		ProfileComplete:   5,
		StayPurposeShared: 5,
		NearHomePenalty:   -5,
		LargeGroupPenalty: -5,
		LargeGroupAtLeast: 9,
		Channels: map[channels.Channel]ChannelAdjustment{
			channels.ChannelDocumentSelfie:  {Verified: 25, Failed: -15},
			channels.ChannelPhoneOTP:        {Verified: 15, Failed: -10},
			channels.ChannelBackgroundCheck: {Verified: 20, Failed: -30},
			channels.ChannelPlatformProfile: {Verified: 10, Failed: 0},
		},
		Levels: []LevelThreshold{
			{Min: 0, Level: LevelLow},
			{Min: 40, Level: LevelStandard},
			{Min: 70, Level: LevelTrusted},
			{Min: 90, Level: LevelExemplary},
		},
	}
}

// Validate checks the config is a usable scoring policy.
//
// Errors: CodeInvariantViolation on an empty, unordered, or gapped level
// table, or when a listed channel is unknown.
func (c Config) Validate() error {
	if len(c.Levels) == 0 {
		return dErrors.New(dErrors.CodeInvariantViolation, "level table is empty")
	}
	if c.Levels[0].Min != 0 {
		return dErrors.New(dErrors.CodeInvariantViolation, "first level threshold must start at 0")
	}
	for i := 1; i < len(c.Levels); i++ {
		if c.Levels[i].Min <= c.Levels[i-1].Min {
			return dErrors.Newf(dErrors.CodeInvariantViolation,
				"level thresholds must be strictly ascending: %d after %d",
				c.Levels[i].Min, c.Levels[i-1].Min)
		}
		if c.Levels[i].Min > 100 {
			return dErrors.Newf(dErrors.CodeInvariantViolation,
				"level threshold %d exceeds the score ceiling", c.Levels[i].Min)
		}
	}
	for ch := range c.Channels {
		if _, err := channels.ParseChannel(string(ch)); err != nil {
			return dErrors.Newf(dErrors.CodeInvariantViolation, "adjustment for unknown channel %q", ch)
		}
	}
	return nil
}

package ops

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSampler_FullRateKeepsEverything(t *testing.T) {
	s := NewSampler(1.0)
	for range 100 {
		assert.True(t, s.ShouldSample("step_advanced"))
	}
}

func TestSampler_ZeroRateDropsEverything(t *testing.T) {
	s := NewSampler(0)
	for range 100 {
		assert.False(t, s.ShouldSample("step_advanced"))
	}
}

func TestSampler_PerActionOverride(t *testing.T) {
	s := NewSampler(1.0)
	s.SetRate("snapshot_saved", 0)

	for range 100 {
		assert.False(t, s.ShouldSample("snapshot_saved"), "override applies to the named action")
		assert.True(t, s.ShouldSample("session_started"), "other actions keep the default")
	}
}

func TestSampler_ClampsRates(t *testing.T) {
	s := NewSampler(7.5)
	assert.Equal(t, 1.0, s.rateFor("anything"))

	s.SetDefaultRate(-3)
	assert.Equal(t, 0.0, s.rateFor("anything"))

	s.SetRate("x", 2)
	assert.Equal(t, 1.0, s.rateFor("x"))
}

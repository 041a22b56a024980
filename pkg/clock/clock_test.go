package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFakeClock(t *testing.T) {
	start := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	clk := NewFake(start)

	assert.Equal(t, start, clk.Now())

	clk.Advance(90 * time.Second)
	assert.Equal(t, start.Add(90*time.Second), clk.Now())

	later := start.Add(24 * time.Hour)
	clk.Set(later)
	assert.Equal(t, later, clk.Now())
}

func TestSystemClockTracksWallTime(t *testing.T) {
	before := time.Now()
	now := System().Now()
	assert.False(t, now.Before(before))
}

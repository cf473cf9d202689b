package timegrid

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFloor(t *testing.T) {
	base := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		input    time.Time
		interval time.Duration
		expected time.Time
	}{
		{"on grid", base, 5 * time.Minute, base},
		{"mid interval", base.Add(7*time.Minute + 30*time.Second), 5 * time.Minute, base.Add(5 * time.Minute)},
		{"just before boundary", base.Add(4*time.Minute + 59*time.Second), 5 * time.Minute, base},
		{"sub-second dropped", base.Add(500 * time.Millisecond), 5 * time.Minute, base},
		{"zero interval is a no-op", base.Add(123 * time.Second), 0, base.Add(123 * time.Second)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, tt.expected.Equal(Floor(tt.input, tt.interval)), "Floor(%v) = %v, want %v", tt.input, Floor(tt.input, tt.interval), tt.expected)
		})
	}
}

func TestCeil(t *testing.T) {
	base := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

	assert.True(t, base.Equal(Ceil(base, 5*time.Minute)))
	assert.True(t, base.Add(5*time.Minute).Equal(Ceil(base.Add(time.Second), 5*time.Minute)))
	assert.True(t, base.Add(10*time.Minute).Equal(Ceil(base.Add(9*time.Minute), 5*time.Minute)))
	assert.True(t, base.Add(time.Second).Equal(Ceil(base.Add(time.Second), 0)))
}

func TestFloorPreservesLocation(t *testing.T) {
	loc := time.FixedZone("UTC-7", -7*3600)
	input := time.Date(2024, 3, 10, 8, 3, 0, 0, loc)

	floored := Floor(input, 5*time.Minute)
	assert.Equal(t, loc, floored.Location())
	assert.Equal(t, 0, floored.Minute())
}

func TestElapsedSecondsIsSigned(t *testing.T) {
	a := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	b := a.Add(90 * time.Second)

	assert.Equal(t, -90.0, ElapsedSeconds(a, b))
	assert.Equal(t, 90.0, ElapsedSeconds(b, a))
	assert.Equal(t, 1.5, ElapsedMinutes(b, a))
}

func TestRange(t *testing.T) {
	start := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	dates := Range(start, start.Add(30*time.Minute), 5*time.Minute)

	require.Len(t, dates, 7)
	for i := 1; i < len(dates); i++ {
		assert.Equal(t, 5*time.Minute, dates[i].Sub(dates[i-1]))
	}
	assert.Nil(t, Range(start, start.Add(-time.Minute), 5*time.Minute))
	assert.Nil(t, Range(start, start, 0))
	assert.Len(t, Range(start, start, 5*time.Minute), 1)
}

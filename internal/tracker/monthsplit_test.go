package tracker_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wardenlabs/timewarden/internal/database/types"
	"github.com/wardenlabs/timewarden/internal/tracker"
)

func TestSplitAcrossMonths(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		start    time.Time
		end      time.Time
		expected []types.MonthSegment
	}{
		{
			name:  "single month",
			start: time.Date(2024, 3, 10, 8, 0, 0, 0, time.UTC),
			end:   time.Date(2024, 3, 10, 10, 30, 0, 0, time.UTC),
			expected: []types.MonthSegment{
				{Year: 2024, Month: time.March, Duration: 150 * time.Minute},
			},
		},
		{
			name:  "january to february boundary",
			start: time.Date(2024, 1, 31, 23, 0, 0, 0, time.UTC),
			end:   time.Date(2024, 2, 1, 1, 30, 0, 0, time.UTC),
			expected: []types.MonthSegment{
				{Year: 2024, Month: time.January, Duration: time.Hour},
				{Year: 2024, Month: time.February, Duration: 90 * time.Minute},
			},
		},
		{
			name:  "year boundary",
			start: time.Date(2023, 12, 31, 23, 30, 0, 0, time.UTC),
			end:   time.Date(2024, 1, 1, 0, 30, 0, 0, time.UTC),
			expected: []types.MonthSegment{
				{Year: 2023, Month: time.December, Duration: 30 * time.Minute},
				{Year: 2024, Month: time.January, Duration: 30 * time.Minute},
			},
		},
		{
			name:  "spanning three months",
			start: time.Date(2024, 1, 31, 12, 0, 0, 0, time.UTC),
			end:   time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
			expected: []types.MonthSegment{
				{Year: 2024, Month: time.January, Duration: 12 * time.Hour},
				{Year: 2024, Month: time.February, Duration: 29 * 24 * time.Hour},
				{Year: 2024, Month: time.March, Duration: 12 * time.Hour},
			},
		},
		{
			name:     "empty interval",
			start:    time.Date(2024, 3, 10, 8, 0, 0, 0, time.UTC),
			end:      time.Date(2024, 3, 10, 8, 0, 0, 0, time.UTC),
			expected: nil,
		},
		{
			name:     "inverted interval",
			start:    time.Date(2024, 3, 10, 8, 0, 0, 0, time.UTC),
			end:      time.Date(2024, 3, 10, 7, 0, 0, 0, time.UTC),
			expected: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			segments := tracker.SplitAcrossMonths(tt.start, tt.end)
			assert.Equal(t, tt.expected, segments)
		})
	}
}

func TestSplitAcrossMonthsSumsExactly(t *testing.T) {
	t.Parallel()

	start := time.Date(2023, 11, 14, 3, 12, 45, 987654321, time.UTC)
	end := time.Date(2024, 2, 2, 19, 59, 59, 123456789, time.UTC)

	segments := tracker.SplitAcrossMonths(start, end)
	require.Len(t, segments, 4)

	var sum time.Duration
	for _, seg := range segments {
		sum += seg.Duration
	}

	assert.Equal(t, end.Sub(start), sum)
}

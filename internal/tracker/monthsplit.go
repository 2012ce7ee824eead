package tracker

import (
	"time"

	"github.com/wardenlabs/timewarden/internal/database/types"
)

// SplitAcrossMonths divides the interval [start, end) into per-month
// segments along UTC calendar month boundaries. The segment durations sum
// to exactly end.Sub(start). An empty or inverted interval yields nil.
func SplitAcrossMonths(start, end time.Time) []types.MonthSegment {
	start = start.UTC()
	end = end.UTC()

	if !end.After(start) {
		return nil
	}

	var segments []types.MonthSegment

	cursor := start
	for cursor.Before(end) {
		boundary := nextMonthStart(cursor)
		segmentEnd := boundary
		if boundary.After(end) {
			segmentEnd = end
		}

		segments = append(segments, types.MonthSegment{
			Year:     cursor.Year(),
			Month:    cursor.Month(),
			Duration: segmentEnd.Sub(cursor),
		})

		cursor = segmentEnd
	}

	return segments
}

// nextMonthStart returns midnight UTC on the first day of the month after t.
func nextMonthStart(t time.Time) time.Time {
	year, month, _ := t.Date()
	return time.Date(year, month, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
}

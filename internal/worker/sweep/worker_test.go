package sweep

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestNextRun(t *testing.T) {
	t.Parallel()

	w := New(nil, nil, 6, zap.NewNop())

	// Before today's run hour the sweep fires later the same day.
	w.clock = func() time.Time {
		return time.Date(2024, time.March, 1, 4, 30, 0, 0, time.UTC)
	}
	assert.Equal(t, time.Date(2024, time.March, 1, 6, 0, 0, 0, time.UTC), w.nextRun())

	// At or after the run hour it rolls over to tomorrow.
	w.clock = func() time.Time {
		return time.Date(2024, time.March, 1, 6, 0, 0, 0, time.UTC)
	}
	assert.Equal(t, time.Date(2024, time.March, 2, 6, 0, 0, 0, time.UTC), w.nextRun())

	w.clock = func() time.Time {
		return time.Date(2024, time.March, 31, 23, 59, 0, 0, time.UTC)
	}
	assert.Equal(t, time.Date(2024, time.April, 1, 6, 0, 0, 0, time.UTC), w.nextRun())
}

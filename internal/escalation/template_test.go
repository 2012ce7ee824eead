package escalation_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/wardenlabs/timewarden/internal/escalation"
)

func TestRenderWarning(t *testing.T) {
	t.Parallel()

	payload := escalation.RenderWarning(
		"{user}: {time_left} left of {deadline}, you have tracked {tracked}",
		escalation.WarningVars{
			UserID:   10,
			Deadline: 14 * 24 * time.Hour,
			Elapsed:  7 * 24 * time.Hour,
			Tracked:  90 * time.Minute,
		})

	assert.Equal(t, "<@10>: 1 week left of 2 weeks, you have tracked 1 hour 30 minutes", payload)
}

func TestRenderWarningClampsNegativeRemainder(t *testing.T) {
	t.Parallel()

	payload := escalation.RenderWarning("{time_left}", escalation.WarningVars{
		Deadline: time.Hour,
		Elapsed:  2 * time.Hour,
	})

	assert.Equal(t, "0 seconds", payload)
}

func TestRenderStaffPing(t *testing.T) {
	t.Parallel()

	payload := escalation.RenderStaffPing(
		"{user} has held {role} for {elapsed}",
		escalation.StaffVars{UserID: 10, RoleID: 100, Elapsed: 15 * 24 * time.Hour},
	)

	assert.Equal(t, "<@10> has held <@&100> for 2 weeks 1 day", payload)
}

func TestRenderLeavesUnknownPlaceholders(t *testing.T) {
	t.Parallel()

	payload := escalation.RenderStaffPing("{user} {unknown}", escalation.StaffVars{UserID: 10})
	assert.Equal(t, "<@10> {unknown}", payload)
}

package escalation

import (
	"strconv"
	"strings"
	"time"

	"github.com/wardenlabs/timewarden/internal/duration"
)

// WarningVars is the placeholder vocabulary available to per-warning
// messages sent to the role holder.
type WarningVars struct {
	UserID   uint64
	Deadline time.Duration
	Elapsed  time.Duration
	Tracked  time.Duration
}

// StaffVars is the placeholder vocabulary available to the staff-ping
// message. It is disjoint from the warning vocabulary.
type StaffVars struct {
	UserID  uint64
	RoleID  uint64
	Elapsed time.Duration
}

// RenderWarning substitutes the warning placeholders into the template.
// Substitution is literal, there is no logic in templates.
func RenderWarning(template string, vars WarningVars) string {
	remaining := vars.Deadline - vars.Elapsed
	if remaining < 0 {
		remaining = 0
	}

	return strings.NewReplacer(
		"{user}", userMention(vars.UserID),
		"{deadline}", duration.Format(vars.Deadline),
		"{elapsed}", duration.Format(vars.Elapsed),
		"{time_left}", duration.Format(remaining),
		"{tracked}", duration.Format(vars.Tracked),
	).Replace(template)
}

// RenderStaffPing substitutes the staff-ping placeholders into the template.
func RenderStaffPing(template string, vars StaffVars) string {
	return strings.NewReplacer(
		"{user}", userMention(vars.UserID),
		"{role}", roleMention(vars.RoleID),
		"{elapsed}", duration.Format(vars.Elapsed),
	).Replace(template)
}

func userMention(id uint64) string {
	return "<@" + strconv.FormatUint(id, 10) + ">"
}

func roleMention(id uint64) string {
	return "<@&" + strconv.FormatUint(id, 10) + ">"
}

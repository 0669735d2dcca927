package engine

import (
	"strconv"
	"strings"
	"time"

	"zapflow/internal/repo"
)

// WithinHours evaluates the agent's operating window against the account's
// local clock. A weekday missing from the active set is always out of
// hours; the end time is exclusive.
func WithinHours(agent *repo.AgentConfig, now time.Time) bool {
	if agent.Always24h {
		return true
	}

	loc, err := time.LoadLocation(agent.Timezone)
	if err != nil {
		loc = time.UTC
	}
	local := now.In(loc)

	active := false
	for _, day := range agent.Weekdays {
		if time.Weekday(day) == local.Weekday() {
			active = true
			break
		}
	}
	if !active {
		return false
	}

	start, okStart := parseClock(agent.StartTime)
	end, okEnd := parseClock(agent.EndTime)
	if !okStart || !okEnd {
		return true
	}

	minute := local.Hour()*60 + local.Minute()
	if start <= end {
		return minute >= start && minute < end
	}
	// Overnight window, e.g. 22:00-06:00.
	return minute >= start || minute < end
}

// parseClock converts "HH:MM" into minutes since midnight.
func parseClock(val string) (int, bool) {
	parts := strings.SplitN(strings.TrimSpace(val), ":", 2)
	if len(parts) != 2 {
		return 0, false
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, false
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, false
	}
	return hour*60 + minute, true
}

package notify

import (
	"time"

	"github.com/adhocore/gronx"
)

// Schedule resolves a config interval string into a tick cadence for
// the Notification Poller and Reminder Scheduler. Most deployments set
// a plain Go duration ("15s", "45s"); Schedule also accepts a cron
// expression so an admin can move either loop onto a cron-style
// cadence (e.g. "*/30 7-22 * * *" to skip nights) without a config
// schema change.
type Schedule struct {
	interval time.Duration
	cronExpr string
	gx       gronx.Gronx
}

// ParseSchedule parses spec, falling back to fallback when spec is
// empty or unparsable as either a duration or a cron expression.
func ParseSchedule(spec string, fallback time.Duration) Schedule {
	if spec == "" {
		return Schedule{interval: fallback}
	}
	if d, err := time.ParseDuration(spec); err == nil && d > 0 {
		return Schedule{interval: d}
	}
	gx := gronx.New()
	if gx.IsValid(spec) {
		return Schedule{cronExpr: spec, gx: gx, interval: time.Second}
	}
	return Schedule{interval: fallback}
}

// TickInterval is how often the caller's ticker must fire so Due gets
// a chance to evaluate: the parsed duration itself for a plain
// schedule, or a 1-second poll resolution for a cron schedule.
func (s Schedule) TickInterval() time.Duration { return s.interval }

// Due reports whether the schedule should fire at moment t. A plain
// duration schedule is always due (the caller's ticker already spaces
// ticks by the interval); a cron schedule defers to gronx.
func (s Schedule) Due(t time.Time) bool {
	if s.cronExpr == "" {
		return true
	}
	ok, _ := s.gx.IsDue(s.cronExpr, t)
	return ok
}

package schedule

import (
	"time"

	"github.com/robfig/cron/v3"

	"github.com/teranos/etlpulse/errors"
)

// Standard five-field cron plus descriptors such as @hourly and @every 5m.
// A CRON_TZ=<zone> prefix evaluates the expression in that zone; otherwise
// expressions are evaluated in UTC.
var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ParseCron parses a cron expression
func ParseCron(expr string) (cron.Schedule, error) {
	if expr == "" {
		return nil, errors.NewInvalidRequestError("cron expression is required")
	}
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrInvalidRequest, "invalid cron expression %q: %v", expr, err)
	}
	return sched, nil
}

// NextRun returns the first activation after the schedule's last run, or
// after its creation when it never ran.
func (s *Schedule) NextRun(sched cron.Schedule) time.Time {
	from := s.CreatedAt
	if s.LastRun != nil {
		from = *s.LastRun
	}
	return sched.Next(from.UTC())
}

// IsDue reports whether now has reached the next activation.
// Missed activations collapse into one run: the next activation is always
// computed from the last run. An expression that never activates (such as
// 30 February) is never due.
func (s *Schedule) IsDue(sched cron.Schedule, now time.Time) (bool, time.Time) {
	next := s.NextRun(sched)
	if next.IsZero() {
		return false, next
	}
	return !now.Before(next), next
}

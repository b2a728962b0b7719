package scheduler

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// MinEveryInterval is the smallest accepted Every() interval (spec §8).
const MinEveryInterval = 1 * time.Second

// minDrift bounds how far behind now+interval an Every reschedule may fall
// when ticks run slow, so a backed-up scheduler doesn't starve later runs.
const minDrift = 1 * time.Second

// cronParser accepts both the standard 5-field dialect (minute hour dom month
// dow) and an optional leading-edge 6th seconds field, per spec §4.C1.
var cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ValidateSchedule rejects malformed schedules at create-time rather than at
// fire-time, per spec §9's cron-footgun guidance.
func ValidateSchedule(s Schedule) error {
	switch s.Kind {
	case ScheduleAt:
		if s.At.IsZero() {
			return fmt.Errorf("at schedule requires a timestamp")
		}
	case ScheduleEvery:
		if time.Duration(s.EveryMs)*time.Millisecond < MinEveryInterval {
			return fmt.Errorf("every interval must be >= %s", MinEveryInterval)
		}
	case ScheduleCron:
		if _, err := cronParser.Parse(s.CronExpr); err != nil {
			return fmt.Errorf("parse cron expression %q: %w", s.CronExpr, err)
		}
		if s.CronTZ != "" {
			if _, err := time.LoadLocation(s.CronTZ); err != nil {
				return fmt.Errorf("load cron timezone %q: %w", s.CronTZ, err)
			}
		}
	default:
		return fmt.Errorf("unknown schedule kind: %s", s.Kind)
	}
	return nil
}

// NextFire computes the next execution instant strictly after nowUTC, or
// returns ok=false when the schedule is exhausted (a past At). prevNext is
// the job's previous next_run_at, used by Every to apply the anti-starvation
// drift rule; pass the zero time on first scheduling.
func NextFire(s Schedule, nowUTC time.Time, prevNext time.Time) (time.Time, bool, error) {
	switch s.Kind {
	case ScheduleAt:
		if s.At.After(nowUTC) {
			return s.At.UTC(), true, nil
		}
		return time.Time{}, false, nil

	case ScheduleEvery:
		interval := time.Duration(s.EveryMs) * time.Millisecond
		if interval < MinEveryInterval {
			return time.Time{}, false, fmt.Errorf("every interval must be >= %s", MinEveryInterval)
		}
		if prevNext.IsZero() {
			return nowUTC.Add(interval), true, nil
		}
		candidate := prevNext.Add(interval)
		floor := nowUTC.Add(minDrift)
		if candidate.Before(floor) {
			candidate = floor
		}
		return candidate, true, nil

	case ScheduleCron:
		sched, err := cronParser.Parse(s.CronExpr)
		if err != nil {
			return time.Time{}, false, fmt.Errorf("parse cron expression %q: %w", s.CronExpr, err)
		}
		loc := time.UTC
		if s.CronTZ != "" {
			loc, err = time.LoadLocation(s.CronTZ)
			if err != nil {
				return time.Time{}, false, fmt.Errorf("load cron timezone %q: %w", s.CronTZ, err)
			}
		}
		// robfig/cron.Next walks forward in the schedule's own location,
		// handling DST per Go's time package: a skipped local wall-clock
		// time normalizes forward to the next valid instant, and an
		// ambiguous (fall-back) wall-clock time resolves to its earlier
		// UTC instant because time.Date always picks the first matching
		// offset transition for a given location.
		next := sched.Next(nowUTC.In(loc))
		return next.UTC(), true, nil

	default:
		return time.Time{}, false, fmt.Errorf("unknown schedule kind: %s", s.Kind)
	}
}

// backoffSteps defines exponential retry delays on consecutive run errors,
// applied to Every/Cron jobs after an error outcome (SPEC_FULL §3).
var backoffSteps = []time.Duration{
	30 * time.Second,
	1 * time.Minute,
	5 * time.Minute,
	15 * time.Minute,
	60 * time.Minute, // cap
}

// backoffDelay returns the retry delay for the given consecutive error count.
func backoffDelay(consecutiveErr int) time.Duration {
	idx := consecutiveErr - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(backoffSteps) {
		idx = len(backoffSteps) - 1
	}
	return backoffSteps[idx]
}

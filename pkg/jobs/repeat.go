package jobs

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// NextRun computes the next due time of a recurring job after now.
// Returns the zero time when the repeat limit is reached.
func NextRun(r *Repeat, now time.Time) (time.Time, error) {
	if r == nil {
		return time.Time{}, nil
	}
	if r.Limit > 0 && r.Count >= r.Limit {
		return time.Time{}, nil
	}
	if r.Pattern != "" {
		schedule, err := cron.ParseStandard(r.Pattern)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid cron pattern %q: %w", r.Pattern, err)
		}
		return schedule.Next(now), nil
	}
	if r.Every > 0 {
		return now.Add(r.Every), nil
	}
	return time.Time{}, fmt.Errorf("repeat needs a cron pattern or an interval")
}

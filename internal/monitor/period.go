package monitor

import (
	"fmt"
	"time"
)

// PeriodBucket maps a point in time to the calendar bucket that scopes
// finding idempotency: YYYY-MM-DD for daily runs, YYYY-Www (ISO week)
// for weekly runs.
func PeriodBucket(runType RunType, t time.Time) string {
	t = t.UTC()
	if runType == RunTypeWeekly {
		year, week := t.ISOWeek()
		return fmt.Sprintf("%04d-W%02d", year, week)
	}
	return t.Format("2006-01-02")
}

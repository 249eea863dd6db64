// Package streak certifies 14-consecutive-day engagement streaks from a
// tester's day buckets.
package streak

import (
	"fmt"
	"sort"
	"time"

	"vouch/internal/clock"
	"vouch/internal/models"
)

// WindowDays — длина окна; streak засчитывается только при полном покрытии.
const WindowDays = 14

type DaySource interface {
	// RecentDays — up to `limit` buckets, most recently *updated* first.
	RecentDays(gigID, testerID string, limit int) ([]models.DayBucket, error)
}

type Evaluator struct {
	days  DaySource
	clock clock.Clock
}

func NewEvaluator(days DaySource, clk clock.Clock) *Evaluator {
	if clk == nil {
		clk = clock.System{}
	}
	return &Evaluator{days: days, clock: clk}
}

// Evaluate — true iff the tester's 14 most-recently-updated buckets form an
// unbroken run of UTC calendar days ending at the evaluation date, each with
// at least one open. Deliberately inspects only the most recent 14
// by update time, not the full history; substituting a calendar-range query
// would change behavior.
func (e *Evaluator) Evaluate(gigID, testerID string) (bool, error) {
	buckets, err := e.days.RecentDays(gigID, testerID, WindowDays)
	if err != nil {
		return false, fmt.Errorf("recent days: %w", err)
	}
	return qualifies(buckets, e.clock.Now()), nil
}

func qualifies(buckets []models.DayBucket, evalAt time.Time) bool {
	if len(buckets) < WindowDays {
		return false
	}

	type day struct {
		date  time.Time
		opens int
	}
	days := make([]day, 0, len(buckets))
	for _, b := range buckets {
		d, err := time.ParseInLocation("2006-01-02", b.DateKey, time.UTC)
		if err != nil {
			return false
		}
		days = append(days, day{date: d, opens: b.Opens})
	}
	sort.Slice(days, func(i, j int) bool { return days[i].date.Before(days[j].date) })

	cutoff := evalAt.UTC().AddDate(0, 0, -(WindowDays - 1))
	for i := 0; i < WindowDays; i++ {
		d := days[i]
		if d.opens <= 0 {
			return false
		}
		want := cutoff.AddDate(0, 0, i)
		if d.date.Year() != want.Year() || d.date.Month() != want.Month() || d.date.Day() != want.Day() {
			return false
		}
	}
	return true
}

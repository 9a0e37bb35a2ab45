package gsc

import (
	"time"

	"github.com/IshaanNene/RankWatch/internal/types"
)

// Range is an inclusive span of calendar days in UTC.
type Range struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Window returns the days-long range ending lagDays before now. Search
// console data lags by a day or two, so the range never includes today.
func Window(now time.Time, lagDays, days int) Range {
	if lagDays < 1 {
		lagDays = 1
	}
	if days < 1 {
		days = 1
	}
	end := truncateDay(now).AddDate(0, 0, -lagDays)
	return Range{
		Start: end.AddDate(0, 0, -(days - 1)),
		End:   end,
	}
}

// NewRange builds a Range from YYYY-MM-DD strings.
func NewRange(start, end string) (Range, error) {
	s, err := time.Parse(types.DateLayout, start)
	if err != nil {
		return Range{}, err
	}
	e, err := time.Parse(types.DateLayout, end)
	if err != nil {
		return Range{}, err
	}
	return Range{Start: s, End: e}, nil
}

// StartDate formats the start day.
func (r Range) StartDate() string { return r.Start.Format(types.DateLayout) }

// EndDate formats the end day.
func (r Range) EndDate() string { return r.End.Format(types.DateLayout) }

// Days returns the number of calendar days covered, inclusive.
func (r Range) Days() int {
	if r.End.Before(r.Start) {
		return 0
	}
	return int(truncateDay(r.End).Sub(truncateDay(r.Start)).Hours()/24) + 1
}

// Contains reports whether the YYYY-MM-DD date falls within the range.
func (r Range) Contains(date string) bool {
	return date >= r.StartDate() && date <= r.EndDate()
}

// FillDays returns one point per day in r, inserting zero-impression points
// for days the provider omitted. Points outside r are dropped.
func FillDays(points []types.TimeSeriesPoint, r Range) []types.TimeSeriesPoint {
	byDate := make(map[string]types.TimeSeriesPoint, len(points))
	for _, p := range points {
		byDate[p.Date] = p
	}

	out := make([]types.TimeSeriesPoint, 0, r.Days())
	for d := truncateDay(r.Start); !d.After(truncateDay(r.End)); d = d.AddDate(0, 0, 1) {
		key := d.Format(types.DateLayout)
		if p, ok := byDate[key]; ok {
			out = append(out, p)
			continue
		}
		out = append(out, types.TimeSeriesPoint{Date: key})
	}
	return out
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

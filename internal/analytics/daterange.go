package analytics

import (
	"math"
	"time"
)

// DateRange is a closed dashboard query window.
type DateRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
	Key  string    `json:"key"`
}

// Range presets accepted by the dashboard boundary.
const (
	Range7d  = "7d"
	Range30d = "30d"
	Range90d = "90d"
	RangeAll = "all"
)

// ResolveRange maps a preset onto a concrete window ending now. The "all"
// preset is clamped to the scope's creation time so it never scans before
// the scope existed. Unknown presets fall back to 7d.
func ResolveRange(preset string, scopeCreated, now time.Time) DateRange {
	now = now.UTC()
	var days int
	switch preset {
	case Range30d:
		days = 30
	case Range90d:
		days = 90
	case RangeAll:
		from := scopeCreated.UTC()
		if from.After(now) {
			from = now
		}
		return DateRange{From: startOfDay(from), To: now, Key: RangeAll}
	default:
		preset = Range7d
		days = 7
	}
	from := startOfDay(now.AddDate(0, 0, -(days - 1)))
	return DateRange{From: from, To: now, Key: preset}
}

// Previous returns the equal-length window immediately preceding r.
func (r DateRange) Previous() DateRange {
	span := r.To.Sub(r.From)
	return DateRange{
		From: r.From.Add(-span - time.Nanosecond),
		To:   r.From.Add(-time.Nanosecond),
		Key:  r.Key,
	}
}

// Days returns the calendar days covered by the range, ascending.
func (r DateRange) Days() []time.Time {
	var days []time.Time
	for d := startOfDay(r.From); !d.After(r.To); d = d.AddDate(0, 0, 1) {
		days = append(days, d)
	}
	return days
}

func startOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// round2 rounds to two decimal places, the precision of all dashboard rates.
func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// pctChange returns the percentage change from base to current, 0 when the
// baseline is 0 (never divide-by-zero).
func pctChange(base, current float64) float64 {
	if base == 0 {
		return 0
	}
	return round2((current - base) / base * 100)
}

// rate returns part/whole as a percentage rounded to 2 decimals, 0 when
// whole is 0.
func rate(part, whole float64) float64 {
	if whole == 0 {
		return 0
	}
	return round2(part / whole * 100)
}

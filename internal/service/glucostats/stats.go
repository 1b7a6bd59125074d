// Package glucostats computes simple aggregate statistics over a window of
// glucose readings.
package glucostats

import (
	"math"

	"glucolink/internal/domain"
)

// Standard clinical time-in-range band, mg/dL.
const (
	RangeLow  = 70
	RangeHigh = 180
)

type Stats struct {
	Count          int     `json:"count"`
	Mean           float64 `json:"mean"`
	Min            int     `json:"min"`
	Max            int     `json:"max"`
	StdDev         float64 `json:"std_dev"`
	TimeInRangePct float64 `json:"time_in_range_pct"`
	LowCount       int     `json:"low_count"`
	HighCount      int     `json:"high_count"`
}

// Compute aggregates the given readings. An empty input yields a zero Stats
// with Count 0; callers decide how to present "no data".
func Compute(readings []domain.Reading) Stats {
	if len(readings) == 0 {
		return Stats{}
	}

	stats := Stats{
		Count: len(readings),
		Min:   readings[0].SGV,
		Max:   readings[0].SGV,
	}
	sum := 0
	inRange := 0
	for _, r := range readings {
		sum += r.SGV
		if r.SGV < stats.Min {
			stats.Min = r.SGV
		}
		if r.SGV > stats.Max {
			stats.Max = r.SGV
		}
		switch {
		case r.SGV < RangeLow:
			stats.LowCount++
		case r.SGV > RangeHigh:
			stats.HighCount++
		default:
			inRange++
		}
	}
	stats.Mean = float64(sum) / float64(stats.Count)
	stats.TimeInRangePct = float64(inRange) / float64(stats.Count) * 100

	variance := 0.0
	for _, r := range readings {
		d := float64(r.SGV) - stats.Mean
		variance += d * d
	}
	stats.StdDev = math.Sqrt(variance / float64(stats.Count))
	return stats
}

package conductor

import "math"

// Resolve interval bounds in milliseconds.
const (
	MinResolveTime int64 = 20
	MaxResolveTime int64 = 200
)

// resolveCurve maps time until the next event to a re-check interval.
// Between points the interval is interpolated linearly; beyond the last
// point it stays at the maximum.
var resolveCurve = []struct{ until, interval float64 }{
	{0, 20},
	{50, 40},
	{100, 65},
	{150, 87},
	{200, 106},
	{500, 200},
}

// CalculateResolveTime returns how long to wait, in milliseconds, before
// re-resolving when the next timeline event is timeUntilNextEvent ms away.
// The result is monotonically non-decreasing in timeUntilNextEvent and
// clamped to [MinResolveTime, MaxResolveTime].
func CalculateResolveTime(timeUntilNextEvent int64, weight float64) int64 {
	return calculateResolveTime(timeUntilNextEvent, weight, MinResolveTime, MaxResolveTime)
}

func calculateResolveTime(timeUntilNextEvent int64, weight float64, lo, hi int64) int64 {
	if weight <= 0 {
		weight = 1
	}

	x := float64(timeUntilNextEvent)
	v := resolveCurve[len(resolveCurve)-1].interval
	if x <= resolveCurve[0].until {
		v = resolveCurve[0].interval
	} else {
		for i := 1; i < len(resolveCurve); i++ {
			a, b := resolveCurve[i-1], resolveCurve[i]
			if x <= b.until {
				v = a.interval + (x-a.until)*(b.interval-a.interval)/(b.until-a.until)
				break
			}
		}
	}

	ms := int64(math.Round(v * weight))
	if ms < lo {
		return lo
	}
	if ms > hi {
		return hi
	}
	return ms
}

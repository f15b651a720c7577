// Package clock centralizes the timestamp formatting rules shared by
// the orchestrator (base file names) and the profile serializer
// (ISO-ish meta timestamps).
package clock

import "time"

// BaseNameTimestamp renders t the way the orchestrator expects for its
// base file name component: "yyyy-MM-dd_HH_mm_ss".
func BaseNameTimestamp(t time.Time) string {
	return t.Format("2006-01-02_15_04_05")
}

// MillisSince returns the (fractional) number of milliseconds between start
// and t, clamped to zero if t precedes start (defensive against clock
// skew between independently-timestamped event streams).
func MillisSince(start, t time.Time) float64 {
	d := t.Sub(start)
	if d < 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}

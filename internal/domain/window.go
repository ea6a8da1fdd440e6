package domain

import "time"

// IsActive reports whether now falls inside [start, end).
func IsActive(now, start, end time.Time) bool {
	return !now.Before(start) && now.Before(end)
}

// HasEnded reports whether now is at or past end.
func HasEnded(now, end time.Time) bool {
	return !now.Before(end)
}

type Window struct {
	Start time.Time
	End   time.Time
}

func (w Window) IsActive(now time.Time) bool {
	return IsActive(now, w.Start, w.End)
}

func (w Window) HasEnded(now time.Time) bool {
	return HasEnded(now, w.End)
}

// WithEarlyJoin widens the window so it opens buffer before Start.
func (w Window) WithEarlyJoin(buffer time.Duration) Window {
	return Window{Start: w.Start.Add(-buffer), End: w.End}
}

package policy

// AdaptiveTimeout tunes the row-close timeout of the adaptive open policy. It
// counts premature closes (a row reopened right after being closed) and
// overdue closes (a row closed by a conflicting request) within a window of
// served requests and nudges the timeout at the end of each window.
type AdaptiveTimeout struct {
	Timeout uint64
	Delta   uint64

	windowSize uint64
	remaining  uint64

	prematureThreshold uint64
	overdueThreshold   uint64
	premature          uint64
	overdue            uint64

	fixed bool
}

// NewAdaptiveTimeout creates a tuner. A fixed tuner never changes the timeout.
func NewAdaptiveTimeout(
	initial, delta, windowSize, prematureThreshold, overdueThreshold uint64,
	fixed bool,
) *AdaptiveTimeout {
	return &AdaptiveTimeout{
		Timeout:            initial,
		Delta:              delta,
		windowSize:         windowSize,
		remaining:          windowSize,
		prematureThreshold: prematureThreshold,
		overdueThreshold:   overdueThreshold,
		fixed:              fixed,
	}
}

// Fixed returns true if the timeout is never tuned.
func (a *AdaptiveTimeout) Fixed() bool {
	return a.fixed
}

// RecordPrematureClose counts a reopening of the row that was just closed.
func (a *AdaptiveTimeout) RecordPrematureClose() {
	if !a.fixed {
		a.premature++
	}
}

// RecordOverdueClose counts a close forced by a conflicting request.
func (a *AdaptiveTimeout) RecordOverdueClose() {
	if !a.fixed {
		a.overdue++
	}
}

// RecordServed counts a served request and adjusts the timeout when the
// window ends.
func (a *AdaptiveTimeout) RecordServed() {
	if a.fixed || a.windowSize == 0 {
		return
	}

	a.remaining--
	if a.remaining > 0 {
		return
	}

	a.remaining = a.windowSize

	switch {
	case a.premature > a.prematureThreshold:
		a.Timeout += a.Delta
	case a.overdue > a.overdueThreshold && a.Timeout >= a.Delta:
		a.Timeout -= a.Delta
	}

	a.premature = 0
	a.overdue = 0
}

package policy

// Bliss blacklists a thread once it has been served Threshold times in a row.
// Blacklisted threads lose arbitration to every other thread until the
// blacklist is cleared.
type Bliss struct {
	Threshold        uint64
	ClearingInterval uint64

	thread    int
	served    uint64
	blacklist map[int]struct{}
}

// NewBliss creates an empty blacklist.
func NewBliss(threshold, clearingInterval uint64) *Bliss {
	return &Bliss{
		Threshold:        threshold,
		ClearingInterval: clearingInterval,
		blacklist:        make(map[int]struct{}),
	}
}

// Served records that a request of thread has been served.
func (b *Bliss) Served(thread int) {
	if thread != b.thread {
		b.thread = thread
		b.served = 1

		return
	}

	b.served++
	if b.served >= b.Threshold {
		b.blacklist[thread] = struct{}{}
		b.thread = 0
		b.served = 0
	}
}

// IsBlacklisted returns true if thread is blacklisted.
func (b *Bliss) IsBlacklisted(thread int) bool {
	_, ok := b.blacklist[thread]
	return ok
}

// Clear empties the blacklist.
func (b *Bliss) Clear() {
	clear(b.blacklist)
}

// NumBlacklisted returns the size of the blacklist.
func (b *Bliss) NumBlacklisted() int {
	return len(b.blacklist)
}

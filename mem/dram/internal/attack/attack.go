// Package attack generates RowHammer traffic from inside a memory controller
// to model denial-of-service attackers.
package attack

import (
	"github.com/sarchlab/rowarmor/mem/dram/internal/addressmapping"
)

// FirstRow is the first victim-adjacent row an attacker hammers. Attackers
// hammer every other row from there so that each pair of hammered rows
// sandwiches a victim.
const FirstRow = 229

// Config describes the attacker threads of one controller.
type Config struct {
	NumThreads    int
	RowsPerThread int
	MaxInFlight   uint64

	// NumHardwareThreads is the number of threads in the system. Attackers
	// take the highest thread IDs.
	NumHardwareThreads int
}

// Attacker is one hammering thread. It cycles over its rows and keeps at
// most MaxInFlight+1 requests in the controller.
type Attacker struct {
	ThreadID int

	addresses   []uint64
	next        int
	inFlight    uint64
	maxInFlight uint64
}

// CanInject returns true if the attacker may add a request.
func (a *Attacker) CanInject() bool {
	return a.inFlight <= a.maxInFlight
}

// Inject returns the next address to hammer and counts it as in flight.
func (a *Attacker) Inject() uint64 {
	if a.next >= len(a.addresses) {
		a.next = 0
	}

	addr := a.addresses[a.next]
	a.next++
	a.inFlight++

	return addr
}

// InFlight returns the number of requests not yet served.
func (a *Attacker) InFlight() uint64 {
	return a.inFlight
}

// Fleet is the set of attackers of a controller.
type Fleet struct {
	attackers []*Attacker
	byThread  map[int]*Attacker
}

// NewFleet creates one attacker per thread. Attacker i hammers bank i of
// rank 0.
func NewFleet(c Config, enc *addressmapping.Encoder) *Fleet {
	f := &Fleet{byThread: make(map[int]*Attacker)}

	for i := 0; i < c.NumThreads; i++ {
		a := &Attacker{
			ThreadID:    c.NumHardwareThreads - i - 1,
			maxInFlight: c.MaxInFlight,
		}

		for j := 0; j < c.RowsPerThread; j++ {
			row := uint64(2*j + FirstRow)
			a.addresses = append(a.addresses, enc.MakeAddress(i, row))
		}

		f.attackers = append(f.attackers, a)
		f.byThread[a.ThreadID] = a
	}

	return f
}

// Attackers returns all attackers in creation order.
func (f *Fleet) Attackers() []*Attacker {
	return f.attackers
}

// Retire marks one request of thread as served. It returns false if the
// thread is not an attacker.
func (f *Fleet) Retire(thread int) bool {
	a, ok := f.byThread[thread]
	if !ok {
		return false
	}

	if a.inFlight > 0 {
		a.inFlight--
	}

	return true
}

// IsAttacker returns true if thread belongs to an attacker.
func (f *Fleet) IsAttacker(thread int) bool {
	_, ok := f.byThread[thread]
	return ok
}

// Package bus tracks when the shared data and command buses are busy.
package bus

import (
	"github.com/google/btree"
	"github.com/sarchlab/rowarmor/sim"
)

const degree = 16

type slot struct {
	time  sim.VTime
	owner uint32
}

func (s slot) Less(than btree.Item) bool {
	return s.time < than.(slot).time
}

// Occupancy is a time-indexed reservation map. Each tick holds at most one
// reservation; reserving a tick that is already taken keeps the first owner.
type Occupancy struct {
	tree *btree.BTree
}

// NewOccupancy creates an empty occupancy map.
func NewOccupancy() *Occupancy {
	return &Occupancy{tree: btree.New(degree)}
}

// Reserve marks a tick as busy.
func (o *Occupancy) Reserve(t sim.VTime, owner uint32) {
	key := slot{time: t}
	if o.tree.Has(key) {
		return
	}

	o.tree.ReplaceOrInsert(slot{time: t, owner: owner})
}

// Prune drops every reservation before t.
func (o *Occupancy) Prune(before sim.VTime) {
	for {
		first := o.tree.Min()
		if first == nil || first.(slot).time >= before {
			return
		}

		o.tree.DeleteMin()
	}
}

// FirstFrom returns the earliest reserved tick at or after t.
func (o *Occupancy) FirstFrom(t sim.VTime) (sim.VTime, bool) {
	var (
		found sim.VTime
		ok    bool
	)

	o.tree.AscendGreaterOrEqual(slot{time: t}, func(i btree.Item) bool {
		found = i.(slot).time
		ok = true

		return false
	})

	return found, ok
}

// FreeFor returns true if no reservation falls in [t, t+length).
func (o *Occupancy) FreeFor(t sim.VTime, length sim.VTime) bool {
	first, ok := o.FirstFrom(t)
	return !ok || first >= t+length
}

// AnyBetween returns true if a reservation in [lo, hi] satisfies match. A
// nil match accepts every owner.
func (o *Occupancy) AnyBetween(
	lo, hi sim.VTime,
	match func(owner uint32) bool,
) bool {
	found := false

	o.tree.AscendGreaterOrEqual(slot{time: lo}, func(i btree.Item) bool {
		s := i.(slot)
		if s.time > hi {
			return false
		}

		if match == nil || match(s.owner) {
			found = true
			return false
		}

		return true
	})

	return found
}

// Len returns the number of reservations.
func (o *Occupancy) Len() int {
	return o.tree.Len()
}

// Package cmdq holds the requests waiting in a memory controller.
package cmdq

import (
	"github.com/google/btree"
	"github.com/sarchlab/rowarmor/mem/dram/internal/signal"
	"github.com/sarchlab/rowarmor/sim"
)

type arrival struct {
	time sim.VTime
	seq  uint64
	req  *signal.Request
}

func (a arrival) Less(than btree.Item) bool {
	o := than.(arrival)
	if a.time != o.time {
		return a.time < o.time
	}

	return a.seq < o.seq
}

// Arrivals is a multimap from admission time to requests. Requests with the
// same time are kept in insertion order.
type Arrivals struct {
	tree    *btree.BTree
	nextSeq uint64
}

// NewArrivals creates an empty arrival map.
func NewArrivals() *Arrivals {
	return &Arrivals{tree: btree.New(16)}
}

// Push schedules a request to be admitted at t.
func (a *Arrivals) Push(t sim.VTime, req *signal.Request) {
	a.tree.ReplaceOrInsert(arrival{time: t, seq: a.nextSeq, req: req})
	a.nextSeq++
}

// PopDue removes and returns every request due at or before t.
func (a *Arrivals) PopDue(t sim.VTime) []*signal.Request {
	var due []*signal.Request

	for {
		first := a.tree.Min()
		if first == nil || first.(arrival).time > t {
			break
		}

		due = append(due, first.(arrival).req)
		a.tree.DeleteMin()
	}

	return due
}

// Next returns the earliest pending admission time.
func (a *Arrivals) Next() (sim.VTime, bool) {
	first := a.tree.Min()
	if first == nil {
		return 0, false
	}

	return first.(arrival).time, true
}

// Len returns the number of pending arrivals.
func (a *Arrivals) Len() int {
	return a.tree.Len()
}

package cmdq

import (
	"github.com/sarchlab/rowarmor/mem/dram/internal/addressmapping"
	"github.com/sarchlab/rowarmor/mem/dram/internal/signal"
)

// Item is an admitted request together with its decoded location.
type Item struct {
	Req *signal.Request
	Loc addressmapping.Location
}

// Queue is the ordered list of admitted requests. The scheduler only looks
// at the first WindowSize entries.
type Queue struct {
	WindowSize int
	entries    []*Item
}

// NewQueue creates a queue with the given scheduling window.
func NewQueue(windowSize int) *Queue {
	return &Queue{WindowSize: windowSize}
}

// Push appends an entry.
func (q *Queue) Push(e *Item) {
	q.entries = append(q.entries, e)
}

// At returns the i-th entry.
func (q *Queue) At(i int) *Item {
	return q.entries[i]
}

// Remove deletes the i-th entry, keeping the order of the rest.
func (q *Queue) Remove(i int) *Item {
	e := q.entries[i]
	q.entries = append(q.entries[:i], q.entries[i+1:]...)

	return e
}

// Len returns the number of queued entries.
func (q *Queue) Len() int {
	return len(q.entries)
}

// Window returns the number of entries visible to the scheduler.
func (q *Queue) Window() int {
	if len(q.entries) < q.WindowSize {
		return len(q.entries)
	}

	return q.WindowSize
}

// HitsOpenRow returns true if any entry in the first limit entries, other
// than skip, targets the given bank and row.
func (q *Queue) HitsOpenRow(skip, limit int, rank, bank int, row uint64) bool {
	for i := 0; i < limit && i < len(q.entries); i++ {
		if i == skip {
			continue
		}

		loc := q.entries[i].Loc
		if loc.Rank == rank && loc.Bank == bank && loc.Row == row {
			return true
		}
	}

	return false
}

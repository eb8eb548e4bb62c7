package org

import (
	"github.com/sarchlab/rowarmor/mem/dram/internal/policy"
	"github.com/sarchlab/rowarmor/mem/dram/internal/signal"
	"github.com/sarchlab/rowarmor/sim"
)

// Bank is the status record of one bank.
type Bank struct {
	ActionTime sim.VTime
	Row        uint64
	ThreadID   int
	Action     Action
	PrevAction Action

	LatestActivate sim.VTime
	LatestWrite    sim.VTime

	// LastAgile is true if the last column access used the agile timing.
	LastAgile bool

	LocalBimodal   policy.Bimodal
	SkipPrediction bool

	// Flags raised by a mitigation and consumed at the next precharge.
	PendingRefresh bool
	PendingUpdate  bool
	PendingSwap    bool

	// PendingRFM is consumed by the refresh management pass instead.
	PendingRFM bool
}

// Apply moves the bank to the state reached by cmd and sets its action time.
// The action time never moves backward; a command that would complete before
// the previous one is held until the previous one completes. An illegal
// command panics.
func (b *Bank) Apply(cmd signal.CommandKind, at sim.VTime) Step {
	step := MustTransition(b.Action, cmd)

	if at < b.ActionTime {
		at = b.ActionTime
	}

	if step.Prev != nil {
		b.PrevAction = *step.Prev
	} else {
		b.PrevAction = b.Action
	}

	b.Action = step.Next
	b.ActionTime = at

	return step
}

// ClearMitigationFlags drops every pending mitigation request.
func (b *Bank) ClearMitigationFlags() {
	b.PendingRefresh = false
	b.PendingUpdate = false
	b.PendingSwap = false
	b.PendingRFM = false
}

// IsOpen returns true if the bank holds an open row.
func (b *Bank) IsOpen() bool {
	return b.Action.RowOpen()
}

// Table holds the banks of all ranks of a controller.
type Table struct {
	banks [][]Bank
}

// NewTable creates a table with every bank idle.
func NewTable(numRanks, banksPerRank int) *Table {
	t := &Table{banks: make([][]Bank, numRanks)}
	for i := range t.banks {
		t.banks[i] = make([]Bank, banksPerRank)
	}

	return t
}

// Bank returns the status of a bank.
func (t *Table) Bank(rank, bank int) *Bank {
	return &t.banks[rank][bank]
}

// NumRanks returns the number of ranks.
func (t *Table) NumRanks() int {
	return len(t.banks)
}

// BanksPerRank returns the number of banks in each rank.
func (t *Table) BanksPerRank() int {
	if len(t.banks) == 0 {
		return 0
	}

	return len(t.banks[0])
}

// Rank returns all banks of a rank.
func (t *Table) Rank(rank int) []Bank {
	return t.banks[rank]
}

// ForEach visits every bank in rank-major order.
func (t *Table) ForEach(f func(rank, bank int, b *Bank)) {
	for r := range t.banks {
		for k := range t.banks[r] {
			f(r, k, &t.banks[r][k])
		}
	}
}

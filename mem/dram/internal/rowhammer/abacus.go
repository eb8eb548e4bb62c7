package rowhammer

import (
	"go.uber.org/zap"

	"github.com/sarchlab/rowarmor/mem/dram/internal/signal"
	"github.com/sarchlab/rowarmor/mem/dram/internal/timing"
	"github.com/sarchlab/rowarmor/sim"
)

type abacusEntry struct {
	row uint64
	rac uint64
	// sav has one bit per bank that activated the row since rac last grew.
	sav uint64
}

// abacusTable is the row activation counter table shared by all banks of a
// rank.
type abacusTable struct {
	entries   []abacusEntry
	spillover uint64
	prt       uint64
	rct       uint64

	refreshCycles       uint64
	periodicRefreshes   uint64
	preventiveRefreshes uint64
	inconsistencies     uint64
}

func newABACuSTable(c Config) *abacusTable {
	return &abacusTable{
		entries: make([]abacusEntry, c.ABACuSEntries),
		prt:     c.ABACuSPRT,
		rct:     c.ABACuSRCT,
	}
}

// activate returns DecisionSwap for a preventive refresh of the row and
// DecisionUpdate for a refresh cycle of the rank.
func (t *abacusTable) activate(bank int, row uint64) Decision {
	d := NoAction
	bit := uint64(1) << uint(bank)

	if e := t.find(row); e != nil {
		if e.sav&bit != 0 {
			e.rac++
			e.sav = bit
		} else {
			e.sav += bit
		}

		if e.rac != 0 && e.rac%t.prt == 0 {
			d = DecisionSwap
			e.sav = 0
			e.rac = t.spillover + 1
		}
	} else {
		e := t.minimum()
		minRAC := e.rac

		switch {
		case minRAC == t.spillover:
			*e = abacusEntry{row: row, rac: t.spillover + 1, sav: bit}
		case minRAC > t.spillover:
			t.spillover++
		default:
			// The smallest counter fell below the spillover counter. Start
			// over with a refresh cycle so that no row is missed.
			t.inconsistencies++
			t.refreshCycle()
			d = DecisionUpdate
		}

		if minRAC == t.prt {
			d = DecisionSwap
			e.sav = 0
			e.rac = t.spillover
		}
	}

	if t.spillover == t.rct {
		t.refreshCycle()
		d = DecisionUpdate
	}

	return d
}

func (t *abacusTable) find(row uint64) *abacusEntry {
	for i := range t.entries {
		if t.entries[i].row == row {
			return &t.entries[i]
		}
	}

	return nil
}

// minimum returns the first entry with the smallest counter.
func (t *abacusTable) minimum() *abacusEntry {
	first := 0
	for i := range t.entries {
		if t.entries[i].rac < t.entries[first].rac {
			first = i
		}
	}

	return &t.entries[first]
}

func (t *abacusTable) refreshCycle() {
	clear(t.entries)
	t.spillover = 0
	t.refreshCycles++
}

func (t *abacusTable) periodicRefresh() {
	clear(t.entries)
	t.periodicRefreshes++
}

// ABACuS shares one activation counter per row across all banks of a rank.
type ABACuS struct {
	tables         []*abacusTable
	rowsPerRefresh uint64
	blastRadius    uint64
	timing         timing.Params
}

func newABACuS(c Config) *ABACuS {
	a := &ABACuS{
		tables:         make([]*abacusTable, c.NumRanks),
		rowsPerRefresh: c.rowsPerRefresh(),
		blastRadius:    c.BlastRadius,
		timing:         c.Timing,
	}

	for i := range a.tables {
		a.tables[i] = newABACuSTable(c)
	}

	c.Logger.Info("ABACuS initialized",
		zap.Uint64("prt", c.ABACuSPRT),
		zap.Uint64("rct", c.ABACuSRCT),
		zap.Uint64("entries", c.ABACuSEntries))

	return a
}

// Scheme returns SchemeABACuS.
func (a *ABACuS) Scheme() Scheme {
	return SchemeABACuS
}

// Activate counts the activation in the table of the rank.
func (a *ABACuS) Activate(act Activation) Decision {
	return a.tables[act.Rank].activate(act.Bank, act.Row)
}

// OnAutoRefresh clears the table of the rank when the refresh window
// restarts. The spillover counter is kept.
func (a *ABACuS) OnAutoRefresh(rank, _ int, page uint64) {
	if page/a.rowsPerRefresh == 0 {
		a.tables[rank].periodicRefresh()
	}
}

// PrechargePenalty is zero. ABACuS acts through rank sweeps.
func (a *ABACuS) PrechargePenalty(_ timing.Profile, _ bool) (uint64, bool) {
	return 0, false
}

// SweepFlags returns the refresh cycle flag, then the preventive refresh
// flag.
func (a *ABACuS) SweepFlags() []Decision {
	return []Decision{DecisionUpdate, DecisionSwap}
}

// Sweep runs a refresh cycle or a preventive refresh on rank.
func (a *ABACuS) Sweep(flag Decision, rank int) (sim.VTime, signal.CommandKind) {
	t := a.tables[rank]
	rowCycle := a.timing.TRAS + a.timing.TRP

	if flag == DecisionUpdate {
		t.refreshCycle()
		busy := a.timing.Ticks(rowCycle) +
			sim.VTime(a.timing.TRFC*refreshesPerWindow)

		return busy, signal.CmdKindRefresh
	}

	t.preventiveRefreshes++

	return a.timing.Ticks(2 * rowCycle * a.blastRadius),
		signal.CmdKindPreventiveRefresh
}

// RefreshCycle resets the table of rank as a refresh cycle does.
func (a *ABACuS) RefreshCycle(rank int) {
	a.tables[rank].refreshCycle()
}

// Spillover returns the spillover counter of rank.
func (a *ABACuS) Spillover(rank int) uint64 {
	return a.tables[rank].spillover
}

// Stats returns the per-rank refresh counters.
func (a *ABACuS) Stats() Stats {
	s := Stats{
		Scheme:   SchemeABACuS.String(),
		Counters: map[string]uint64{},
		PerBank:  map[string][]uint64{},
	}

	for _, t := range a.tables {
		s.Counters["refresh_cycles"] += t.refreshCycles
		s.Counters["preventive_refreshes"] += t.preventiveRefreshes
		s.Counters["periodic_refreshes"] += t.periodicRefreshes
		s.Counters["inconsistencies"] += t.inconsistencies
		s.PerBank["refresh_cycles_per_rank"] = append(
			s.PerBank["refresh_cycles_per_rank"], t.refreshCycles)
		s.PerBank["preventive_refreshes_per_rank"] = append(
			s.PerBank["preventive_refreshes_per_rank"], t.preventiveRefreshes)
	}

	return s
}

package rowhammer

import (
	"go.uber.org/zap"

	"github.com/sarchlab/rowarmor/mem/dram/internal/timing"
)

// grapheneFlushPoints are the refresh slots, in units of rows per refresh,
// at which the tables are cleared. Two flushes per refresh window.
var grapheneFlushPoints = [...]uint64{0, refreshesPerWindow / 2}

// Graphene tracks the most activated rows of each bank with a
// Misra-Gries table and refreshes the neighbors of a row every time its
// count reaches a multiple of the threshold.
type Graphene struct {
	tables         [][]*counterTable
	threshold      uint64
	blastRadius    uint64
	rowsPerRefresh uint64

	refreshedRows uint64
	perBank       [][]uint64
}

func newGraphene(c Config) *Graphene {
	g := &Graphene{
		tables: perBank(c, func() *counterTable {
			return newCounterTable(c.GrapheneTableSize)
		}),
		threshold:      c.ThresholdRH,
		blastRadius:    c.BlastRadius,
		rowsPerRefresh: c.rowsPerRefresh(),
		perBank:        perBank(c, func() uint64 { return 0 }),
	}

	c.Logger.Info("Graphene initialized",
		zap.Uint64("table_size", c.GrapheneTableSize),
		zap.Uint64("threshold", c.ThresholdRH))

	return g
}

// Scheme returns SchemeGraphene.
func (g *Graphene) Scheme() Scheme {
	return SchemeGraphene
}

// Activate counts the activation.
func (g *Graphene) Activate(a Activation) Decision {
	count := g.tables[a.Rank][a.Bank].increment(a.Row)
	if count%g.threshold != 0 {
		return NoAction
	}

	g.refreshedRows += 2 * g.blastRadius
	g.perBank[a.Rank][a.Bank] += 2 * g.blastRadius

	return DecisionRefresh
}

// OnAutoRefresh clears the table of the bank twice per refresh window.
func (g *Graphene) OnAutoRefresh(rank, bank int, page uint64) {
	slot := page / g.rowsPerRefresh
	for _, p := range grapheneFlushPoints {
		if slot == p {
			g.tables[rank][bank].reset()
			return
		}
	}
}

// PrechargePenalty charges two row cycles per victim row on each side.
func (g *Graphene) PrechargePenalty(pr timing.Profile, _ bool) (uint64, bool) {
	return 2 * pr.RowCycle() * g.blastRadius, false
}

// Stats returns the refresh counters.
func (g *Graphene) Stats() Stats {
	return Stats{
		Scheme: SchemeGraphene.String(),
		Counters: map[string]uint64{
			"refreshed_rows": g.refreshedRows,
		},
		PerBank: map[string][]uint64{
			"refreshed_rows": flatten(g.perBank),
		},
	}
}

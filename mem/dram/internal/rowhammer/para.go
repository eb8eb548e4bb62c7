package rowhammer

import (
	"math/rand"

	"go.uber.org/zap"

	"github.com/sarchlab/rowarmor/mem/dram/internal/timing"
)

// PARA refreshes the neighbors of an activated row with a fixed probability.
type PARA struct {
	probability float32
	rng         *rand.Rand

	refreshedRows uint64
}

func newPARA(c Config) *PARA {
	p := &PARA{
		probability: float32(c.PARAProbability) / 10000,
		rng:         rand.New(rand.NewSource(c.Seed)),
	}

	c.Logger.Info("PARA initialized",
		zap.Float32("p_para", p.probability),
		zap.Int64("seed", c.Seed))

	return p
}

// Scheme returns SchemePARA.
func (p *PARA) Scheme() Scheme {
	return SchemePARA
}

// Activate draws a random number and requests a refresh if it falls below
// the probability.
func (p *PARA) Activate(_ Activation) Decision {
	if p.probability > p.rng.Float32() {
		p.refreshedRows++
		return DecisionRefresh
	}

	return NoAction
}

// OnAutoRefresh does nothing. PARA keeps no state.
func (p *PARA) OnAutoRefresh(_, _ int, _ uint64) {}

// PrechargePenalty charges one row cycle.
func (p *PARA) PrechargePenalty(pr timing.Profile, _ bool) (uint64, bool) {
	return pr.RowCycle(), false
}

// Stats returns the number of refreshed rows.
func (p *PARA) Stats() Stats {
	return Stats{
		Scheme: SchemePARA.String(),
		Counters: map[string]uint64{
			"refreshed_rows": p.refreshedRows,
		},
	}
}

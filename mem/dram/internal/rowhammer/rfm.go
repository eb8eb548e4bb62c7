package rowhammer

import (
	"go.uber.org/zap"

	"github.com/sarchlab/rowarmor/mem/dram/internal/timing"
)

// RAMPART counts activations per bank in a rolling accumulated ACT (RAA)
// counter and asks for an RFM command whenever the counter reaches RAAIMT.
type RAMPART struct {
	raaimt uint64
	raa    [][]uint64
	rfms   [][]uint64
}

func newRAMPART(c Config) *RAMPART {
	r := &RAMPART{
		raaimt: c.RAAIMT,
		raa:    perBank(c, func() uint64 { return 0 }),
		rfms:   perBank(c, func() uint64 { return 0 }),
	}

	c.Logger.Info("RAMPART initialized",
		zap.Uint64("raaimt", c.RAAIMT),
		zap.Uint64("trfm", c.Timing.TRFM))

	return r
}

// Scheme returns SchemeRAMPART.
func (r *RAMPART) Scheme() Scheme {
	return SchemeRAMPART
}

// Activate increments the RAA counter of the bank.
func (r *RAMPART) Activate(a Activation) Decision {
	r.raa[a.Rank][a.Bank]++
	if r.raa[a.Rank][a.Bank] >= r.raaimt {
		return DecisionRFM
	}

	return NoAction
}

// OnRFM lowers the RAA counter of the bank by RAAIMT.
func (r *RAMPART) OnRFM(rank, bank int) {
	r.rfms[rank][bank]++

	if r.raa[rank][bank] < r.raaimt {
		r.raa[rank][bank] = 0
		return
	}

	r.raa[rank][bank] -= r.raaimt
}

// RAA returns the RAA counter of a bank.
func (r *RAMPART) RAA(rank, bank int) uint64 {
	return r.raa[rank][bank]
}

// OnAutoRefresh does nothing. RAA counters are only lowered by RFM.
func (r *RAMPART) OnAutoRefresh(_, _ int, _ uint64) {}

// PrechargePenalty is zero. RAMPART acts through RFM commands.
func (r *RAMPART) PrechargePenalty(_ timing.Profile, _ bool) (uint64, bool) {
	return 0, false
}

// Stats returns the number of RFM commands per bank.
func (r *RAMPART) Stats() Stats {
	return rfmStats(SchemeRAMPART, r.rfms)
}

// PRAC keeps one activation counter per row and asks for an RFM command when
// a counter reaches RAAIMT.
type PRAC struct {
	raaimt         uint64
	pages          uint64
	rowsPerRefresh uint64
	counters       [][][]uint32
	rfms           [][]uint64
}

func newPRAC(c Config) *PRAC {
	p := &PRAC{
		raaimt:         c.RAAIMT,
		pages:          c.NumPagesPerBank,
		rowsPerRefresh: c.rowsPerRefresh(),
		counters:       perBank(c, func() []uint32 { return nil }),
		rfms:           perBank(c, func() uint64 { return 0 }),
	}

	c.Logger.Info("PRAC initialized",
		zap.Int("ranks", c.NumRanks),
		zap.Int("banks", c.NumBanks),
		zap.Uint64("pages", c.NumPagesPerBank))

	return p
}

// Scheme returns SchemePRAC.
func (p *PRAC) Scheme() Scheme {
	return SchemePRAC
}

// Activate increments the counter of the row.
func (p *PRAC) Activate(a Activation) Decision {
	rows := p.bank(a.Rank, a.Bank)
	idx := a.Row % uint64(len(rows))

	rows[idx]++
	if uint64(rows[idx]) >= p.raaimt {
		rows[idx] = 0
		return DecisionRFM
	}

	return NoAction
}

// Count returns the activation counter of a row.
func (p *PRAC) Count(rank, bank int, row uint64) uint64 {
	rows := p.bank(rank, bank)
	return uint64(rows[row%uint64(len(rows))])
}

func (p *PRAC) bank(rank, bank int) []uint32 {
	rows := p.counters[rank][bank]
	if rows == nil {
		n := p.pages
		if n == 0 {
			n = 1
		}

		rows = make([]uint32, n)
		p.counters[rank][bank] = rows
	}

	return rows
}

// OnRFM counts the RFM command.
func (p *PRAC) OnRFM(rank, bank int) {
	p.rfms[rank][bank]++
}

// OnAutoRefresh clears the counters of the rows covered by the refresh.
func (p *PRAC) OnAutoRefresh(rank, bank int, page uint64) {
	rows := p.counters[rank][bank]
	if rows == nil {
		return
	}

	for i := page; i < page+p.rowsPerRefresh && i < uint64(len(rows)); i++ {
		rows[i] = 0
	}
}

// PrechargePenalty is zero. PRAC acts through RFM commands.
func (p *PRAC) PrechargePenalty(_ timing.Profile, _ bool) (uint64, bool) {
	return 0, false
}

// Stats returns the number of RFM commands per bank.
func (p *PRAC) Stats() Stats {
	return rfmStats(SchemePRAC, p.rfms)
}

func rfmStats(s Scheme, rfms [][]uint64) Stats {
	var total uint64

	flat := flatten(rfms)
	for _, n := range flat {
		total += n
	}

	return Stats{
		Scheme:   s.String(),
		Counters: map[string]uint64{"rfms": total},
		PerBank:  map[string][]uint64{"rfms": flat},
	}
}

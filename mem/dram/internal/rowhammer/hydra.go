package rowhammer

import (
	"container/list"
	"math/bits"

	"go.uber.org/zap"

	"github.com/sarchlab/rowarmor/mem/dram/internal/timing"
)

// Hydra counts activations per row group first and switches to exact per-row
// counters once a group becomes hot. Per-row counters live in memory (the RCT)
// and are cached in the controller (the RCC).
type Hydra struct {
	gctThreshold uint64
	rctThreshold uint64
	rccEntries   int
	pageSizeBit  uint
	groupBit     uint
	blastRadius  uint64
	tBL          uint64

	gct      []uint64
	rct      map[uint64]uint64
	rcc      *list.List
	rccIndex map[uint64]*list.Element

	gctAccesses uint64
	rccAccesses uint64
	rctAccesses uint64
	refreshes   uint64
	rctUpdates  uint64
	charged     uint64
	chargedUpd  uint64
}

func newHydra(c Config) *Hydra {
	maxRows := uint64(c.NumRanks) * uint64(c.NumBanks) * c.NumPagesPerBank
	groups := uint32(maxRows / c.HydraGCTEntries)

	h := &Hydra{
		gctThreshold: c.HydraGCTThreshold,
		rctThreshold: c.HydraRCTThreshold,
		rccEntries:   int(c.HydraRCCEntries),
		pageSizeBit:  c.PageSizeBit,
		groupBit:     floorLog2(groups),
		blastRadius:  c.BlastRadius,
		tBL:          c.Timing.TBL,
		gct:          make([]uint64, c.HydraGCTEntries),
	}
	h.reset()

	c.Logger.Info("Hydra initialized",
		zap.Uint64("gct_threshold", c.HydraGCTThreshold),
		zap.Uint64("rct_threshold", c.HydraRCTThreshold),
		zap.Uint("group_bit", h.groupBit))

	return h
}

func floorLog2(v uint32) uint {
	if v <= 1 {
		return 0
	}

	return uint(bits.Len32(v) - 1)
}

// Scheme returns SchemeHydra.
func (h *Hydra) Scheme() Scheme {
	return SchemeHydra
}

// Activate counts the activation. The decision carries DecisionUpdate when
// the row counter had to be fetched from memory in the same activation that
// triggered a refresh.
func (h *Hydra) Activate(a Activation) Decision {
	row := a.Address >> h.pageSizeBit
	group := (row >> h.groupBit) % uint64(len(h.gct))

	if h.gct[group] < h.gctThreshold {
		h.gct[group]++
		h.gctAccesses++

		return NoAction
	}

	fetched := h.queryCache(row)
	refresh := h.updateCounter(row)

	switch {
	case refresh && fetched:
		h.refreshes++
		h.rctUpdates++

		return DecisionRefresh | DecisionUpdate
	case refresh:
		h.refreshes++

		return DecisionRefresh
	}

	return NoAction
}

// queryCache looks up row in the RCC and returns true on a miss.
func (h *Hydra) queryCache(row uint64) bool {
	if e, ok := h.rccIndex[row]; ok {
		h.rccAccesses++
		h.rcc.MoveToFront(e)

		return false
	}

	h.rctAccesses++

	if h.rcc.Len() == h.rccEntries {
		back := h.rcc.Back()
		delete(h.rccIndex, back.Value.(uint64))
		h.rcc.Remove(back)
	}

	h.rccIndex[row] = h.rcc.PushFront(row)

	return true
}

// updateCounter increments the RCT counter of row and returns true when it
// reaches the threshold. A row enters the RCT with the group threshold as
// its initial count.
func (h *Hydra) updateCounter(row uint64) bool {
	count, ok := h.rct[row]
	if !ok {
		h.rct[row] = h.gctThreshold
		return false
	}

	count++
	if count >= h.rctThreshold {
		h.rct[row] = 0
		return true
	}

	h.rct[row] = count

	return false
}

// OnAutoRefresh resets every table when the refresh window restarts.
func (h *Hydra) OnAutoRefresh(_, _ int, page uint64) {
	if page == 0 {
		h.reset()
	}
}

func (h *Hydra) reset() {
	clear(h.gct)
	h.rct = make(map[uint64]uint64)
	h.rcc = list.New()
	h.rccIndex = make(map[uint64]*list.Element)
}

// PrechargePenalty charges two row cycles per victim row on each side, plus
// the counter write-back when update is set.
func (h *Hydra) PrechargePenalty(pr timing.Profile, update bool) (uint64, bool) {
	h.charged++
	n := pr.RowCycle() * 2 * h.blastRadius

	if update {
		h.chargedUpd++
		n += 2 * (pr.RowCycle() + pr.TCL + h.tBL*2)
	}

	return n, update
}

// Stats returns the table access and refresh counters.
func (h *Hydra) Stats() Stats {
	return Stats{
		Scheme: SchemeHydra.String(),
		Counters: map[string]uint64{
			"refreshes":         h.refreshes,
			"rct_updates":       h.rctUpdates,
			"gct_accesses":      h.gctAccesses,
			"rcc_accesses":      h.rccAccesses,
			"rct_accesses":      h.rctAccesses,
			"charged_refreshes": h.charged,
			"charged_updates":   h.chargedUpd,
		},
	}
}

package rowhammer

import (
	"go.uber.org/zap"

	"github.com/sarchlab/rowarmor/mem/dram/internal/signal"
	"github.com/sarchlab/rowarmor/mem/dram/internal/timing"
	"github.com/sarchlab/rowarmor/sim"
)

// SRS swaps a hot row with a random row once its count in the hot row
// tracker reaches a multiple of the threshold. The tracker uses the same
// sorted counter table as Graphene.
type SRS struct {
	trackers  [][]*counterTable
	threshold uint64
	swapDelay uint64
	timing    timing.Params

	swaps   uint64
	perBank [][]uint64
}

func newSRS(c Config) *SRS {
	s := &SRS{
		trackers: perBank(c, func() *counterTable {
			return newCounterTable(c.RRSHRTEntries)
		}),
		threshold: c.RRSHRTThreshold,
		swapDelay: c.RRSDelayRowSwap,
		timing:    c.Timing,
		perBank:   perBank(c, func() uint64 { return 0 }),
	}

	c.Logger.Info("SRS initialized",
		zap.Uint64("hrt_entries", c.RRSHRTEntries),
		zap.Uint64("hrt_threshold", c.RRSHRTThreshold),
		zap.Uint64("row_swap_delay", c.RRSDelayRowSwap))

	return s
}

// Scheme returns SchemeSRS.
func (s *SRS) Scheme() Scheme {
	return SchemeSRS
}

// Activate counts the activation and requests a swap at every multiple of
// the threshold.
func (s *SRS) Activate(a Activation) Decision {
	count := s.trackers[a.Rank][a.Bank].increment(a.Row)
	if count == 0 || count%s.threshold != 0 {
		return NoAction
	}

	s.swaps++
	s.perBank[a.Rank][a.Bank]++

	return DecisionSwap
}

// OnAutoRefresh clears the trackers when the refresh window restarts.
func (s *SRS) OnAutoRefresh(rank, bank int, page uint64) {
	if page == 0 {
		s.trackers[rank][bank].reset()
	}
}

// PrechargePenalty is zero. SRS never requests a refresh.
func (s *SRS) PrechargePenalty(_ timing.Profile, _ bool) (uint64, bool) {
	return 0, false
}

// SweepFlags returns the swap flag.
func (s *SRS) SweepFlags() []Decision {
	return []Decision{DecisionSwap}
}

// Sweep closes the rank for one row cycle plus two row swaps.
func (s *SRS) Sweep(_ Decision, _ int) (sim.VTime, signal.CommandKind) {
	n := s.timing.TRAS + s.timing.TRP + 2*s.swapDelay
	return s.timing.Ticks(n), signal.CmdKindRowSwap
}

// Stats returns the swap counters.
func (s *SRS) Stats() Stats {
	return Stats{
		Scheme: SchemeSRS.String(),
		Counters: map[string]uint64{
			"row_swaps": s.swaps,
		},
		PerBank: map[string][]uint64{
			"row_swaps": flatten(s.perBank),
		},
	}
}

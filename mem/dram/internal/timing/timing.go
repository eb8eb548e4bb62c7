// Package timing holds the DRAM timing parameter set of a memory controller.
package timing

import (
	"errors"
	"fmt"

	"github.com/sarchlab/rowarmor/sim"
)

// Params is the immutable set of timing constants of one controller. Unless
// noted otherwise, values are counted in process intervals. ToDir, ToDirAB,
// RefreshInterval, TRFC and TRFM are absolute ticks.
type Params struct {
	ProcessInterval uint64

	TRCD  uint64
	TRR   uint64
	TRP   uint64
	TRTP  uint64
	TWTP  uint64
	TCL   uint64
	TBL   uint64
	TBBL  uint64
	TBBLW uint64
	TRAS  uint64

	TWRBUB uint64
	TRWBUB uint64
	TRRBUB uint64
	TWTR   uint64
	TRTW   uint64
	TRTRS  uint64

	TWRBUBSameGroup uint64
	TRDBUBSameGroup uint64

	MOpenTO      uint64
	AOpenTOInit  uint64
	AOpenTODelta uint64

	TRCDAB uint64
	TRASAB uint64
	TRPAB  uint64
	TCLAB  uint64
	TBLAB  uint64

	ToDir           uint64
	ToDirAB         uint64
	RefreshInterval uint64
	TRFC            uint64
	TRFM            uint64
}

// DefaultParams returns the timing used when no parameter is given.
func DefaultParams() Params {
	p := Params{
		ProcessInterval: 10,
		TRCD:            10,
		TRR:             5,
		TRP:             10,
		TRTP:            10,
		TWTP:            10,
		TCL:             10,
		TBL:             10,
		TRAS:            15,
		TWTR:            8,
		TRTW:            2,
		TRTRS:           4,
		AOpenTOInit:     500,
		AOpenTODelta:    50,
		ToDir:           1000,
	}

	p.TBBL = p.TBL
	p.TBBLW = p.TBL
	p.TWRBUBSameGroup = p.TBBL
	p.TRDBUBSameGroup = p.TBBL
	p.MOpenTO = p.TRAS + p.TRP
	p.TRCDAB = p.TRCD
	p.TRASAB = p.TRAS
	p.TRPAB = p.TRP
	p.TCLAB = p.TCL
	p.TBLAB = p.TBL
	p.ToDirAB = p.ToDir

	return p
}

// Validate checks the parameters against the number of ranks served by the
// controller.
func (p Params) Validate(numRanks uint64) error {
	if p.ProcessInterval == 0 {
		return errors.New("process_interval cannot be 0")
	}

	if numRanks == 0 {
		return errors.New("num_ranks_per_mc cannot be 0")
	}

	if p.RefreshInterval%(numRanks*p.ProcessInterval) != 0 {
		return fmt.Errorf(
			"refresh_interval (%d) must be a multiple of "+
				"num_ranks_per_mc*process_interval (%d)",
			p.RefreshInterval, numRanks*p.ProcessInterval)
	}

	if p.TBL == 0 || p.TBLAB == 0 {
		return errors.New("burst length cannot be 0")
	}

	if p.TRAS < p.TRCD || p.TRASAB < p.TRCDAB {
		return errors.New("tRAS cannot be smaller than tRCD")
	}

	return nil
}

// Ticks converts a number of process intervals to ticks.
func (p Params) Ticks(n uint64) sim.VTime {
	return sim.VTime(n * p.ProcessInterval)
}

// RefreshStep is the distance between two auto-refresh boundaries.
func (p Params) RefreshStep(numRanks uint64) sim.VTime {
	return sim.VTime(p.RefreshInterval / numRanks)
}

// MaxBubbleDistance is the furthest a bank-group bubble can reach back.
func (p Params) MaxBubbleDistance() uint64 {
	if p.TWRBUBSameGroup > p.TRDBUBSameGroup {
		return p.TWRBUBSameGroup
	}

	return p.TRDBUBSameGroup
}

// Profile is the subset of timing that differs between the normal and the
// agile row region.
type Profile struct {
	TRCD  uint64
	TRAS  uint64
	TRP   uint64
	TCL   uint64
	TBL   uint64
	ToDir uint64
}

// Restore returns the restore time after an activation (tRAS - tRCD).
func (pr Profile) Restore() uint64 {
	return pr.TRAS - pr.TRCD
}

// RowCycle returns tRAS + tRP.
func (pr Profile) RowCycle() uint64 {
	return pr.TRAS + pr.TRP
}

// Select returns the timing profile of a normal or an agile access.
func (p Params) Select(agile bool) Profile {
	if agile {
		return Profile{
			TRCD:  p.TRCDAB,
			TRAS:  p.TRASAB,
			TRP:   p.TRPAB,
			TCL:   p.TCLAB,
			TBL:   p.TBLAB,
			ToDir: p.ToDirAB,
		}
	}

	return Profile{
		TRCD:  p.TRCD,
		TRAS:  p.TRAS,
		TRP:   p.TRP,
		TCL:   p.TCL,
		TBL:   p.TBL,
		ToDir: p.ToDir,
	}
}

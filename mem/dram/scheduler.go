package dram

import (
	"log"

	"github.com/sarchlab/rowarmor/mem/dram/internal/cmdq"
	"github.com/sarchlab/rowarmor/mem/dram/internal/org"
	"github.com/sarchlab/rowarmor/sim"
)

// candidate is the request the scheduler would serve so far.
type candidate struct {
	idx         int
	pageHit     bool
	blacklisted bool
	outstanding int
}

// pick scans the scheduling window and returns the index of the request to
// serve at now. Row hits win over row misses. With PAR-BS, the scan stops
// at the batch boundary and threads with fewer outstanding requests win.
// With BLISS, requests from blacklisted threads lose to all others.
func (c *Comp) pick(now sim.VTime) (int, bool) {
	best := candidate{
		idx:         -1,
		blacklisted: true,
		outstanding: c.queue.Len() + 1,
	}

	batchLast := c.queue.WindowSize - 1
	if c.batch.Enabled() {
		batchLast = c.batch.Last()
	}

	for i := 0; i < c.queue.Window(); i++ {
		if c.bliss != nil {
			if best.idx >= 0 && best.pageHit && !best.blacklisted {
				break
			}
		} else if best.idx >= 0 && i > 0 && i > batchLast {
			break
		}

		e := c.queue.At(i)
		b := c.banks.Bank(e.Loc.Rank, e.Loc.Bank)

		if b.Action != org.ActionPrecharge && b.ActionTime > now {
			continue
		}

		switch b.Action {
		case org.ActionPrecharge:
			if !c.prechargeDone(now, b) {
				continue
			}

			c.considerActivate(now, i, e, &best, true)
		case org.ActionIdle:
			c.considerActivate(now, i, e, &best, true)
		case org.ActionActivate, org.ActionRead, org.ActionWrite:
			c.considerOpenBank(now, i, e, b, batchLast, &best)
		default:
			log.Panicf("bank %d:%d in unexpected state %s",
				e.Loc.Rank, e.Loc.Bank, b.Action)
		}
	}

	return best.idx, best.idx >= 0
}

// prechargeDone returns true if a precharging bank can be activated again.
func (c *Comp) prechargeDone(now sim.VTime, b *org.Bank) bool {
	prev := c.timing.Select(b.LastAgile)
	wait := c.ticks(prev.TRP)

	restorePending :=
		!c.contRestoreAfterWrite && b.LatestWrite > b.LatestActivate ||
			!c.contRestoreAfterActivate && b.LatestWrite < b.LatestActivate
	if restorePending {
		wait = c.ticks(prev.TRP + prev.Restore())
	}

	if b.ActionTime+wait > now {
		return false
	}

	return now >= b.LatestActivate+c.ticks(prev.RowCycle())
}

func (c *Comp) activateAllowed(now sim.VTime, rank int) bool {
	return c.lastActivate[rank]+c.ticks(c.timing.TRR) <= now
}

// considerActivate offers a request that needs an activation, or a
// precharge followed by one.
func (c *Comp) considerActivate(
	now sim.VTime,
	i int,
	e *cmdq.Item,
	best *candidate,
	checkBlocked bool,
) {
	thread := e.Req.ThreadID

	if c.bliss != nil {
		listed := c.bliss.IsBlacklisted(thread)
		if !c.activateAllowed(now, e.Loc.Rank) ||
			best.idx != -1 && !(best.blacklisted && !listed) {
			return
		}

		if checkBlocked && c.rowBlocked(now, e) {
			return
		}

		*best = candidate{idx: i, blacklisted: listed,
			outstanding: best.outstanding}

		return
	}

	if best.pageHit || !c.activateAllowed(now, e.Loc.Rank) {
		return
	}

	n := c.batch.Outstanding(thread)
	if n > best.outstanding || n == best.outstanding && best.idx != -1 {
		return
	}

	if checkBlocked && c.rowBlocked(now, e) {
		return
	}

	best.idx = i
	best.outstanding = n
}

func (c *Comp) rowBlocked(now sim.VTime, e *cmdq.Item) bool {
	if c.throttler == nil || e.Loc.Bank >= c.rhBanks {
		return false
	}

	return c.throttler.RowBlocked(e.Loc.Rank, e.Loc.Bank, e.Loc.Row, now)
}

// considerOpenBank offers a request to a bank with an open row.
func (c *Comp) considerOpenBank(
	now sim.VTime,
	i int,
	e *cmdq.Item,
	b *org.Bank,
	batchLast int,
	best *candidate,
) {
	t := c.timing
	pr := t.Select(e.Loc.Agile)

	if b.Action == org.ActionActivate &&
		(b.Row != e.Loc.Row || b.ActionTime+c.ticks(pr.TRCD) > now) {
		return
	}

	if b.Action != org.ActionRead && b.ActionTime+c.ticks(t.TBBLW) > now {
		return
	}

	if b.ActionTime+c.ticks(t.TBBL) > now {
		return
	}

	if b.Row != e.Loc.Row {
		c.considerRowMiss(now, i, e, b, batchLast, best)
		return
	}

	c.considerRowHit(now, i, e, best)
}

// considerRowMiss offers a request that needs the open row closed first.
func (c *Comp) considerRowMiss(
	now sim.VTime,
	i int,
	e *cmdq.Item,
	b *org.Bank,
	batchLast int,
	best *candidate,
) {
	t := c.timing
	pr := t.Select(e.Loc.Agile)

	if b.Action == org.ActionRead && b.ActionTime+c.ticks(t.TRTP) > now ||
		b.Action == org.ActionWrite && b.ActionTime+c.ticks(t.TWTP) > now {
		return
	}

	contPrecharge, contRestore := c.contAfterWrite()
	if b.LatestActivate > b.LatestWrite {
		contPrecharge, contRestore = c.contAfterActivate()
	}

	if contPrecharge && b.LatestActivate+c.ticks(pr.RowCycle()) > now {
		return
	}

	if contRestore && b.LatestActivate+c.ticks(pr.TRAS) > now {
		return
	}

	if c.bliss != nil {
		c.considerActivate(now, i, e, best, false)
		return
	}

	limit := c.queue.WindowSize
	if i <= batchLast && batchLast+1 < limit {
		limit = batchLast + 1
	}

	if c.queue.HitsOpenRow(i, limit, e.Loc.Rank, e.Loc.Bank, b.Row) {
		return
	}

	c.considerActivate(now, i, e, best, false)
}

func (c *Comp) contAfterActivate() (precharge, restore bool) {
	return c.contPrechargeAfterActivate, c.contRestoreAfterActivate
}

func (c *Comp) contAfterWrite() (precharge, restore bool) {
	return c.contPrechargeAfterWrite, c.contRestoreAfterWrite
}

// considerRowHit offers a column access to the open row if the data bus
// and the rank and bank-group turnaround constraints allow it.
func (c *Comp) considerRowHit(
	now sim.VTime,
	i int,
	e *cmdq.Item,
	best *candidate,
) {
	c.rdBus.Prune(now)
	c.wrBus.Prune(now)

	var met bool

	switch {
	case e.Req.Kind.IsRead():
		met = c.readAllowed(now, e)
	case e.Req.Kind.IsWrite():
		met = c.writeAllowed(now, e)
	default:
		log.Panicf("request %s has unknown kind %d", e.Req.ID, e.Req.Kind)
	}

	if !met {
		return
	}

	thread := e.Req.ThreadID

	if c.bliss != nil {
		listed := c.bliss.IsBlacklisted(thread)
		if !listed || best.blacklisted && !best.pageHit {
			*best = candidate{idx: i, pageHit: true, blacklisted: listed,
				outstanding: best.outstanding}
		}

		return
	}

	n := c.batch.Outstanding(thread)
	if !best.pageHit || n < best.outstanding {
		*best = candidate{idx: i, pageHit: true, blacklisted: best.blacklisted,
			outstanding: n}
	}
}

func satSub(a, b sim.VTime) sim.VTime {
	if a < b {
		return 0
	}

	return a - b
}

func (c *Comp) readAllowed(now sim.VTime, e *cmdq.Item) bool {
	t := c.timing
	pr := t.Select(e.Loc.Agile)
	rank := e.Loc.Rank
	cas := now + c.ticks(t.TCL)

	if !c.rdBus.FreeFor(cas, c.ticks(pr.TBL)) {
		return false
	}

	if !c.fullDuplex &&
		c.wrBus.AnyBetween(satSub(cas, c.ticks(t.TWRBUB)), cas, nil) {
		return false
	}

	if t.TWTR > 0 && c.lastWrite[rank]+c.ticks(t.TWTR) > now {
		return false
	}

	if c.lastRead.rank != rank && now < c.lastRead.time+c.ticks(t.TRRBUB) {
		return false
	}

	if c.rankSwitchPending(now, rank) {
		return false
	}

	return !c.sameGroupBusy(now, e, t.TRDBUBSameGroup)
}

func (c *Comp) writeAllowed(now sim.VTime, e *cmdq.Item) bool {
	t := c.timing
	pr := t.Select(e.Loc.Agile)
	rank := e.Loc.Rank
	cas := now + c.ticks(t.TCL)

	if !c.wrBus.FreeFor(cas, c.ticks(pr.TBL)) {
		return false
	}

	if !c.fullDuplex &&
		c.rdBus.AnyBetween(satSub(cas, c.ticks(t.TRWBUB)), cas, nil) {
		return false
	}

	if c.lastReadRank[rank]+c.ticks(t.TRTW) > now {
		return false
	}

	if c.rankSwitchPending(now, rank) {
		return false
	}

	return !c.sameGroupBusy(now, e, t.TWRBUBSameGroup)
}

func (c *Comp) rankSwitchPending(now sim.VTime, rank int) bool {
	return c.lastRank != -1 && c.lastRank != rank &&
		now < c.lastRankAccess+c.ticks(c.timing.TRTRS)
}

// sameGroupBusy returns true if the bank group of e moved data within the
// last bubble process intervals.
func (c *Comp) sameGroupBusy(now sim.VTime, e *cmdq.Item, bubble uint64) bool {
	if !c.bankGroups || now == 0 {
		return false
	}

	c.groupBus.Prune(satSub(now, c.ticks(c.timing.MaxBubbleDistance())))

	owner := c.groupOwner(e.Loc)

	return c.groupBus.AnyBetween(satSub(now, c.ticks(bubble)), now-1,
		func(o uint32) bool { return o == owner })
}

func (c *Comp) groupOwner(loc Location) uint32 {
	return uint32(uint64(loc.Rank)*c.numBankGroups + uint64(loc.BankGroup))
}

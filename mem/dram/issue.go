package dram

import (
	"log"

	"github.com/sarchlab/rowarmor/mem/dram/internal/bus"
	"github.com/sarchlab/rowarmor/mem/dram/internal/cmdq"
	"github.com/sarchlab/rowarmor/mem/dram/internal/org"
	"github.com/sarchlab/rowarmor/mem/dram/internal/rowhammer"
	"github.com/sarchlab/rowarmor/mem/dram/internal/signal"
	"github.com/sarchlab/rowarmor/mem/dram/internal/timing"
	"github.com/sarchlab/rowarmor/sim"
)

// issue sends the next command for the request at index idx.
func (c *Comp) issue(now sim.VTime, idx int) {
	e := c.queue.At(idx)
	b := c.banks.Bank(e.Loc.Rank, e.Loc.Bank)
	thread := e.Req.ThreadID

	switch b.Action {
	case org.ActionPrecharge, org.ActionIdle:
		if b.Action == org.ActionPrecharge && c.adaptive != nil &&
			b.Row == e.Loc.Row {
			c.adaptive.RecordPrematureClose()
		}

		if c.predictors.Training() && !b.SkipPrediction {
			if b.Row == e.Loc.Row {
				c.predictors.RecordRowHit(&b.LocalBimodal, thread)
			} else {
				c.predictors.RecordRowMiss(&b.LocalBimodal, thread)
			}
		}

		b.SkipPrediction = false
		c.activate(now, e, b)
	case org.ActionActivate, org.ActionRead, org.ActionWrite:
		if b.Row != e.Loc.Row {
			c.closeRow(now, e, b)
			return
		}

		c.access(now, idx, e, b)
	default:
		log.Panicf("cannot issue to bank %d:%d in state %s",
			e.Loc.Rank, e.Loc.Bank, b.Action)
	}
}

// activate opens the row of e and lets the mitigation observe the
// activation.
func (c *Comp) activate(now sim.VTime, e *cmdq.Item, b *org.Bank) {
	loc := e.Loc
	thread := e.Req.ThreadID

	b.Apply(signal.CmdKindActivate, now)
	b.Row = loc.Row
	b.ThreadID = thread
	b.LatestActivate = now
	c.lastActivate[loc.Rank] = now

	c.stats.activates++
	c.stats.threads[thread].Activates++
	if loc.Agile {
		c.stats.agileActivates++
	}

	c.traceCommand(CmdActivate, now, loc, thread, e.Req)

	if c.mitigation == nil || loc.Bank >= c.rhBanks {
		return
	}

	d := c.mitigation.Activate(rowhammer.Activation{
		Rank:    loc.Rank,
		Bank:    loc.Bank,
		Row:     loc.Row,
		Address: e.Req.Address,
		Thread:  thread,
		Time:    now,
	})

	b.PendingRefresh = b.PendingRefresh || d.Has(rowhammer.DecisionRefresh)
	b.PendingUpdate = b.PendingUpdate || d.Has(rowhammer.DecisionUpdate)
	b.PendingSwap = b.PendingSwap || d.Has(rowhammer.DecisionSwap)
	b.PendingRFM = b.PendingRFM || d.Has(rowhammer.DecisionRFM)
}

// closeRow handles a row miss on an open bank. The row is precharged, or
// directly replaced when the bank precharges on its own.
func (c *Comp) closeRow(now sim.VTime, e *cmdq.Item, b *org.Bank) {
	thread := e.Req.ThreadID
	prevAction := b.Action

	b.ThreadID = thread

	restorePending :=
		!c.contRestoreAfterWrite && b.LatestWrite > b.LatestActivate ||
			!c.contRestoreAfterActivate && b.LatestWrite < b.LatestActivate
	if restorePending {
		c.stats.restores++
	}

	selfPrecharged :=
		b.LatestActivate > b.LatestWrite && c.contPrechargeAfterActivate ||
			b.LatestActivate < b.LatestWrite && c.contPrechargeAfterWrite

	if selfPrecharged {
		if c.predictors.Training() && !b.SkipPrediction &&
			prevAction != org.ActionActivate {
			c.predictors.RecordRowMiss(&b.LocalBimodal, thread)
		}

		c.activate(now, e, b)
		b.SkipPrediction = false

		return
	}

	b.Apply(signal.CmdKindPrecharge, now)
	c.stats.precharges++

	if c.adaptive != nil {
		c.adaptive.RecordOverdueClose()
	}

	c.traceCommand(CmdPrecharge, now, e.Loc, thread, nil)
	c.chargePenalty(b, c.timing.Select(e.Loc.Agile))
	b.SkipPrediction = false
}

// access serves a row hit and retires the request.
func (c *Comp) access(now sim.VTime, idx int, e *cmdq.Item, b *org.Bank) {
	loc := e.Loc
	thread := e.Req.ThreadID
	prevAction := b.Action

	b.LastAgile = loc.Agile
	b.ThreadID = thread

	write := e.Req.Kind.IsWrite()
	if write {
		c.write(now, e, b)
	} else {
		c.read(now, e, b, prevAction)
	}

	b.SkipPrediction = c.rowReusedSoon(idx, loc)

	if !b.SkipPrediction && !c.predictors.KeepOpen(b.LocalBimodal, thread) {
		c.autoPrecharge(now, e, b, write)
	}

	c.retire(idx, e)

	if c.predictors.Training() && !b.SkipPrediction {
		if prevAction != org.ActionActivate {
			c.predictors.RecordRowHit(&b.LocalBimodal, thread)
		}

		c.predictors.PushHistory(thread, b.Action == org.ActionPrecharge)
	}

	b.SkipPrediction = false
}

func (c *Comp) read(now sim.VTime, e *cmdq.Item, b *org.Bank, prev org.Action) {
	loc := e.Loc
	pr := c.timing.Select(loc.Agile)

	if prev == org.ActionActivate && c.contRestoreAfterActivate {
		c.stats.restores++
	}

	if prev == org.ActionActivate && c.contPrechargeAfterActivate {
		c.stats.precharges++
	}

	if c.lastWriteFlag[loc.Rank] {
		c.lastWriteFlag[loc.Rank] = false
		c.stats.writeToReadSwitches++
	}

	c.stats.reads++
	if loc.Agile {
		c.stats.agileReads++
	}

	b.Apply(signal.CmdKindRead, now)
	c.traceCommand(CmdRead, now, loc, e.Req.ThreadID, e.Req)

	cas, toDir := c.casLatency(now, loc, pr, c.rdBus)
	ecc := c.reserveBursts(now, loc, pr, cas, c.rdBus)

	c.lastRead = readStamp{rank: loc.Rank, time: now}
	c.lastRank = loc.Rank

	busy := pr.TBL
	if ecc {
		busy++
	}

	c.lastReadRank[loc.Rank] = now + c.ticks(busy)
	c.lastRankAccess = c.lastReadRank[loc.Rank]

	c.complete(now, e.Req, toDir)
}

func (c *Comp) write(now sim.VTime, e *cmdq.Item, b *org.Bank) {
	loc := e.Loc
	pr := c.timing.Select(loc.Agile)

	if c.contRestoreAfterWrite {
		c.stats.restores++
	}

	if c.contPrechargeAfterWrite {
		c.stats.precharges++
	}

	c.lastWriteFlag[loc.Rank] = true
	c.stats.writes++
	if loc.Agile {
		c.stats.agileWrites++
	}

	b.LatestWrite = now
	b.Apply(signal.CmdKindWrite, now)
	c.traceCommand(CmdWrite, now, loc, e.Req.ThreadID, e.Req)

	cas, toDir := c.casLatency(now, loc, pr, c.wrBus)
	ecc := c.reserveBursts(now, loc, pr, cas, c.wrBus)

	c.lastRank = loc.Rank

	busy := cas + pr.TBL
	if ecc {
		busy++
	}

	c.lastWrite[loc.Rank] = now + c.ticks(busy)

	if e.Req.Kind != SharedReadWrite {
		return
	}

	e.Req.Kind = SharedRead
	c.complete(now, e.Req, toDir)
}

// casLatency returns the CAS latency and the reply latency of an access.
// Agile accesses use the short CAS latency only if the data bus is free
// for it.
func (c *Comp) casLatency(
	now sim.VTime,
	loc Location,
	pr timing.Profile,
	dataBus *bus.Occupancy,
) (uint64, uint64) {
	t := c.timing
	if !loc.Agile {
		return t.TCL, t.ToDir
	}

	if dataBus.FreeFor(now+c.ticks(t.TCLAB), c.ticks(pr.TBL)) {
		return t.TCLAB, t.ToDirAB
	}

	return t.TCL, t.ToDir
}

// reserveBursts books the data bus and the bank-group bus for an access.
// It returns true if the access carries an extra ECC burst.
func (c *Comp) reserveBursts(
	now sim.VTime,
	loc Location,
	pr timing.Profile,
	cas uint64,
	dataBus *bus.Occupancy,
) bool {
	ecc := c.eccStride > 0 && loc.Column%c.eccStride == 0

	for j := uint64(0); j < pr.TBL; j++ {
		at := now + c.ticks(cas+j)
		if j+1 == pr.TBL && ecc {
			at += c.pi()
		}

		dataBus.Reserve(at, 0)
	}

	if !c.bankGroups {
		return ecc
	}

	owner := c.groupOwner(loc)
	for j := uint64(0); j < pr.TBL; j++ {
		slot := j
		if j+1 == pr.TBL && ecc {
			slot++
		}

		c.groupBus.Reserve(now+c.ticks(slot), owner)
	}

	return ecc
}

// complete replies to a served request.
func (c *Comp) complete(now sim.VTime, req *Request, toDir uint64) {
	at := now + sim.VTime(toDir)
	c.stats.ticksInController += uint64(at - req.ArrivalTime)
	c.reply(at, req)
}

// rowReusedSoon returns true if a later request in the window targets the
// same row.
func (c *Comp) rowReusedSoon(idx int, loc Location) bool {
	for i := idx + 1; i < c.queue.Window(); i++ {
		o := c.queue.At(i).Loc
		if o.Rank == loc.Rank && o.Bank == loc.Bank && o.Row == loc.Row {
			return true
		}
	}

	return false
}

// autoPrecharge closes the row right after a column access.
func (c *Comp) autoPrecharge(now sim.VTime, e *cmdq.Item, b *org.Bank, write bool) {
	t := c.timing
	pr := t.Select(e.Loc.Agile)

	delay := t.TRTP
	contPrecharge, contRestore := c.contAfterWrite()
	if write {
		delay = t.TWTP
	} else if b.LatestActivate > b.LatestWrite {
		contPrecharge, contRestore = c.contAfterActivate()
	}

	at := now + c.ticks(delay)
	counted := true

	switch {
	case !contRestore:
		c.stats.restores++
		at -= c.ticks(min(delay, pr.Restore()))
	case contPrecharge:
		at = satSub(at, c.ticks(t.TRP))
		counted = false
	}

	b.Apply(signal.CmdKindPrecharge, at)
	if counted {
		c.stats.precharges++
	}

	c.traceCommand(CmdPrecharge, at, e.Loc, e.Req.ThreadID, nil)
	c.chargePenalty(b, pr)
}

// retire removes a served request from the queue and from every
// per-thread account.
func (c *Comp) retire(idx int, e *cmdq.Item) {
	loc := e.Loc
	thread := e.Req.ThreadID

	if c.throttler != nil && loc.Bank < c.rhBanks {
		c.throttler.Release(loc.Rank, loc.Bank, thread)
	}

	c.batch.Served(idx, thread, c.queue.Len())

	if c.bliss != nil {
		c.bliss.Served(thread)
	}

	if c.fleet == nil || !c.fleet.Retire(thread) {
		c.demand--
	}

	c.queue.Remove(idx)

	if c.adaptive != nil {
		c.adaptive.RecordServed()
	}
}

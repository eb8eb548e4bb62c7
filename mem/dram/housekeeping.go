package dram

import (
	"github.com/sarchlab/rowarmor/mem/dram/internal/cmdq"
	"github.com/sarchlab/rowarmor/mem/dram/internal/org"
	"github.com/sarchlab/rowarmor/mem/dram/internal/policy"
	"github.com/sarchlab/rowarmor/mem/dram/internal/rowhammer"
	"github.com/sarchlab/rowarmor/mem/dram/internal/signal"
	"github.com/sarchlab/rowarmor/mem/dram/internal/timing"
	"github.com/sarchlab/rowarmor/sim"
)

// clearBlacklist empties the BLISS blacklist at every clearing boundary.
// The clearing timer stops when it finds the queue empty and is restarted
// by the next arrival.
func (c *Comp) clearBlacklist(now sim.VTime) {
	if c.bliss == nil {
		return
	}

	interval := sim.VTime(c.bliss.ClearingInterval)
	if now == 0 || now%interval != 0 {
		return
	}

	if c.queue.Len() == 0 {
		c.blissArmed = false
		return
	}

	c.bliss.Clear()
	c.wakeups.WakeupAt(now + interval)
}

// admit moves the requests due at now into the queue and lets the attackers
// add their requests.
func (c *Comp) admit(now sim.VTime) {
	c.predictors.MaybeSwitch(c.stats.reads + c.stats.writes)

	for _, req := range c.arrivals.PopDue(now) {
		loc := c.decoder.Map(req.Address, req.ThreadID)

		if c.throttler != nil && loc.Bank < c.rhBanks &&
			!c.throttler.Admit(loc.Rank, loc.Bank, req.ThreadID) {
			c.stats.deferredAdmissions++
			c.arrivals.Push(now+c.pi(), req)
			c.wakeups.WakeupAt(now + c.pi())

			continue
		}

		c.batch.Admit(req.ThreadID)
		c.queue.Push(&cmdq.Item{Req: req, Loc: loc})
		c.stats.threads[req.ThreadID].Accesses++
	}

	c.injectAttacks(now)
	c.batch.Form(c.queue.Len())
}

// injectAttacks adds one hammering request per attacker that has room. The
// attackers only run while benign requests are outstanding so that the
// controller drains once the benign traffic ends.
func (c *Comp) injectAttacks(now sim.VTime) {
	if c.fleet == nil || c.demand == 0 {
		return
	}

	for _, a := range c.fleet.Attackers() {
		if !a.CanInject() {
			continue
		}

		req := &Request{
			ID:          sim.GetIDGenerator().Generate(),
			Address:     a.Inject(),
			Kind:        Read,
			ThreadID:    a.ThreadID,
			Internal:    true,
			ArrivalTime: now,
		}

		c.batch.Admit(a.ThreadID)
		c.queue.Push(&cmdq.Item{
			Req: req,
			Loc: c.decoder.Map(req.Address, req.ThreadID),
		})
	}
}

// sweepRanks serves the rank-wide operations requested by the mitigation.
// For each flag, the first rank with a flagged bank has the flag cleared on
// all its banks and every bank busy for the duration of the operation.
func (c *Comp) sweepRanks(now sim.VTime) {
	if c.sweeper == nil {
		return
	}

	for _, flag := range c.sweeper.SweepFlags() {
		rank, ok := c.flaggedRank(flag)
		if !ok {
			continue
		}

		busy, kind := c.sweeper.Sweep(flag, rank)
		for j := range c.banks.Rank(rank) {
			b := c.banks.Bank(rank, j)
			b.Apply(kind, now+busy)
			c.traceCommand(kind, now, Location{Rank: rank, Bank: j, Row: b.Row},
				b.ThreadID, nil)
		}
	}
}

func (c *Comp) flaggedRank(flag rowhammer.Decision) (int, bool) {
	for r := 0; r < c.banks.NumRanks(); r++ {
		found := false

		for j := range c.banks.Rank(r) {
			b := c.banks.Bank(r, j)
			if hasFlag(b, flag) {
				found = true
				clearFlag(b, flag)
			}
		}

		if found {
			return r, true
		}
	}

	return 0, false
}

func hasFlag(b *org.Bank, flag rowhammer.Decision) bool {
	switch flag {
	case rowhammer.DecisionRefresh:
		return b.PendingRefresh
	case rowhammer.DecisionUpdate:
		return b.PendingUpdate
	case rowhammer.DecisionSwap:
		return b.PendingSwap
	case rowhammer.DecisionRFM:
		return b.PendingRFM
	}

	return false
}

func clearFlag(b *org.Bank, flag rowhammer.Decision) {
	switch flag {
	case rowhammer.DecisionRefresh:
		b.PendingRefresh = false
	case rowhammer.DecisionUpdate:
		b.PendingUpdate = false
	case rowhammer.DecisionSwap:
		b.PendingSwap = false
	case rowhammer.DecisionRFM:
		b.PendingRFM = false
	}
}

// autoRefresh refreshes the next rank at every refresh boundary after time
// 0. It returns true if a refresh took the pass.
func (c *Comp) autoRefresh(now sim.VTime) bool {
	if c.timing.RefreshInterval == 0 {
		return false
	}

	numRanks := c.banks.NumRanks()
	step := c.timing.RefreshStep(uint64(numRanks))

	if now == 0 || now%step != 0 {
		return false
	}

	if c.hasWork() {
		c.wakeups.WakeupAt(now + step)
	} else {
		c.refreshArmed = false
	}

	c.wakeups.WakeupAt(now + c.pi())
	c.stats.refreshes++

	c.refreshRank = (c.refreshRank + 1) % numRanks
	if c.refreshRank == 0 {
		c.refreshPage = (c.refreshPage + c.numPages/refreshesPerWindow) %
			c.numPages
	}

	done := now + sim.VTime(c.timing.TRFC)
	prechargeTime := c.ticks(c.timing.TRP)
	if done > prechargeTime {
		done -= prechargeTime
	} else {
		done = 0
	}

	for j := range c.banks.Rank(c.refreshRank) {
		b := c.banks.Bank(c.refreshRank, j)

		b.Apply(signal.CmdKindRefresh, done)
		b.Row = c.refreshPage
		b.SkipPrediction = true

		c.traceCommand(CmdRefresh, now,
			Location{Rank: c.refreshRank, Bank: j, Row: c.refreshPage},
			b.ThreadID, nil)

		if c.mitigation != nil && j < c.rhBanks {
			c.mitigation.OnAutoRefresh(c.refreshRank, j, c.refreshPage)
		}
	}

	return true
}

// refreshesPerWindow is the number of refresh commands that cover every row
// of a bank.
const refreshesPerWindow = 8192

// refreshManagement issues the RFM commands requested by the mitigation.
func (c *Comp) refreshManagement(now sim.VTime) {
	if c.rfm == nil {
		return
	}

	c.banks.ForEach(func(rank, bank int, b *org.Bank) {
		if !b.PendingRFM {
			return
		}

		b.PendingRFM = false
		b.Apply(signal.CmdKindRFM, now+sim.VTime(c.timing.TRFM))
		c.rfm.OnRFM(rank, bank)
		c.traceCommand(CmdRFM, now, Location{Rank: rank, Bank: bank, Row: b.Row},
			b.ThreadID, nil)
	})
}

// closeIdleRows closes rows held open by a timeout policy once the timeout
// expires. At most one row is closed per rank and pass.
func (c *Comp) closeIdleRows(now sim.VTime) {
	for r := 0; r < c.banks.NumRanks(); r++ {
		for j := range c.banks.Rank(r) {
			b := c.banks.Bank(r, j)
			if !c.timedOut(now, b) {
				continue
			}

			b.Apply(signal.CmdKindPrecharge, now)
			c.stats.precharges++
			c.chargePenalty(b, c.timing.Select(false))
			c.traceCommand(CmdPrecharge, now,
				Location{Rank: r, Bank: j, Row: b.Row}, b.ThreadID, nil)
			c.wakeups.WakeupAt(now + c.pi())

			break
		}
	}
}

func (c *Comp) timedOut(now sim.VTime, b *org.Bank) bool {
	t := c.timing

	switch b.Action {
	case org.ActionRead:
		if b.ActionTime+c.ticks(t.TBBL) > now ||
			b.ActionTime+c.ticks(t.TRTP) > now {
			return false
		}
	case org.ActionWrite:
		if b.ActionTime+c.ticks(t.TBBLW) > now ||
			b.ActionTime+c.ticks(t.TWTP) > now {
			return false
		}
	default:
		return false
	}

	if now < b.LatestActivate+c.ticks(t.Select(b.LastAgile).TRAS) {
		return false
	}

	switch c.pagePolicy {
	case policy.MinimalistOpen:
		return now >= b.LatestActivate+c.ticks(t.MOpenTO)
	case policy.AdaptiveOpen:
		return now >= b.ActionTime+c.ticks(c.adaptive.Timeout)
	}

	return false
}

// chargePenalty extends a precharge by the preventive refresh the
// mitigation requested for the bank.
func (c *Comp) chargePenalty(b *org.Bank, pr timing.Profile) {
	if !b.PendingRefresh || c.mitigation == nil {
		return
	}

	cycles, updated := c.mitigation.PrechargePenalty(pr, b.PendingUpdate)
	b.ActionTime += c.ticks(cycles)
	b.PendingRefresh = false

	if updated {
		b.PendingUpdate = false
	}

	c.stats.preventiveRefreshes++
}

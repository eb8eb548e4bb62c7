// Package dram provides a request-level DRAM memory controller with
// configurable page policies, request prioritization and RowHammer
// mitigations.
package dram

import (
	"log"

	"go.uber.org/zap"

	"github.com/sarchlab/rowarmor/mem/dram/internal/addressmapping"
	"github.com/sarchlab/rowarmor/mem/dram/internal/attack"
	"github.com/sarchlab/rowarmor/mem/dram/internal/bus"
	"github.com/sarchlab/rowarmor/mem/dram/internal/cmdq"
	"github.com/sarchlab/rowarmor/mem/dram/internal/org"
	"github.com/sarchlab/rowarmor/mem/dram/internal/policy"
	"github.com/sarchlab/rowarmor/mem/dram/internal/rowhammer"
	"github.com/sarchlab/rowarmor/mem/dram/internal/timing"
	"github.com/sarchlab/rowarmor/sim"
)

type readStamp struct {
	rank int
	time sim.VTime
}

// Comp is a memory controller. It runs one scheduling pass per process
// interval while it has work and issues at most one command per pass.
type Comp struct {
	*sim.ComponentBase

	wakeups  *sim.WakeupScheduler
	logger   *zap.Logger
	receiver ReplyReceiver

	timing     timing.Params
	decoder    *addressmapping.Decoder
	numPages   uint64
	numThreads int

	fullDuplex        bool
	bankGroups        bool
	numBankGroups     uint64
	fixedLatency      bool
	fixedBWAndLatency bool

	contRestoreAfterActivate   bool
	contRestoreAfterWrite      bool
	contPrechargeAfterActivate bool
	contPrechargeAfterWrite    bool
	eccStride                  uint64

	pagePolicy policy.Policy
	predictors *policy.Predictors
	adaptive   *policy.AdaptiveTimeout
	batch      *policy.Batch
	bliss      *policy.Bliss

	mitigation rowhammer.Mitigation
	rhBanks    int
	sweeper    rowhammer.RankSweeper
	rfm        rowhammer.RFMHandler
	throttler  rowhammer.Throttler
	fleet      *attack.Fleet

	banks    *org.Table
	queue    *cmdq.Queue
	arrivals *cmdq.Arrivals
	rdBus    *bus.Occupancy
	wrBus    *bus.Occupancy
	groupBus *bus.Occupancy

	lastActivate   []sim.VTime
	lastWrite      []sim.VTime
	lastReadRank   []sim.VTime
	lastWriteFlag  []bool
	lastRead       readStamp
	lastRank       int
	lastRankAccess sim.VTime

	lastPass    sim.VTime
	lastSerial  sim.VTime
	refreshRank int
	refreshPage uint64

	refreshArmed bool
	blissArmed   bool
	demand       int

	stats counters
}

// AddReqEvent delivers a request to the controller at time t. Requests from
// another controller are served but never replied to.
func (c *Comp) AddReqEvent(t sim.VTime, req *Request, fromController bool) {
	c.Lock()
	defer c.Unlock()

	pi := sim.VTime(c.timing.ProcessInterval)
	t = (t + pi - 1) / pi * pi

	if req.ThreadID < 0 || req.ThreadID >= c.numThreads {
		log.Panicf("%s: thread %d out of range [0, %d)",
			c.Name(), req.ThreadID, c.numThreads)
	}

	req.Internal = req.Internal || fromController
	req.ArrivalTime = t
	c.stats.requests++

	switch {
	case c.fixedLatency:
		c.serveFixed(t, t, req)
	case c.fixedBWAndLatency:
		if t == 0 || t > c.lastSerial {
			c.lastSerial = t
		} else {
			c.lastSerial += pi
		}

		c.serveFixed(t, c.lastSerial, req)
	default:
		c.arrivals.Push(t, req)
		c.demand++
		c.wakeups.WakeupAt(t)
		c.armPeriodicEvents(t)
	}
}

// serveFixed serves a request without modeling the banks. The request
// leaves the controller at start.
func (c *Comp) serveFixed(arrival, start sim.VTime, req *Request) {
	switch req.Kind {
	case Evict, EvictOwned, DirEvict:
		c.stats.writes++
		return
	}

	c.stats.reads++
	toDir := sim.VTime(c.timing.ToDir)
	c.stats.ticksInController += uint64(start - arrival + toDir)

	c.reply(start+toDir, req)
}

// AddRepEvent accepts a reply addressed to the controller. Controllers only
// produce replies, so a reply is a wiring error.
func (c *Comp) AddRepEvent(_ sim.VTime, req *Request) {
	log.Panicf("%s: unexpected reply for request %s", c.Name(), req.ID)
}

// Handle runs one scheduling pass.
func (c *Comp) Handle(e sim.Event) error {
	c.Lock()
	defer c.Unlock()

	switch e := e.(type) {
	case sim.WakeupEvent:
		c.wakeups.Consume(e.Time())
		c.process(e.Time())
	default:
		log.Panicf("cannot handle event of type %T", e)
	}

	return nil
}

func (c *Comp) reply(t sim.VTime, req *Request) {
	if req.Internal {
		return
	}

	c.InvokeHook(sim.HookCtx{
		Domain: c,
		Now:    t,
		Pos:    HookPosReply,
		Item:   req,
	})

	c.receiver.AddRepEvent(t, req)
}

func (c *Comp) traceCommand(
	kind CommandKind,
	at sim.VTime,
	loc Location,
	thread int,
	req *Request,
) {
	if c.NumHooks() == 0 {
		return
	}

	c.InvokeHook(sim.HookCtx{
		Domain: c,
		Now:    at,
		Pos:    HookPosCommand,
		Item: Command{
			Kind:     kind,
			Time:     at,
			Location: loc,
			ThreadID: thread,
			Request:  req,
		},
	})
}

// process is one scheduling pass at now.
func (c *Comp) process(now sim.VTime) {
	c.countActiveBanks(now)

	c.clearBlacklist(now)
	c.admit(now)
	c.sweepRanks(now)

	if c.autoRefresh(now) {
		return
	}

	c.refreshManagement(now)
	c.keepTimerAlive(now)

	if idx, ok := c.pick(now); ok {
		c.issue(now, idx)
	} else if c.pagePolicy.TimesOut() {
		c.closeIdleRows(now)
	}

	if c.queue.Len() > 0 {
		c.wakeups.WakeupAt(now + c.pi())
	}
}

func (c *Comp) pi() sim.VTime {
	return sim.VTime(c.timing.ProcessInterval)
}

// ticks converts process intervals to ticks.
func (c *Comp) ticks(n uint64) sim.VTime {
	return c.timing.Ticks(n)
}

func (c *Comp) countActiveBanks(now sim.VTime) {
	open := uint64(0)
	c.banks.ForEach(func(_, _ int, b *org.Bank) {
		if b.IsOpen() {
			open++
		}
	})

	c.stats.activeBankCycles += uint64(now-c.lastPass) /
		c.timing.ProcessInterval * open
	c.lastPass = now
}

// keepTimerAlive keeps passes running while timeout policies hold rows
// open with nothing queued.
func (c *Comp) keepTimerAlive(now sim.VTime) {
	if !c.pagePolicy.TimesOut() || c.queue.Len() > 0 {
		return
	}

	anyOpen := false
	c.banks.ForEach(func(_, _ int, b *org.Bank) {
		anyOpen = anyOpen || b.IsOpen()
	})

	if anyOpen {
		c.wakeups.WakeupAt(now + c.pi())
	}
}

func (c *Comp) hasWork() bool {
	return c.queue.Len() > 0 || c.arrivals.Len() > 0
}

// nextBoundary returns the first multiple of step that is at least t and at
// least one step.
func nextBoundary(t, step sim.VTime) sim.VTime {
	b := (t + step - 1) / step * step
	if b < step {
		return step
	}

	return b
}

// armPeriodicEvents restarts the refresh and blacklist clearing timers after
// the controller has been idle.
func (c *Comp) armPeriodicEvents(t sim.VTime) {
	if c.timing.RefreshInterval != 0 && !c.refreshArmed {
		c.refreshArmed = true
		step := c.timing.RefreshStep(uint64(c.banks.NumRanks()))
		c.wakeups.WakeupAt(nextBoundary(t, step))
	}

	if c.bliss != nil && !c.blissArmed {
		c.blissArmed = true
		c.wakeups.WakeupAt(
			nextBoundary(t, sim.VTime(c.bliss.ClearingInterval)))
	}
}

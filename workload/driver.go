package workload

import (
	"errors"
	"fmt"
	"log"

	"go.uber.org/zap"

	"github.com/sarchlab/rowarmor/mem/dram"
	"github.com/sarchlab/rowarmor/sim"
)

// RequestSink accepts requests. A dram.Comp is a RequestSink.
type RequestSink interface {
	AddReqEvent(t sim.VTime, req *dram.Request, fromController bool)
}

type issueEvent struct {
	*sim.EventBase
}

type replyEvent struct {
	*sim.EventBase
	req *dram.Request
}

// Driver replays a trace into a controller and acts as the receiver of its
// replies. With a limit on outstanding requests, a thread stalls until one of
// its reads is replied.
//
// Driver is not safe for concurrent use. It must run on the same serial engine
// as the controller it drives.
type Driver struct {
	name           string
	engine         sim.Engine
	sink           RequestSink
	logger         *zap.Logger
	maxOutstanding int

	entries     []TraceEntry
	next        int
	outstanding []int
	issuePended bool
	nextID      uint64

	issued    uint64
	writes    uint64
	latencies []float64
	finish    sim.VTime
}

// DriverBuilder builds Drivers.
type DriverBuilder struct {
	engine         sim.Engine
	logger         *zap.Logger
	numThreads     int
	maxOutstanding int
}

// MakeDriverBuilder creates a DriverBuilder for a single open-loop thread.
func MakeDriverBuilder() DriverBuilder {
	return DriverBuilder{
		logger:     zap.NewNop(),
		numThreads: 1,
	}
}

// WithEngine sets the engine that the driver schedules its events on.
func (b DriverBuilder) WithEngine(e sim.Engine) DriverBuilder {
	b.engine = e
	return b
}

// WithLogger sets the logger.
func (b DriverBuilder) WithLogger(l *zap.Logger) DriverBuilder {
	b.logger = l
	return b
}

// WithNumThreads sets how many threads may appear in the trace.
func (b DriverBuilder) WithNumThreads(n int) DriverBuilder {
	b.numThreads = n
	return b
}

// WithMaxOutstanding limits the reads each thread has in flight. Zero means
// no limit.
func (b DriverBuilder) WithMaxOutstanding(n int) DriverBuilder {
	b.maxOutstanding = n
	return b
}

// Build creates a Driver that replays entries.
func (b DriverBuilder) Build(name string, entries []TraceEntry) (*Driver, error) {
	switch {
	case b.engine == nil:
		return nil, errors.New("workload driver needs an engine")
	case b.numThreads <= 0:
		return nil, errors.New("workload driver needs at least one thread")
	}

	for i, e := range entries {
		if e.Thread >= b.numThreads {
			return nil, fmt.Errorf(
				"entry %d uses thread %d, only %d threads can issue requests",
				i, e.Thread, b.numThreads)
		}
	}

	return &Driver{
		name:           name,
		engine:         b.engine,
		logger:         b.logger,
		maxOutstanding: b.maxOutstanding,
		entries:        entries,
		outstanding:    make([]int, b.numThreads),
	}, nil
}

// Name returns the name of the driver.
func (d *Driver) Name() string {
	return d.name
}

// Connect sets where requests are sent. The controller usually takes the
// driver as its reply receiver, so the two are connected after both are built.
func (d *Driver) Connect(sink RequestSink) {
	d.sink = sink
}

// Start schedules the first request.
func (d *Driver) Start() {
	if d.sink == nil {
		log.Panicf("%s: started before connecting to a request sink", d.name)
	}

	if len(d.entries) == 0 {
		return
	}

	d.scheduleIssue(d.entries[0].Time)
}

// AddRepEvent receives a reply that the controller sends at time t. The
// reply is accounted for when the engine reaches t.
func (d *Driver) AddRepEvent(t sim.VTime, req *dram.Request) {
	d.engine.Schedule(replyEvent{
		EventBase: sim.NewEventBase(t, d),
		req:       req,
	})
}

// Handle handles the events of the driver.
func (d *Driver) Handle(e sim.Event) error {
	switch e := e.(type) {
	case issueEvent:
		d.issuePended = false
		d.issue(e.Time())
	case replyEvent:
		d.retire(e.Time(), e.req)
	default:
		log.Panicf("cannot handle event of type %T", e)
	}

	return nil
}

func (d *Driver) issue(now sim.VTime) {
	for d.next < len(d.entries) {
		e := d.entries[d.next]
		if e.Time > now {
			d.scheduleIssue(e.Time)
			return
		}

		if d.maxOutstanding > 0 && d.outstanding[e.Thread] >= d.maxOutstanding {
			return
		}

		d.next++
		d.send(now, e)
	}
}

func (d *Driver) send(now sim.VTime, e TraceEntry) {
	d.nextID++
	req := &dram.Request{
		ID:       fmt.Sprintf("%s.%d", d.name, d.nextID),
		Address:  e.Address,
		Kind:     e.Kind,
		ThreadID: e.Thread,
		Payload:  now,
	}

	d.issued++
	if expectsReply(e.Kind) {
		d.outstanding[e.Thread]++
	} else {
		d.writes++
	}

	d.logger.Debug("issue",
		zap.String("id", req.ID),
		zap.Uint64("time", uint64(now)),
		zap.Stringer("kind", e.Kind),
		zap.Uint64("address", e.Address),
		zap.Int("thread", e.Thread))

	d.sink.AddReqEvent(now, req, false)
}

func (d *Driver) retire(now sim.VTime, req *dram.Request) {
	issuedAt, ok := req.Payload.(sim.VTime)
	if !ok {
		log.Panicf("%s: reply %s was not issued by this driver",
			d.name, req.ID)
	}

	d.outstanding[req.ThreadID]--
	d.latencies = append(d.latencies, float64(now-issuedAt))
	d.finish = now

	if d.next < len(d.entries) && !d.issuePended {
		d.scheduleIssue(max(now, d.entries[d.next].Time))
	}
}

func (d *Driver) scheduleIssue(t sim.VTime) {
	if d.issuePended {
		return
	}

	d.issuePended = true
	d.engine.Schedule(issueEvent{EventBase: sim.NewEventBase(t, d)})
}

// Progress returns how many requests are finished, counting writes as
// finished once sent, and how many reads are still in flight.
func (d *Driver) Progress() (finished, inFlight uint64) {
	for _, n := range d.outstanding {
		inFlight += uint64(n)
	}

	return d.writes + uint64(len(d.latencies)), inFlight
}

// NumEntries returns the length of the trace.
func (d *Driver) NumEntries() int {
	return len(d.entries)
}

// Done tells if every request was sent and every read was replied.
func (d *Driver) Done() bool {
	if d.next < len(d.entries) {
		return false
	}

	for _, n := range d.outstanding {
		if n > 0 {
			return false
		}
	}

	return true
}

func expectsReply(k dram.RequestKind) bool {
	switch k {
	case dram.Evict, dram.EvictOwned, dram.DirEvict:
		return false
	}

	return true
}

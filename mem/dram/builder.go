package dram

import (
	"errors"
	"fmt"
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

// BLISS blacklists a thread after this many consecutive services.
const blissThreshold = 4

// blissClearingIntervals is the blacklist lifetime in process intervals.
const blissClearingIntervals = 10000

// Builder can build new memory controllers.
type Builder struct {
	engine   sim.Engine
	logger   *zap.Logger
	receiver ReplyReceiver
	hooks    []sim.Hook

	timing          timing.Params
	mapping         addressmapping.Config
	numPagesPerBank uint64
	numHWThreads    int
	reqWindowSize   int

	policyName         string
	tournamentInterval uint64
	numHistoryPatterns uint64
	aOpenWindowSize    uint64
	aOpenPPCThreshold  uint64
	aOpenOPCThreshold  uint64
	aOpenFixedTimeout  bool

	parBS      bool
	bliss      bool
	fullDuplex bool
	bankGroups bool

	fixedLatency      bool
	fixedBWAndLatency bool

	contRestoreAfterActivate   bool
	contRestoreAfterWrite      bool
	contPrechargeAfterActivate bool
	contPrechargeAfterWrite    bool
	numECCBursts               uint64

	schemeName string
	rh         rowhammer.Config

	useAttacker bool
	attack      attack.Config
}

// MakeBuilder creates a builder with default configuration.
func MakeBuilder() Builder {
	b := Builder{
		timing: timing.DefaultParams(),
		mapping: addressmapping.Config{
			NumRanks:           1,
			NumBanks:           8,
			NumBankGroups:      1,
			NumMCs:             2,
			RankInterleaveBit:  14,
			BankInterleaveBit:  14,
			MCInterleaveBit:    12,
			XORInterleaveBit:   20,
			PageSizeBit:        12,
			AgileRowReciprocal: 1,
		},
		numPagesPerBank:          8192,
		numHWThreads:             1,
		reqWindowSize:            16,
		numHistoryPatterns:       1,
		aOpenWindowSize:          64,
		aOpenPPCThreshold:        6,
		aOpenOPCThreshold:        6,
		aOpenFixedTimeout:        true,
		contRestoreAfterActivate: true,
		contRestoreAfterWrite:    true,
		rh:                       rowhammer.DefaultConfig(),
		attack: attack.Config{
			NumThreads:    1,
			RowsPerThread: 8,
			MaxInFlight:   8,
		},
	}

	return b
}

// WithEngine sets the engine that drives the controller.
func (b Builder) WithEngine(engine sim.Engine) Builder {
	b.engine = engine
	return b
}

// WithLogger sets the structured logger.
func (b Builder) WithLogger(logger *zap.Logger) Builder {
	b.logger = logger
	return b
}

// WithReplyReceiver sets where replies are delivered.
func (b Builder) WithReplyReceiver(r ReplyReceiver) Builder {
	b.receiver = r
	return b
}

// WithAdditionalHooks adds hooks to the controller.
func (b Builder) WithAdditionalHooks(hooks ...sim.Hook) Builder {
	b.hooks = append(b.hooks, hooks...)
	return b
}

// WithProcessInterval sets the number of ticks between two scheduling
// passes.
func (b Builder) WithProcessInterval(n uint64) Builder {
	b.timing.ProcessInterval = n
	return b
}

// WithRefresh sets the auto-refresh interval and tRFC, both in ticks. An
// interval of 0 disables auto-refresh.
func (b Builder) WithRefresh(interval, tRFC uint64) Builder {
	b.timing.RefreshInterval = interval
	b.timing.TRFC = tRFC

	return b
}

// WithNumRanks sets the number of ranks per controller.
func (b Builder) WithNumRanks(n uint64) Builder {
	b.mapping.NumRanks = n
	return b
}

// WithNumBanks sets the number of banks per rank.
func (b Builder) WithNumBanks(n uint64) Builder {
	b.mapping.NumBanks = n
	return b
}

// WithNumMCs sets the number of controllers the address space is
// interleaved over.
func (b Builder) WithNumMCs(n uint64) Builder {
	b.mapping.NumMCs = n
	return b
}

// WithNumHardwareThreads sets the number of threads that issue requests.
func (b Builder) WithNumHardwareThreads(n int) Builder {
	b.numHWThreads = n
	return b
}

// WithRequestWindowSize sets how many queued requests the scheduler
// examines.
func (b Builder) WithRequestWindowSize(n int) Builder {
	b.reqWindowSize = n
	return b
}

// WithPolicy selects the page policy by name.
func (b Builder) WithPolicy(name string) Builder {
	b.policyName = name
	return b
}

// WithTournamentInterval sets the number of accesses between predictor
// training rounds. Zero disables training.
func (b Builder) WithTournamentInterval(n uint64) Builder {
	b.tournamentInterval = n
	return b
}

// WithPARBS enables parallelism-aware batch scheduling.
func (b Builder) WithPARBS(on bool) Builder {
	b.parBS = on
	return b
}

// WithBLISS enables blacklisting-based scheduling.
func (b Builder) WithBLISS(on bool) Builder {
	b.bliss = on
	return b
}

// WithFullDuplex lets reads and writes use separate data buses.
func (b Builder) WithFullDuplex(on bool) Builder {
	b.fullDuplex = on
	return b
}

// WithBankGroups enables the same-bank-group bus bubbles.
func (b Builder) WithBankGroups(groups uint64) Builder {
	b.bankGroups = true
	b.mapping.NumBankGroups = groups

	return b
}

// WithFixedLatency replies to every read after a fixed latency.
func (b Builder) WithFixedLatency(on bool) Builder {
	b.fixedLatency = on
	return b
}

// WithFixedBWAndLatency serializes requests one per process interval and
// replies after a fixed latency.
func (b Builder) WithFixedBWAndLatency(on bool) Builder {
	b.fixedBWAndLatency = on
	return b
}

// WithECCBursts sets the number of ECC bursts per page. Column-aligned
// accesses then carry one extra burst.
func (b Builder) WithECCBursts(n uint64) Builder {
	b.numECCBursts = n
	return b
}

// WithContinuation sets whether banks restore and precharge on their own
// after an activation and after a write.
func (b Builder) WithContinuation(
	restoreAfterActivate, restoreAfterWrite bool,
	prechargeAfterActivate, prechargeAfterWrite bool,
) Builder {
	b.contRestoreAfterActivate = restoreAfterActivate
	b.contRestoreAfterWrite = restoreAfterWrite
	b.contPrechargeAfterActivate = prechargeAfterActivate
	b.contPrechargeAfterWrite = prechargeAfterWrite

	return b
}

// WithMitigation selects the RowHammer mitigation by name. The empty string
// disables mitigation.
func (b Builder) WithMitigation(name string) Builder {
	b.schemeName = name
	return b
}

// WithRowHammerThreshold sets the number of activations that flips bits in
// a neighbor row.
func (b Builder) WithRowHammerThreshold(n uint64) Builder {
	b.rh.ThresholdRH = n
	return b
}

// WithAttackers enables attacker threads inside the controller.
func (b Builder) WithAttackers(threads, rowsPerThread int, maxInFlight uint64) Builder {
	b.useAttacker = true
	b.attack.NumThreads = threads
	b.attack.RowsPerThread = rowsPerThread
	b.attack.MaxInFlight = maxInFlight

	return b
}

func (b Builder) banksPerRank() int {
	n := b.mapping.NumBanks + b.mapping.NumBanksAB
	if b.mapping.NotSharingBanks {
		n *= uint64(b.numHWThreads)
	}

	return int(n)
}

func (b Builder) rowHammerConfig() (rowhammer.Config, error) {
	scheme, err := rowhammer.ParseScheme(b.schemeName)
	if err != nil {
		return rowhammer.Config{}, err
	}

	c := b.rh
	c.Scheme = scheme
	c.NumRanks = int(b.mapping.NumRanks)
	c.NumBanks = int(b.mapping.NumBanks)
	c.NumPagesPerBank = b.numPagesPerBank
	c.PageSizeBit = b.mapping.PageSizeBit
	c.Timing = b.timing
	c.Logger = b.logger

	return c, nil
}

// Validate returns an error if the configuration cannot be built.
func (b Builder) Validate() error {
	if b.engine == nil {
		return errors.New("engine is required")
	}

	if b.receiver == nil {
		return errors.New("reply receiver is required")
	}

	if err := b.timing.Validate(b.mapping.NumRanks); err != nil {
		return err
	}

	if err := b.mapping.Validate(); err != nil {
		return err
	}

	if _, err := policy.Parse(b.policyName); err != nil {
		return err
	}

	if b.contPrechargeAfterActivate && !b.contRestoreAfterActivate ||
		b.contPrechargeAfterWrite && !b.contRestoreAfterWrite {
		return errors.New(
			"cont_precharge cannot be true when cont_restore is false")
	}

	if b.reqWindowSize <= 0 || b.numHWThreads <= 0 || b.numPagesPerBank == 0 {
		return errors.New(
			"req_window_sz, num_hthreads and num_pages_per_bank must be positive")
	}

	if b.useAttacker {
		if err := b.validateAttackers(); err != nil {
			return err
		}
	}

	rh, err := b.rowHammerConfig()
	if err != nil {
		return err
	}

	return rh.Validate()
}

func (b Builder) validateAttackers() error {
	a := b.attack
	if a.NumThreads <= 0 || a.RowsPerThread <= 0 {
		return errors.New("attackers need threads and rows")
	}

	if a.NumThreads > b.numHWThreads {
		return fmt.Errorf("%d attacker threads exceed %d hardware threads",
			a.NumThreads, b.numHWThreads)
	}

	if uint64(a.NumThreads) > b.mapping.NumBanks {
		return fmt.Errorf("%d attacker threads exceed %d banks",
			a.NumThreads, b.mapping.NumBanks)
	}

	return b.mapping.ValidateEncoding()
}

// NumBenignThreads returns how many hardware threads may issue requests
// through AddReqEvent. Attacker threads take the highest thread IDs.
func (b Builder) NumBenignThreads() int {
	if !b.useAttacker {
		return b.numHWThreads
	}

	return b.numHWThreads - b.attack.NumThreads
}

// Decode maps an address issued by a thread to the location it occupies
// under the builder's interleaving parameters.
func (b Builder) Decode(addr uint64, thread int) (Location, error) {
	if err := b.mapping.Validate(); err != nil {
		return Location{}, err
	}

	if thread < 0 || thread >= b.numHWThreads {
		return Location{}, fmt.Errorf("thread %d out of range [0, %d)",
			thread, b.numHWThreads)
	}

	return addressmapping.NewDecoder(b.mapping).Map(addr, thread), nil
}

// Build creates a new controller. It panics if the configuration is
// invalid.
func (b Builder) Build(name string) *Comp {
	if b.logger == nil {
		b.logger = zap.NewNop()
	}

	if err := b.Validate(); err != nil {
		log.Panicf("cannot build %s: %v", name, err)
	}

	c := &Comp{
		ComponentBase: sim.NewComponentBase(name),
		logger:        b.logger.Named(name),
		receiver:      b.receiver,
		timing:        b.timing,
		decoder:       addressmapping.NewDecoder(b.mapping),
		numPages:      b.numPagesPerBank,
		numThreads:    b.numHWThreads,

		fullDuplex:        b.fullDuplex,
		bankGroups:        b.bankGroups,
		numBankGroups:     b.mapping.NumBankGroups,
		fixedLatency:      b.fixedLatency,
		fixedBWAndLatency: b.fixedBWAndLatency,

		contRestoreAfterActivate:   b.contRestoreAfterActivate,
		contRestoreAfterWrite:      b.contRestoreAfterWrite,
		contPrechargeAfterActivate: b.contPrechargeAfterActivate,
		contPrechargeAfterWrite:    b.contPrechargeAfterWrite,
		eccStride:                  b.numECCBursts * b.timing.TBL * 2,

		banks:    org.NewTable(int(b.mapping.NumRanks), b.banksPerRank()),
		queue:    cmdq.NewQueue(b.reqWindowSize),
		arrivals: cmdq.NewArrivals(),
		rdBus:    bus.NewOccupancy(),
		wrBus:    bus.NewOccupancy(),
		groupBus: bus.NewOccupancy(),

		lastActivate:  make([]sim.VTime, b.mapping.NumRanks),
		lastWrite:     make([]sim.VTime, b.mapping.NumRanks),
		lastReadRank:  make([]sim.VTime, b.mapping.NumRanks),
		lastWriteFlag: make([]bool, b.mapping.NumRanks),
		lastRank:      -1,
	}

	c.wakeups = sim.NewWakeupScheduler(c, b.engine)
	c.buildPolicies(b)
	c.buildMitigation(b)

	if b.useAttacker {
		a := b.attack
		a.NumHardwareThreads = b.numHWThreads
		c.fleet = attack.NewFleet(a, addressmapping.NewEncoder(b.mapping))
	}

	c.stats.init(b.numHWThreads)

	for _, h := range b.hooks {
		c.AcceptHook(h)
	}

	c.logger.Info("memory controller created",
		zap.String("policy", c.pagePolicy.String()),
		zap.String("mitigation", b.schemeNameOrNone()),
		zap.Uint64("ranks", b.mapping.NumRanks),
		zap.Int("banks_per_rank", b.banksPerRank()),
		zap.Bool("par_bs", b.parBS),
		zap.Bool("bliss", b.bliss))

	return c
}

func (b Builder) schemeNameOrNone() string {
	if b.schemeName == "" {
		return "none"
	}

	return b.schemeName
}

func (c *Comp) buildPolicies(b Builder) {
	c.pagePolicy, _ = policy.Parse(b.policyName)
	c.predictors = policy.NewPredictors(c.pagePolicy,
		b.tournamentInterval, b.numHistoryPatterns, b.numHWThreads)
	c.batch = policy.NewBatch(b.parBS, b.reqWindowSize, b.numHWThreads)

	if c.pagePolicy == policy.AdaptiveOpen {
		c.adaptive = policy.NewAdaptiveTimeout(
			b.timing.AOpenTOInit, b.timing.AOpenTODelta, b.aOpenWindowSize,
			b.aOpenPPCThreshold, b.aOpenOPCThreshold, b.aOpenFixedTimeout)
	}

	if b.bliss {
		c.bliss = policy.NewBliss(blissThreshold,
			blissClearingIntervals*b.timing.ProcessInterval)
	}
}

func (c *Comp) buildMitigation(b Builder) {
	rh, _ := b.rowHammerConfig()
	rh.Logger = c.logger

	m, err := rowhammer.New(rh)
	if err != nil {
		log.Panicf("cannot build mitigation: %v", err)
	}

	if m == nil {
		return
	}

	c.mitigation = m
	c.rhBanks = rh.NumBanks
	c.sweeper, _ = m.(rowhammer.RankSweeper)
	c.rfm, _ = m.(rowhammer.RFMHandler)
	c.throttler, _ = m.(rowhammer.Throttler)
}

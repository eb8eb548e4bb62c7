// Package rowhammer implements the RowHammer mitigations a memory controller
// can run on every row activation.
//
// A mitigation never changes bank timing itself. It answers each activation
// with a Decision, a set of flags the controller stores in the bank and acts
// on at the bank's next precharge or during its housekeeping pass.
package rowhammer

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/sarchlab/rowarmor/mem/dram/internal/signal"
	"github.com/sarchlab/rowarmor/mem/dram/internal/timing"
	"github.com/sarchlab/rowarmor/sim"
)

// Scheme names a mitigation.
type Scheme int

// A list of all schemes.
const (
	SchemeNone Scheme = iota
	SchemePARA
	SchemeGraphene
	SchemeBlockHammer
	SchemeHydra
	SchemeSRS
	SchemeRAMPART
	SchemeABACuS
	SchemePRAC
)

var schemeNames = [...]string{
	"", "para", "graphene", "blockhammer", "hydra", "srs", "rampart",
	"abacus", "prac",
}

// ParseScheme converts the rh_prevention_scheme parameter into a Scheme. The
// empty string disables mitigation.
func ParseScheme(name string) (Scheme, error) {
	for i, n := range schemeNames {
		if n == name {
			return Scheme(i), nil
		}
	}

	return SchemeNone, fmt.Errorf("unknown rh_prevention_scheme %q", name)
}

func (s Scheme) String() string {
	if s == SchemeNone {
		return "none"
	}

	if int(s) < len(schemeNames) {
		return schemeNames[s]
	}

	return "unknown"
}

// Decision is the set of actions a mitigation requests for a bank.
type Decision uint8

// A list of decision flags.
const (
	NoAction Decision = 0
)

const (
	// DecisionRefresh delays the next precharge by a preventive refresh.
	DecisionRefresh Decision = 1 << iota
	// DecisionUpdate asks for extra tracking-table work. Hydra charges it to
	// the next precharge; ABACuS turns it into a rank refresh cycle.
	DecisionUpdate
	// DecisionSwap asks for a rank-wide row swap (SRS) or preventive
	// refresh (ABACuS).
	DecisionSwap
	// DecisionRFM asks for a refresh management command to the bank.
	DecisionRFM
)

// Has returns true if all flags of f are set in d.
func (d Decision) Has(f Decision) bool {
	return d&f == f
}

// Activation describes one ACT command.
type Activation struct {
	Rank    int
	Bank    int
	Row     uint64
	Address uint64
	Thread  int
	Time    sim.VTime
}

// Mitigation is a RowHammer defense invoked on every activation.
type Mitigation interface {
	Scheme() Scheme

	// Activate records an activation and returns the requested actions.
	Activate(a Activation) Decision

	// OnAutoRefresh is called for every bank of the rank being refreshed.
	// page is the first row the refresh covers.
	OnAutoRefresh(rank, bank int, page uint64)

	// PrechargePenalty returns the extra process intervals a precharge
	// takes when the bank carries DecisionRefresh, and whether a pending
	// DecisionUpdate was charged as well.
	PrechargePenalty(pr timing.Profile, update bool) (uint64, bool)

	Stats() Stats
}

// RankSweeper is implemented by mitigations that turn bank flags into an
// operation on a whole rank.
type RankSweeper interface {
	// SweepFlags lists the flags to look for, in the order they are served.
	SweepFlags() []Decision

	// Sweep performs the operation requested by flag on rank and returns
	// how long the rank is busy and the command that models it.
	Sweep(flag Decision, rank int) (sim.VTime, signal.CommandKind)
}

// RFMHandler is implemented by mitigations that issue refresh management
// commands.
type RFMHandler interface {
	OnRFM(rank, bank int)
}

// Throttler is implemented by mitigations that limit which requests may be
// admitted or activated.
type Throttler interface {
	// Admit returns false if the thread has used up its quota on the bank.
	// An admitted request is charged to the quota.
	Admit(rank, bank, thread int) bool

	// Release returns a served request to the quota.
	Release(rank, bank, thread int)

	// RowBlocked returns true if activating row now is unsafe.
	RowBlocked(rank, bank int, row uint64, now sim.VTime) bool
}

// Stats is a snapshot of the counters of a mitigation.
type Stats struct {
	Scheme   string              `yaml:"scheme"`
	Counters map[string]uint64   `yaml:"counters,omitempty"`
	PerBank  map[string][]uint64 `yaml:"per_bank,omitempty"`
}

// Config is the parameter set of all mitigations.
type Config struct {
	Scheme Scheme

	NumRanks        int
	NumBanks        int
	NumPagesPerBank uint64
	PageSizeBit     uint

	Timing      timing.Params
	BlastRadius uint64

	// ThresholdRH is the RowHammer threshold (th_RH).
	ThresholdRH uint64

	// PARAProbability is the refresh probability in units of 1/10000.
	PARAProbability uint64
	Seed            int64

	GrapheneTableSize uint64

	HydraGCTThreshold uint64
	HydraGCTEntries   uint64
	HydraRCCEntries   uint64
	HydraRCTThreshold uint64

	RRSHRTThreshold uint64
	RRSHRTEntries   uint64
	RRSDelayRowSwap uint64

	ABACuSPRT     uint64
	ABACuSRCT     uint64
	ABACuSEntries uint64

	RAAIMT uint64

	BlockHammerCBFSize   uint64
	BlockHammerNumHashes uint64
	BlockHammerThrottle  bool
	BlockHammerQuotaBase uint64
	BlockHammerNth       uint64

	Logger *zap.Logger
}

// DefaultConfig returns the parameters used when none is given.
func DefaultConfig() Config {
	return Config{
		BlastRadius:          3,
		ThresholdRH:          32768,
		PARAProbability:      100,
		Seed:                 1,
		HydraGCTThreshold:    200,
		HydraGCTEntries:      32768,
		HydraRCCEntries:      8192,
		HydraRCTThreshold:    250,
		RRSHRTThreshold:      400,
		RRSHRTEntries:        1600,
		RRSDelayRowSwap:      8192,
		ABACuSPRT:            2048,
		ABACuSRCT:            2046,
		ABACuSEntries:        283,
		BlockHammerCBFSize:   1024,
		BlockHammerNumHashes: 4,
		BlockHammerQuotaBase: 2,
		BlockHammerNth:       139000,
	}
}

// Validate checks that the selected scheme can be built.
func (c Config) Validate() error {
	if c.NumRanks <= 0 || c.NumBanks <= 0 {
		return fmt.Errorf("invalid organization %d ranks x %d banks",
			c.NumRanks, c.NumBanks)
	}

	switch c.Scheme {
	case SchemeGraphene:
		if c.GrapheneTableSize == 0 || c.ThresholdRH == 0 {
			return errors.New(
				"graphene needs graphene_table_size and th_RH above 0")
		}
	case SchemeSRS:
		if c.RRSHRTEntries == 0 || c.RRSHRTThreshold == 0 {
			return errors.New(
				"srs needs rrs_hrt_num_entry and rrs_hrt_threshold above 0")
		}
	case SchemeHydra:
		if c.HydraGCTEntries == 0 || c.HydraRCCEntries == 0 {
			return errors.New(
				"hydra needs hydra_gct_num_entries and " +
					"hydra_rcc_num_entries above 0")
		}
	case SchemeABACuS:
		if c.ABACuSEntries == 0 || c.ABACuSPRT == 0 {
			return errors.New(
				"abacus needs abacus_num_entry and abacus_prt above 0")
		}

		if c.NumBanks > 64 {
			return errors.New("abacus supports at most 64 banks per rank")
		}
	case SchemeRAMPART, SchemePRAC:
		if c.RAAIMT == 0 {
			return fmt.Errorf("%s needs RAAIMT above 0", c.Scheme)
		}
	case SchemeBlockHammer:
		return c.validateBlockHammer()
	}

	return nil
}

// New builds the mitigation selected by c.Scheme. It returns nil when
// mitigation is disabled.
func New(c Config) (Mitigation, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}

	switch c.Scheme {
	case SchemeNone:
		return nil, nil
	case SchemePARA:
		return newPARA(c), nil
	case SchemeGraphene:
		return newGraphene(c), nil
	case SchemeBlockHammer:
		return newBlockHammer(c), nil
	case SchemeHydra:
		return newHydra(c), nil
	case SchemeSRS:
		return newSRS(c), nil
	case SchemeRAMPART:
		return newRAMPART(c), nil
	case SchemeABACuS:
		return newABACuS(c), nil
	case SchemePRAC:
		return newPRAC(c), nil
	}

	return nil, fmt.Errorf("unsupported scheme %d", c.Scheme)
}

func (c Config) rowsPerRefresh() uint64 {
	rows := c.NumPagesPerBank / refreshesPerWindow
	if rows == 0 {
		return 1
	}

	return rows
}

// refreshesPerWindow is the number of REF commands that cover every row of
// a bank once.
const refreshesPerWindow = 8192

func perBank[T any](c Config, mk func() T) [][]T {
	out := make([][]T, c.NumRanks)
	for r := range out {
		out[r] = make([]T, c.NumBanks)
		for b := range out[r] {
			out[r][b] = mk()
		}
	}

	return out
}

func flatten(in [][]uint64) []uint64 {
	var out []uint64
	for _, r := range in {
		out = append(out, r...)
	}

	return out
}

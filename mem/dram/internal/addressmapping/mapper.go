// Package addressmapping converts flat physical addresses to DRAM locations.
package addressmapping

import (
	"errors"
	"sort"
)

// AgileTag is the address bit that redirects an access to the agile region.
const AgileTag = uint64(1) << 63

// Location describes the DRAM coordinates of an address.
type Location struct {
	Rank      int
	BankGroup int
	Bank      int
	Row       uint64
	Column    uint64
	Agile     bool
}

// A Mapper converts an address to a location.
type Mapper interface {
	Map(addr uint64, threadID int) Location
}

// Config holds the interleaving parameters of a controller.
type Config struct {
	NumRanks      uint64
	NumBanks      uint64
	NumBanksAB    uint64
	NumBankGroups uint64
	NumMCs        uint64

	RankInterleaveBit uint
	BankInterleaveBit uint
	MCInterleaveBit   uint
	XORInterleaveBit  uint
	PageSizeBit       uint

	NumBanksWithAgileRow uint64
	AgileRowReciprocal   uint64

	// NotSharingBanks gives every thread a private copy of all banks.
	NotSharingBanks bool
}

// Validate checks that every width used as a divisor is non-zero.
func (c Config) Validate() error {
	if c.NumRanks == 0 || c.NumBanks == 0 || c.NumMCs == 0 {
		return errors.New("rank, bank and controller counts must be positive")
	}

	if c.NumBankGroups == 0 {
		return errors.New("num_bank_groups must be positive")
	}

	if c.AgileRowReciprocal == 0 && c.NumBanksWithAgileRow == 0 &&
		c.NumBanksAB == 0 {
		return errors.New(
			"num_banks_with_agile_row must be positive when " +
				"reciprocal_of_agile_row_portion is 0")
	}

	if c.PageSizeBit > c.MCInterleaveBit {
		return errors.New("page_sz_base_bit must not exceed interleave_base_bit")
	}

	return nil
}

type interleaver struct {
	bit   uint
	width uint64
}

// Decoder is the default Mapper. It removes the rank, bank and controller
// interleaving fields from an address so that rows are contiguous per bank.
type Decoder struct {
	cfg   Config
	folds [3]interleaver
}

// NewDecoder creates a decoder from the given configuration.
func NewDecoder(cfg Config) *Decoder {
	fields := []interleaver{
		{cfg.RankInterleaveBit, cfg.NumRanks},
		{cfg.BankInterleaveBit, cfg.NumBanks},
		{cfg.MCInterleaveBit, cfg.NumMCs},
	}

	sort.SliceStable(fields, func(i, j int) bool {
		return fields[i].bit < fields[j].bit
	})

	d := &Decoder{cfg: cfg}

	// Fold the highest field first.
	for i := range fields {
		d.folds[i] = fields[len(fields)-1-i]
	}

	return d
}

// Config returns the configuration of the decoder.
func (d *Decoder) Config() Config {
	return d.cfg
}

func (d *Decoder) fold(addr uint64) uint64 {
	for _, f := range d.folds {
		low := addr % (uint64(1) << f.bit)
		addr = (((addr >> f.bit) / f.width) << f.bit) + low
	}

	return addr
}

// Row returns the row (page) number of an address within its bank.
func (d *Decoder) Row(addr uint64) uint64 {
	return d.fold(addr) >> d.cfg.PageSizeBit
}

// Column returns the byte offset of an address within its row.
func (d *Decoder) Column(addr uint64) uint64 {
	return d.fold(addr) % (uint64(1) << d.cfg.PageSizeBit)
}

// Rank returns the rank that serves an address.
func (d *Decoder) Rank(addr uint64) int {
	v := (addr >> d.cfg.RankInterleaveBit) ^ (addr >> d.cfg.XORInterleaveBit)
	return int(v % d.cfg.NumRanks)
}

// MC returns the index of the controller that owns an address.
func (d *Decoder) MC(addr uint64) int {
	v := (addr >> d.cfg.MCInterleaveBit) ^ (addr >> d.cfg.XORInterleaveBit)
	return int(v % d.cfg.NumMCs)
}

func (d *Decoder) banksInRegion(tagged bool) uint64 {
	switch {
	case tagged && d.cfg.NumBanksAB != 0:
		return d.cfg.NumBanksAB
	case tagged && d.cfg.AgileRowReciprocal == 0:
		return d.cfg.NumBanksWithAgileRow
	default:
		return d.cfg.NumBanks
	}
}

// Bank returns the bank index of an address. Agile-tagged addresses may be
// redirected to the dedicated agile banks placed after the normal ones.
func (d *Decoder) Bank(addr uint64, threadID int) int {
	tagged := addr&AgileTag != 0
	n := d.banksInRegion(tagged)

	v := (addr >> d.cfg.BankInterleaveBit) ^ (addr >> d.cfg.XORInterleaveBit)
	bank := v % n

	if tagged && d.cfg.NumBanksAB != 0 && d.cfg.AgileRowReciprocal != 0 {
		bank += d.cfg.NumBanks
	}

	if d.cfg.NotSharingBanks {
		bank += n * uint64(threadID)
	}

	return int(bank)
}

// Map decodes an address into a full location.
func (d *Decoder) Map(addr uint64, threadID int) Location {
	loc := Location{
		Rank:   d.Rank(addr),
		Bank:   d.Bank(addr, threadID),
		Row:    d.Row(addr),
		Column: d.Column(addr),
	}

	loc.BankGroup = int(uint64(loc.Bank) % d.cfg.NumBankGroups)
	loc.Agile = addr&AgileTag != 0 ||
		(uint64(loc.Bank) < d.cfg.NumBanksWithAgileRow &&
			d.cfg.AgileRowReciprocal != 0 &&
			loc.Row%d.cfg.AgileRowReciprocal == 0)

	return loc
}

package addressmapping

import (
	"errors"
	"math/bits"
)

func log2(n uint64) uint {
	if n <= 1 {
		return 0
	}

	return uint(bits.Len64(n) - 1)
}

// Encoder builds addresses that land on a chosen bank and row of the first
// controller. It inverts the default interleaving and is used to generate
// hammering traffic.
type Encoder struct {
	cfg Config
}

// ValidateEncoding checks that the interleaving fields leave room for the
// row slice and the XOR field that an Encoder inverts.
func (c Config) ValidateEncoding() error {
	if c.BankInterleaveBit <= c.MCInterleaveBit {
		return errors.New(
			"bank_interleave_base_bit must exceed interleave_base_bit")
	}

	if c.XORInterleaveBit <= c.MCInterleaveBit+log2(c.NumBanks) {
		return errors.New(
			"interleave_xor_base_bit must exceed interleave_base_bit " +
				"plus the bank bits")
	}

	return nil
}

// NewEncoder creates an encoder for the given configuration.
func NewEncoder(cfg Config) *Encoder {
	return &Encoder{cfg: cfg}
}

// MakeAddress returns an address that maps to the given bank and row. The
// rank follows from the XOR field and is not controlled. The configuration
// must pass ValidateEncoding.
func (e *Encoder) MakeAddress(bank int, row uint64) uint64 {
	c := e.cfg
	mcBits := log2(c.NumMCs)
	bankBits := log2(c.NumBanks)

	sliceBits := (c.BankInterleaveBit - 1) - c.MCInterleaveBit
	slice := row % (uint64(1) << sliceBits)

	shift := (c.XORInterleaveBit - 1) - c.MCInterleaveBit - bankBits
	interleave := row >> shift

	addr := interleave % c.NumMCs
	addr += slice << mcBits
	addr += ((uint64(bank) ^ interleave) % c.NumBanks) << (sliceBits + mcBits)
	addr += (row >> sliceBits) << (bankBits + mcBits + sliceBits)

	return addr << c.PageSizeBit
}

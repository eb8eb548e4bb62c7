package rowhammer

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/rand"

	"github.com/google/btree"
	cuckoo "github.com/seiflotfy/cuckoofilter"
	"go.uber.org/zap"

	"github.com/sarchlab/rowarmor/mem/dram/internal/timing"
	"github.com/sarchlab/rowarmor/sim"
)

// Constants of the blacklisting delay. A refresh window of 1022361600 ticks
// and a row cycle of 159 ticks, scaled by 32 banks.
const (
	bhWindowTicks   = 1022361600
	bhRowCycleTicks = 159
	bhBanksPerRank  = 32
	btreeDegree     = 16
)

func (c Config) validateBlockHammer() error {
	if c.BlockHammerCBFSize == 0 || c.BlockHammerNumHashes == 0 {
		return errors.New("blockhammer needs cntSize and totNumHashes above 0")
	}

	if c.BlockHammerNth <= c.ThresholdRH {
		return fmt.Errorf("blockhammer_Nth (%d) must exceed th_RH (%d)",
			c.BlockHammerNth, c.ThresholdRH)
	}

	if blockHammerDelay(c) <= 0 {
		return fmt.Errorf("th_RH (%d) is too large for the blacklisting window",
			c.ThresholdRH)
	}

	return nil
}

// blockHammerDelay is the minimum distance, in ticks, between two
// activations of a blacklisted row.
func blockHammerDelay(c Config) float64 {
	budget := float64(bhWindowTicks) -
		float64(c.ThresholdRH*bhRowCycleTicks*bhBanksPerRank)

	return budget / float64(c.BlockHammerNth-c.ThresholdRH)
}

// h3 is a family of H3 hash functions. Each function XORs one random word
// per set bit of the key.
type h3 struct {
	q [][64]uint32
}

func newH3(numHashes uint64, seed int64) *h3 {
	rng := rand.New(rand.NewSource(seed))
	h := &h3{q: make([][64]uint32, numHashes)}

	for i := range h.q {
		for b := range h.q[i] {
			h.q[i][b] = rng.Uint32()
		}
	}

	return h
}

func (h *h3) hash(key uint64, fn int) uint32 {
	var out uint32
	for b := 0; key != 0; b++ {
		if key&1 == 1 {
			out ^= h.q[fn][b]
		}
		key >>= 1
	}

	return out
}

// countingBloomFilter estimates how many times a row was activated.
type countingBloomFilter struct {
	hash      *h3
	counters  []uint64
	threshold uint64
}

func newCountingBloomFilter(c Config, hash *h3) *countingBloomFilter {
	return &countingBloomFilter{
		hash:      hash,
		counters:  make([]uint64, c.BlockHammerCBFSize),
		threshold: c.ThresholdRH,
	}
}

// insert counts one activation of row and returns true if the row is
// blacklisted afterward.
func (f *countingBloomFilter) insert(row uint64) bool {
	first := ^uint64(0)
	for i := range f.hash.q {
		idx := uint64(f.hash.hash(row, i)) % uint64(len(f.counters))
		f.counters[idx]++
		first = min(first, f.counters[idx])
	}

	return first >= f.threshold
}

func (f *countingBloomFilter) blacklisted(row uint64) bool {
	first := ^uint64(0)
	for i := range f.hash.q {
		idx := uint64(f.hash.hash(row, i)) % uint64(len(f.counters))
		first = min(first, f.counters[idx])
	}

	return first >= f.threshold
}

func (f *countingBloomFilter) reset() {
	clear(f.counters)
}

type historyEntry struct {
	time sim.VTime
	seq  uint64
	row  uint64
}

func (e historyEntry) Less(than btree.Item) bool {
	o := than.(historyEntry)
	if e.time != o.time {
		return e.time < o.time
	}

	return e.seq < o.seq
}

// historyBuffer remembers the activations of one bank within the
// blacklisting delay.
type historyBuffer struct {
	tree  *btree.BTree
	delay float64
	seq   uint64
}

func newHistoryBuffer(delay float64) *historyBuffer {
	return &historyBuffer{tree: btree.New(btreeDegree), delay: delay}
}

func (h *historyBuffer) expire(now sim.VTime) {
	var bound sim.VTime
	if float64(now) > h.delay {
		bound = now - sim.VTime(h.delay)
	}

	for {
		first := h.tree.Min()
		if first == nil || first.(historyEntry).time >= bound {
			return
		}

		h.tree.DeleteMin()
	}
}

func (h *historyBuffer) record(row uint64, now sim.VTime) {
	h.expire(now)
	h.seq++
	h.tree.ReplaceOrInsert(historyEntry{time: now, seq: h.seq, row: row})
}

func (h *historyBuffer) contains(row uint64, now sim.VTime) bool {
	h.expire(now)

	found := false
	h.tree.Ascend(func(i btree.Item) bool {
		found = i.(historyEntry).row == row
		return !found
	})

	return found
}

// attackThrottler limits the in-flight requests of threads that activate
// blacklisted rows.
type attackThrottler struct {
	quotaBase float64
	span      float64

	blacklistedActs map[int]uint64
	used            map[int]uint64
}

func newAttackThrottler(c Config) *attackThrottler {
	t := &attackThrottler{
		quotaBase: float64(c.BlockHammerQuotaBase),
		span:      float64(c.BlockHammerNth - c.ThresholdRH),
	}
	t.reset()

	return t
}

func (t *attackThrottler) full(thread int) bool {
	used, ok := t.used[thread]
	if !ok {
		return false
	}

	likelihood := float64(t.blacklistedActs[thread]) / t.span
	quota := t.quotaBase / (likelihood + 0.02)

	return float64(used) >= quota
}

func (t *attackThrottler) acquire(thread int) {
	t.used[thread]++
}

func (t *attackThrottler) release(thread int) {
	used, ok := t.used[thread]
	if !ok || used == 0 {
		return
	}

	t.used[thread] = used - 1
}

func (t *attackThrottler) reset() {
	t.blacklistedActs = make(map[int]uint64)
	t.used = make(map[int]uint64)
}

// blockHammerBank is the state BlockHammer keeps for one bank. Filters and
// throttlers come in pairs; one of each pair is active while the other
// fills up, and they trade roles twice per refresh window.
type blockHammerBank struct {
	filters    [2]*countingBloomFilter
	throttlers [2]*attackThrottler
	active     int
	history    *historyBuffer
	seen       *cuckoo.Filter
}

// BlockHammer blacklists rows whose estimated activation count reaches the
// threshold and delays their activation. Optionally, threads that keep
// activating blacklisted rows get fewer requests in flight.
type BlockHammer struct {
	banks          [][]*blockHammerBank
	throttle       bool
	rowsPerRefresh uint64

	blacklistedActs uint64
	throttled       uint64
	deferred        uint64
	blacklistedRows uint64
}

func newBlockHammer(c Config) *BlockHammer {
	hash := newH3(c.BlockHammerNumHashes, c.Seed)
	delay := blockHammerDelay(c)

	b := &BlockHammer{
		throttle:       c.BlockHammerThrottle,
		rowsPerRefresh: c.rowsPerRefresh(),
	}

	b.banks = perBank(c, func() *blockHammerBank {
		return &blockHammerBank{
			filters: [2]*countingBloomFilter{
				newCountingBloomFilter(c, hash),
				newCountingBloomFilter(c, hash),
			},
			throttlers: [2]*attackThrottler{
				newAttackThrottler(c),
				newAttackThrottler(c),
			},
			history: newHistoryBuffer(delay),
			seen:    cuckoo.NewFilter(uint(c.BlockHammerCBFSize)),
		}
	})

	c.Logger.Info("BlockHammer initialized",
		zap.Float64("delay", delay),
		zap.Float64("history_size", delay/bhRowCycleTicks),
		zap.Bool("attack_throttler", c.BlockHammerThrottle))

	return b
}

// Scheme returns SchemeBlockHammer.
func (b *BlockHammer) Scheme() Scheme {
	return SchemeBlockHammer
}

// Activate counts the activation in both filters and the history buffer.
// BlockHammer prevents unsafe activations up front, so it never asks for a
// refresh.
func (b *BlockHammer) Activate(a Activation) Decision {
	bank := b.banks[a.Rank][a.Bank]

	blacklisted := false
	for i, f := range bank.filters {
		hit := f.insert(a.Row)
		if i == bank.active {
			blacklisted = hit
		}
	}

	bank.history.record(a.Row, a.Time)

	if !blacklisted {
		return NoAction
	}

	b.blacklistedActs++

	key := make([]byte, 8)
	binary.LittleEndian.PutUint64(key, a.Row)
	bank.seen.InsertUnique(key)

	if b.throttle {
		bank.throttlers[bank.active].blacklistedActs[a.Thread]++
	}

	return NoAction
}

// RowBlocked returns true if row is blacklisted and was activated within
// the blacklisting delay.
func (b *BlockHammer) RowBlocked(rank, bank int, row uint64, now sim.VTime) bool {
	s := b.banks[rank][bank]
	if !s.filters[s.active].blacklisted(row) {
		return false
	}

	if !s.history.contains(row, now) {
		return false
	}

	b.throttled++

	return true
}

// Admit charges a request to the quota of its thread on the bank.
func (b *BlockHammer) Admit(rank, bank, thread int) bool {
	if !b.throttle {
		return true
	}

	s := b.banks[rank][bank]
	if s.throttlers[s.active].full(thread) {
		b.deferred++
		return false
	}

	for _, t := range s.throttlers {
		t.acquire(thread)
	}

	return true
}

// Release returns a served request to the quota.
func (b *BlockHammer) Release(rank, bank, thread int) {
	if !b.throttle {
		return
	}

	for _, t := range b.banks[rank][bank].throttlers {
		t.release(thread)
	}
}

// OnAutoRefresh swaps the active filter and throttler of the bank at the
// start and in the middle of the refresh window.
func (b *BlockHammer) OnAutoRefresh(rank, bank int, page uint64) {
	var active int

	switch page / b.rowsPerRefresh {
	case 0:
		active = 0
	case refreshesPerWindow / 2:
		active = 1
	default:
		return
	}

	s := b.banks[rank][bank]
	s.active = active
	s.filters[1-active].reset()
	s.throttlers[1-active].reset()

	b.blacklistedRows += uint64(s.seen.Count())
	s.seen.Reset()
}

// ActiveFilter returns which of the two filters of a bank is active.
func (b *BlockHammer) ActiveFilter(rank, bank int) int {
	return b.banks[rank][bank].active
}

// PrechargePenalty is zero. BlockHammer never requests a refresh.
func (b *BlockHammer) PrechargePenalty(_ timing.Profile, _ bool) (uint64, bool) {
	return 0, false
}

// Stats returns the blacklisting counters.
func (b *BlockHammer) Stats() Stats {
	rows := b.blacklistedRows
	for _, r := range b.banks {
		for _, s := range r {
			rows += uint64(s.seen.Count())
		}
	}

	return Stats{
		Scheme: SchemeBlockHammer.String(),
		Counters: map[string]uint64{
			"blacklisted_activations": b.blacklistedActs,
			"blacklisted_rows":        rows,
			"rowblocker_throttled":    b.throttled,
			"deferred_admissions":     b.deferred,
		},
	}
}

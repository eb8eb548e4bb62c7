package rowhammer

import (
	"math/rand"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/rowarmor/mem/dram/internal/signal"
	"github.com/sarchlab/rowarmor/mem/dram/internal/timing"
	"github.com/sarchlab/rowarmor/sim"
)

func testConfig(s Scheme) Config {
	c := DefaultConfig()
	c.Scheme = s
	c.NumRanks = 2
	c.NumBanks = 4
	c.NumPagesPerBank = 8192
	c.PageSizeBit = 12
	c.Timing = timing.DefaultParams()

	return c
}

func mustNew(c Config) Mitigation {
	m, err := New(c)
	Expect(err).NotTo(HaveOccurred())
	Expect(m).NotTo(BeNil())

	return m
}

func act(rank, bank int, row uint64) Activation {
	return Activation{Rank: rank, Bank: bank, Row: row}
}

var _ = Describe("ParseScheme", func() {
	It("should parse every scheme", func() {
		for i, name := range schemeNames {
			s, err := ParseScheme(name)

			Expect(err).NotTo(HaveOccurred())
			Expect(s).To(Equal(Scheme(i)))
		}
	})

	It("should reject unknown schemes", func() {
		_, err := ParseScheme("trr")
		Expect(err).To(HaveOccurred())
	})

	It("should build nothing when disabled", func() {
		m, err := New(testConfig(SchemeNone))

		Expect(err).NotTo(HaveOccurred())
		Expect(m).To(BeNil())
	})
})

var _ = Describe("Config", func() {
	It("should reject an empty Graphene table", func() {
		c := testConfig(SchemeGraphene)
		c.GrapheneTableSize = 0

		Expect(c.Validate()).To(HaveOccurred())
	})

	It("should reject RFM schemes without RAAIMT", func() {
		Expect(testConfig(SchemeRAMPART).Validate()).To(HaveOccurred())
		Expect(testConfig(SchemePRAC).Validate()).To(HaveOccurred())
	})

	It("should reject a BlockHammer Nth below the threshold", func() {
		c := testConfig(SchemeBlockHammer)
		c.BlockHammerNth = c.ThresholdRH

		Expect(c.Validate()).To(HaveOccurred())
	})
})

var _ = Describe("counterTable", func() {
	It("should stay sorted under random activations", func() {
		rng := rand.New(rand.NewSource(7))
		t := newCounterTable(8)

		for i := 0; i < 10000; i++ {
			t.increment(uint64(rng.Intn(40)))
			Expect(t.sorted()).To(BeTrue())
		}
	})

	It("should inherit the count of the evicted entry", func() {
		t := newCounterTable(1)

		Expect(t.increment(1)).To(Equal(uint64(1)))
		Expect(t.increment(2)).To(Equal(uint64(2)))
		Expect(t.entries[0].row).To(Equal(uint64(2)))
	})
})

var _ = Describe("PARA", func() {
	It("should always refresh with probability 1", func() {
		c := testConfig(SchemePARA)
		c.PARAProbability = 10000
		m := mustNew(c)

		for i := 0; i < 100; i++ {
			Expect(m.Activate(act(0, 0, 1))).To(Equal(DecisionRefresh))
		}

		Expect(m.Stats().Counters["refreshed_rows"]).To(Equal(uint64(100)))
	})

	It("should never refresh with probability 0", func() {
		c := testConfig(SchemePARA)
		c.PARAProbability = 0
		m := mustNew(c)

		for i := 0; i < 100; i++ {
			Expect(m.Activate(act(0, 0, 1))).To(Equal(NoAction))
		}
	})

	It("should charge one row cycle", func() {
		m := mustNew(testConfig(SchemePARA))
		pr := timing.DefaultParams().Select(false)

		n, _ := m.PrechargePenalty(pr, false)
		Expect(n).To(Equal(pr.RowCycle()))
	})
})

var _ = Describe("Graphene", func() {
	var m Mitigation

	BeforeEach(func() {
		c := testConfig(SchemeGraphene)
		c.GrapheneTableSize = 4
		c.ThresholdRH = 4
		m = mustNew(c)
	})

	It("should refresh at every multiple of the threshold", func() {
		for i := 1; i <= 8; i++ {
			d := m.Activate(act(1, 2, 7))
			if i%4 == 0 {
				Expect(d).To(Equal(DecisionRefresh))
			} else {
				Expect(d).To(Equal(NoAction))
			}
		}

		s := m.Stats()
		Expect(s.Counters["refreshed_rows"]).To(Equal(uint64(12)))
		Expect(s.PerBank["refreshed_rows"][1*4+2]).To(Equal(uint64(12)))
	})

	It("should keep banks apart", func() {
		for i := 0; i < 3; i++ {
			m.Activate(act(0, 0, 7))
		}

		Expect(m.Activate(act(0, 1, 7))).To(Equal(NoAction))
		Expect(m.Activate(act(0, 0, 7))).To(Equal(DecisionRefresh))
	})

	It("should flush at the start and middle of the window", func() {
		for i := 0; i < 3; i++ {
			m.Activate(act(0, 0, 7))
		}

		m.OnAutoRefresh(0, 0, 4096)
		Expect(m.Activate(act(0, 0, 7))).To(Equal(NoAction))

		m.OnAutoRefresh(0, 0, 5)
		for i := 0; i < 2; i++ {
			m.Activate(act(0, 0, 7))
		}
		Expect(m.Activate(act(0, 0, 7))).To(Equal(DecisionRefresh))
	})

	It("should charge two row cycles per blast row", func() {
		pr := timing.DefaultParams().Select(false)

		n, update := m.PrechargePenalty(pr, true)
		Expect(n).To(Equal(2 * pr.RowCycle() * 3))
		Expect(update).To(BeFalse())
	})
})

var _ = Describe("SRS", func() {
	var (
		c Config
		m Mitigation
	)

	BeforeEach(func() {
		c = testConfig(SchemeSRS)
		c.RRSHRTEntries = 4
		c.RRSHRTThreshold = 2
		m = mustNew(c)
	})

	It("should request a swap at every multiple of the threshold", func() {
		Expect(m.Activate(act(0, 0, 3))).To(Equal(NoAction))
		Expect(m.Activate(act(0, 0, 3))).To(Equal(DecisionSwap))
		Expect(m.Activate(act(0, 0, 3))).To(Equal(NoAction))
		Expect(m.Activate(act(0, 0, 3))).To(Equal(DecisionSwap))
		Expect(m.Stats().Counters["row_swaps"]).To(Equal(uint64(2)))
	})

	It("should sweep the rank for two row swaps", func() {
		sweeper := m.(RankSweeper)

		busy, cmd := sweeper.Sweep(DecisionSwap, 1)

		Expect(sweeper.SweepFlags()).To(Equal([]Decision{DecisionSwap}))
		Expect(cmd).To(Equal(signal.CmdKindRowSwap))
		Expect(busy).To(Equal(c.Timing.Ticks(
			c.Timing.TRAS + c.Timing.TRP + 2*c.RRSDelayRowSwap)))
	})

	It("should reset on the first refresh of the window", func() {
		m.Activate(act(0, 0, 3))
		m.OnAutoRefresh(0, 0, 0)

		Expect(m.Activate(act(0, 0, 3))).To(Equal(NoAction))
	})
})

var _ = Describe("Hydra", func() {
	var m Mitigation

	hydraAct := func(row uint64) Decision {
		return m.Activate(Activation{Address: row << 12, Row: row})
	}

	BeforeEach(func() {
		c := testConfig(SchemeHydra)
		c.NumRanks = 1
		c.NumBanks = 2
		c.NumPagesPerBank = 1024
		c.HydraGCTEntries = 16
		c.HydraGCTThreshold = 2
		c.HydraRCCEntries = 1
		c.HydraRCTThreshold = 4
		m = mustNew(c)
	})

	It("should count groups before rows", func() {
		Expect(hydraAct(5)).To(Equal(NoAction))
		Expect(hydraAct(5)).To(Equal(NoAction))
		Expect(m.Stats().Counters["gct_accesses"]).To(Equal(uint64(2)))

		Expect(hydraAct(5)).To(Equal(NoAction))
		Expect(hydraAct(5)).To(Equal(NoAction))
		Expect(hydraAct(5)).To(Equal(DecisionRefresh))

		s := m.Stats()
		Expect(s.Counters["rct_accesses"]).To(Equal(uint64(1)))
		Expect(s.Counters["rcc_accesses"]).To(Equal(uint64(2)))
		Expect(s.Counters["refreshes"]).To(Equal(uint64(1)))
	})

	It("should ask for an update when the row counter is fetched", func() {
		for i := 0; i < 4; i++ {
			hydraAct(5)
		}

		// Row 6 shares the group of row 5 and evicts it from the cache.
		hydraAct(6)

		Expect(hydraAct(5)).To(Equal(DecisionRefresh | DecisionUpdate))
		Expect(m.Stats().Counters["rct_updates"]).To(Equal(uint64(1)))
	})

	It("should reset on the first refresh of the window", func() {
		for i := 0; i < 4; i++ {
			hydraAct(5)
		}

		m.OnAutoRefresh(0, 0, 0)

		Expect(hydraAct(5)).To(Equal(NoAction))
		Expect(hydraAct(5)).To(Equal(NoAction))
		Expect(hydraAct(5)).To(Equal(NoAction))
	})

	It("should charge the counter write-back", func() {
		pr := timing.DefaultParams().Select(false)

		n, update := m.PrechargePenalty(pr, true)

		Expect(update).To(BeTrue())
		Expect(n).To(Equal(pr.RowCycle()*2*3 +
			2*(pr.RowCycle()+pr.TCL+pr.TBL*2)))
	})
})

var _ = Describe("ABACuS", func() {
	newABACuSFor := func(prt, rct, entries uint64) *ABACuS {
		c := testConfig(SchemeABACuS)
		c.ABACuSPRT = prt
		c.ABACuSRCT = rct
		c.ABACuSEntries = entries

		return mustNew(c).(*ABACuS)
	}

	It("should request a preventive refresh at the threshold", func() {
		a := newABACuSFor(4, 3, 2)

		for i := 0; i < 3; i++ {
			Expect(a.Activate(act(0, 1, 9))).To(Equal(NoAction))
		}
		Expect(a.Activate(act(0, 1, 9))).To(Equal(DecisionSwap))
	})

	It("should count a row once across banks until a bank repeats", func() {
		a := newABACuSFor(2, 100, 2)

		Expect(a.Activate(act(0, 0, 9))).To(Equal(NoAction))
		Expect(a.Activate(act(0, 1, 9))).To(Equal(NoAction))
		Expect(a.Activate(act(0, 2, 9))).To(Equal(NoAction))
		Expect(a.Activate(act(0, 2, 9))).To(Equal(DecisionSwap))
	})

	It("should keep the spillover counter within the refresh threshold", func() {
		a := newABACuSFor(16, 6, 3)
		rng := rand.New(rand.NewSource(3))

		for i := 0; i < 5000; i++ {
			a.Activate(act(rng.Intn(2), rng.Intn(4), uint64(rng.Intn(20))))
			Expect(a.Spillover(0)).To(BeNumerically("<=", 6))
			Expect(a.Spillover(1)).To(BeNumerically("<=", 6))

			if i%700 == 0 {
				a.OnAutoRefresh(0, 0, 0)
			}
		}

		Expect(a.Stats().Counters["refresh_cycles"]).NotTo(BeZero())
	})

	It("should not depend on how many times the refresh cycle ran", func() {
		once := newABACuSFor(8, 6, 3)
		twice := newABACuSFor(8, 6, 3)
		rng := rand.New(rand.NewSource(11))

		for i := 0; i < 50; i++ {
			row := uint64(rng.Intn(10))
			once.Activate(act(0, 0, row))
			twice.Activate(act(0, 0, row))
		}

		once.RefreshCycle(0)
		twice.RefreshCycle(0)
		twice.RefreshCycle(0)

		for i := 0; i < 500; i++ {
			a := act(0, rng.Intn(4), uint64(rng.Intn(10)))
			Expect(twice.Activate(a)).To(Equal(once.Activate(a)))
		}
	})

	It("should sweep with refresh cycles before preventive refreshes", func() {
		a := newABACuSFor(8, 6, 3)
		tm := timing.DefaultParams()
		tm.TRFC = 20

		a.timing = tm

		Expect(a.SweepFlags()).To(Equal(
			[]Decision{DecisionUpdate, DecisionSwap}))

		busy, cmd := a.Sweep(DecisionUpdate, 0)
		Expect(cmd).To(Equal(signal.CmdKindRefresh))
		Expect(busy).To(Equal(tm.Ticks(tm.TRAS+tm.TRP) +
			sim.VTime(20*refreshesPerWindow)))

		busy, cmd = a.Sweep(DecisionSwap, 0)
		Expect(cmd).To(Equal(signal.CmdKindPreventiveRefresh))
		Expect(busy).To(Equal(tm.Ticks(2 * (tm.TRAS + tm.TRP) * 3)))
	})
})

var _ = Describe("RAMPART", func() {
	It("should ask for RFM every RAAIMT activations", func() {
		c := testConfig(SchemeRAMPART)
		c.RAAIMT = 3
		r := mustNew(c).(*RAMPART)

		Expect(r.Activate(act(0, 0, 1))).To(Equal(NoAction))
		Expect(r.Activate(act(0, 0, 2))).To(Equal(NoAction))
		Expect(r.Activate(act(0, 0, 3))).To(Equal(DecisionRFM))

		r.OnRFM(0, 0)

		Expect(r.RAA(0, 0)).To(BeZero())
		Expect(r.Stats().Counters["rfms"]).To(Equal(uint64(1)))
	})
})

var _ = Describe("PRAC", func() {
	var p *PRAC

	BeforeEach(func() {
		c := testConfig(SchemePRAC)
		c.RAAIMT = 2
		c.NumPagesPerBank = 8192 * 2
		p = mustNew(c).(*PRAC)
	})

	It("should count per row", func() {
		Expect(p.Activate(act(0, 0, 5))).To(Equal(NoAction))
		Expect(p.Activate(act(0, 0, 6))).To(Equal(NoAction))
		Expect(p.Activate(act(0, 0, 5))).To(Equal(DecisionRFM))
		Expect(p.Count(0, 0, 5)).To(BeZero())
		Expect(p.Count(0, 0, 6)).To(Equal(uint64(1)))
	})

	It("should clear the refreshed rows", func() {
		p.Activate(act(0, 0, 4))
		p.Activate(act(0, 0, 5))
		p.Activate(act(0, 0, 6))

		p.OnAutoRefresh(0, 0, 4)

		Expect(p.Count(0, 0, 4)).To(BeZero())
		Expect(p.Count(0, 0, 5)).To(BeZero())
		Expect(p.Count(0, 0, 6)).To(Equal(uint64(1)))
	})
})

var _ = Describe("BlockHammer", func() {
	var (
		c Config
		b *BlockHammer
	)

	hammer := func(row uint64, n int) {
		for i := 0; i < n; i++ {
			b.Activate(Activation{Row: row, Thread: 1, Time: sim.VTime(i)})
		}
	}

	BeforeEach(func() {
		c = testConfig(SchemeBlockHammer)
		c.ThresholdRH = 4
		c.BlockHammerNth = 100
		c.BlockHammerCBFSize = 64
		c.BlockHammerNumHashes = 1
		c.BlockHammerQuotaBase = 1
		c.BlockHammerThrottle = true
		b = mustNew(c).(*BlockHammer)
	})

	It("should hash deterministically", func() {
		h := newH3(2, 1)
		g := newH3(2, 1)

		Expect(h.hash(12345, 1)).To(Equal(g.hash(12345, 1)))
		Expect(h.hash(0, 0)).To(BeZero())
	})

	It("should block a row activated too often", func() {
		hammer(9, 3)
		Expect(b.RowBlocked(0, 0, 9, 4)).To(BeFalse())

		hammer(9, 1)
		Expect(b.RowBlocked(0, 0, 9, 4)).To(BeTrue())
		Expect(b.RowBlocked(0, 1, 9, 4)).To(BeFalse())

		s := b.Stats()
		Expect(s.Counters["blacklisted_activations"]).To(Equal(uint64(1)))
		Expect(s.Counters["blacklisted_rows"]).To(Equal(uint64(1)))
		Expect(s.Counters["rowblocker_throttled"]).To(Equal(uint64(1)))
	})

	It("should forget a blacklist after two swaps", func() {
		hammer(9, 4)

		b.OnAutoRefresh(0, 0, 4096)
		Expect(b.ActiveFilter(0, 0)).To(Equal(1))
		Expect(b.RowBlocked(0, 0, 9, 5)).To(BeTrue())

		b.OnAutoRefresh(0, 0, 0)
		Expect(b.ActiveFilter(0, 0)).To(Equal(0))
		Expect(b.RowBlocked(0, 0, 9, 5)).To(BeFalse())
	})

	It("should limit in-flight requests of a thread", func() {
		for i := 0; i < 50; i++ {
			Expect(b.Admit(0, 0, 1)).To(BeTrue())
		}

		Expect(b.Admit(0, 0, 1)).To(BeFalse())
		Expect(b.Admit(0, 0, 2)).To(BeTrue())

		b.Release(0, 0, 1)
		Expect(b.Admit(0, 0, 1)).To(BeTrue())
		Expect(b.Stats().Counters["deferred_admissions"]).To(Equal(uint64(1)))
	})

	It("should admit everything without the throttler", func() {
		c.BlockHammerThrottle = false
		b = mustNew(c).(*BlockHammer)

		for i := 0; i < 100; i++ {
			Expect(b.Admit(0, 0, 1)).To(BeTrue())
		}
	})
})

var _ = Describe("Refresh reset", func() {
	DescribeTable("should not depend on how many times a window restarted",
		func(configure func(*Config)) {
			newMitigation := func() Mitigation {
				c := testConfig(SchemeNone)
				configure(&c)

				return mustNew(c)
			}

			once := newMitigation()
			twice := newMitigation()
			rng := rand.New(rand.NewSource(5))
			now := sim.VTime(0)

			next := func() Activation {
				now++
				row := uint64(rng.Intn(12))

				return Activation{
					Bank:    rng.Intn(2),
					Row:     row,
					Address: row << 12,
					Thread:  rng.Intn(2),
					Time:    now,
				}
			}

			for i := 0; i < 200; i++ {
				a := next()
				Expect(twice.Activate(a)).To(Equal(once.Activate(a)))
			}

			for bank := 0; bank < 2; bank++ {
				once.OnAutoRefresh(0, bank, 0)
				twice.OnAutoRefresh(0, bank, 0)
				twice.OnAutoRefresh(0, bank, 0)
			}

			for i := 0; i < 500; i++ {
				a := next()
				Expect(twice.Activate(a)).To(Equal(once.Activate(a)))
			}

			Expect(twice.Stats()).To(Equal(once.Stats()))
		},
		Entry("Graphene", func(c *Config) {
			c.Scheme = SchemeGraphene
			c.GrapheneTableSize = 4
			c.ThresholdRH = 4
		}),
		Entry("SRS", func(c *Config) {
			c.Scheme = SchemeSRS
			c.RRSHRTEntries = 4
			c.RRSHRTThreshold = 2
		}),
		Entry("Hydra", func(c *Config) {
			c.Scheme = SchemeHydra
			c.NumRanks = 1
			c.NumBanks = 2
			c.NumPagesPerBank = 1024
			c.HydraGCTEntries = 16
			c.HydraGCTThreshold = 2
			c.HydraRCCEntries = 1
			c.HydraRCTThreshold = 4
		}),
		Entry("PRAC", func(c *Config) {
			c.Scheme = SchemePRAC
			c.RAAIMT = 3
			c.NumPagesPerBank = 8192 * 2
		}),
		Entry("BlockHammer", func(c *Config) {
			c.Scheme = SchemeBlockHammer
			c.ThresholdRH = 4
			c.BlockHammerNth = 100
			c.BlockHammerCBFSize = 64
			c.BlockHammerNumHashes = 1
			c.BlockHammerQuotaBase = 1
			c.BlockHammerThrottle = true
		}),
	)
})

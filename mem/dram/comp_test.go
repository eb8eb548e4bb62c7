package dram

import (
	"fmt"
	"math/rand"
	"strconv"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"

	"github.com/sarchlab/rowarmor/mem/dram/internal/addressmapping"
	"github.com/sarchlab/rowarmor/sim"
)

type commandLog struct {
	cmds []Command
}

func (l *commandLog) Func(ctx sim.HookCtx) {
	if ctx.Pos != HookPosCommand {
		return
	}

	l.cmds = append(l.cmds, ctx.Item.(Command))
}

func (l *commandLog) count(kind CommandKind) int {
	n := 0
	for _, c := range l.cmds {
		if c.Kind == kind {
			n++
		}
	}

	return n
}

type mapParams map[string]string

func (m mapParams) Uint64(key string, def uint64) uint64 {
	v, ok := m[key]
	if !ok {
		return def
	}

	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		panic(err)
	}

	return n
}

func (m mapParams) String(key string, def string) string {
	if v, ok := m[key]; ok {
		return v
	}

	return def
}

func (m mapParams) Bool(key string, def bool) bool {
	if v, ok := m[key]; ok {
		return v == "true"
	}

	return def
}

type bankKey struct{ rank, bank int }

// expectLegalCommands replays a command log against a simple row-buffer
// model. Column commands must hit the open row of their bank at least tRCD
// after its activation.
func expectLegalCommands(cmds []Command, tRCD sim.VTime) {
	type rowState struct {
		open     bool
		row      uint64
		openedAt sim.VTime
	}

	banks := map[bankKey]*rowState{}

	for i, c := range cmds {
		k := bankKey{c.Location.Rank, c.Location.Bank}
		s, ok := banks[k]
		if !ok {
			s = &rowState{}
			banks[k] = s
		}

		where := fmt.Sprintf("command %d (%s at %d)", i, c.Kind, c.Time)

		switch c.Kind {
		case CmdActivate:
			s.open = true
			s.row = c.Location.Row
			s.openedAt = c.Time
		case CmdRead, CmdWrite:
			Expect(s.open).To(BeTrue(), where)
			Expect(c.Location.Row).To(Equal(s.row), where)
			Expect(c.Time - s.openedAt).To(BeNumerically(">=", tRCD), where)
		default:
			s.open = false
		}
	}
}

var _ = Describe("Comp", func() {
	var (
		mockCtrl *gomock.Controller
		engine   *sim.SerialEngine
		receiver *MockReplyReceiver
		builder  Builder
		encoder  *addressmapping.Encoder
	)

	read := func(id string, addr uint64) *Request {
		return &Request{ID: id, Address: addr, Kind: Read}
	}

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		engine = sim.NewSerialEngine()
		receiver = NewMockReplyReceiver(mockCtrl)
		builder = MakeBuilder().
			WithEngine(engine).
			WithReplyReceiver(receiver)
		encoder = addressmapping.NewEncoder(builder.mapping)
	})

	AfterEach(func() {
		mockCtrl.Finish()
	})

	It("should serve a read after activation and CAS latency", func() {
		c := builder.Build("MC")
		req := read("r0", 0)

		receiver.EXPECT().AddRepEvent(sim.VTime(1150), req)

		c.AddReqEvent(0, req, false)
		Expect(engine.Run()).To(Succeed())

		r := c.Report()
		Expect(r.Activates).To(Equal(uint64(1)))
		Expect(r.Reads).To(Equal(uint64(1)))
		Expect(r.Precharges).To(Equal(uint64(1)))
		Expect(r.AvgReadTicks).To(Equal(1150.0))
	})

	It("should keep the row open for a queued row hit", func() {
		c := builder.Build("MC")
		r0 := read("r0", 0)
		r1 := read("r1", 0x40)

		gomock.InOrder(
			receiver.EXPECT().AddRepEvent(sim.VTime(1150), r0),
			receiver.EXPECT().AddRepEvent(sim.VTime(1250), r1),
		)

		c.AddReqEvent(0, r0, false)
		c.AddReqEvent(0, r1, false)
		Expect(engine.Run()).To(Succeed())

		r := c.Report()
		Expect(r.Activates).To(Equal(uint64(1)))
		Expect(r.Precharges).To(Equal(uint64(1)))
		Expect(r.Threads[0].Accesses).To(Equal(uint64(2)))
	})

	It("should precharge between two rows of a bank", func() {
		c := builder.Build("MC")
		r0 := read("r0", encoder.MakeAddress(2, 10))
		r1 := read("r1", encoder.MakeAddress(2, 11))

		var times []sim.VTime
		receiver.EXPECT().AddRepEvent(gomock.Any(), gomock.Any()).
			Do(func(t sim.VTime, _ *Request) { times = append(times, t) }).
			Times(2)

		c.AddReqEvent(0, r0, false)
		c.AddReqEvent(0, r1, false)
		Expect(engine.Run()).To(Succeed())

		Expect(times[1]).To(BeNumerically(">", times[0]))
		Expect(c.Report().Activates).To(Equal(uint64(2)))
		Expect(c.Report().Precharges).To(Equal(uint64(2)))
	})

	It("should reply to a shared read-write as a shared read", func() {
		c := builder.Build("MC")
		req := &Request{ID: "w0", Address: 0, Kind: SharedReadWrite}

		receiver.EXPECT().AddRepEvent(sim.VTime(1150), req).
			Do(func(_ sim.VTime, r *Request) {
				Expect(r.Kind).To(Equal(SharedRead))
			})

		c.AddReqEvent(0, req, false)
		Expect(engine.Run()).To(Succeed())
		Expect(c.Report().Writes).To(Equal(uint64(1)))
	})

	It("should not reply to evictions", func() {
		c := builder.Build("MC")

		c.AddReqEvent(0, &Request{ID: "e0", Kind: Evict}, false)
		Expect(engine.Run()).To(Succeed())
		Expect(c.Report().Writes).To(Equal(uint64(1)))
	})

	It("should not reply to requests from another controller", func() {
		c := builder.Build("MC")

		c.AddReqEvent(0, read("r0", 0), true)
		Expect(engine.Run()).To(Succeed())
		Expect(c.Report().Reads).To(Equal(uint64(1)))
	})

	It("should round arrivals up to the process interval", func() {
		c := builder.WithFixedLatency(true).Build("MC")
		req := read("r0", 0)

		receiver.EXPECT().AddRepEvent(sim.VTime(1020), req)

		c.AddReqEvent(15, req, false)
		Expect(req.ArrivalTime).To(Equal(sim.VTime(20)))
	})

	It("should serialize requests with fixed bandwidth", func() {
		c := builder.WithFixedBWAndLatency(true).Build("MC")
		r0 := read("r0", 0)
		r1 := read("r1", 0)
		r2 := &Request{ID: "e0", Kind: EvictOwned}

		receiver.EXPECT().AddRepEvent(sim.VTime(1020), r0)
		receiver.EXPECT().AddRepEvent(sim.VTime(1030), r1)

		c.AddReqEvent(20, r0, false)
		c.AddReqEvent(20, r1, false)
		c.AddReqEvent(20, r2, false)

		r := c.Report()
		Expect(r.Reads).To(Equal(uint64(2)))
		Expect(r.Writes).To(Equal(uint64(1)))
		Expect(r.AvgReadTicks).To(Equal(1005.0))
	})

	It("should panic on an unknown thread", func() {
		c := builder.Build("MC")
		req := read("r0", 0)
		req.ThreadID = 3

		Expect(func() { c.AddReqEvent(0, req, false) }).To(Panic())
	})

	It("should panic when it receives a reply", func() {
		c := builder.Build("MC")

		Expect(func() { c.AddRepEvent(0, read("r0", 0)) }).To(Panic())
	})

	It("should refresh while requests are pending", func() {
		log := &commandLog{}
		c := builder.
			WithRefresh(1000, 500).
			WithAdditionalHooks(log).
			Build("MC")
		r0 := read("r0", 0)
		r1 := read("r1", 0)

		receiver.EXPECT().AddRepEvent(sim.VTime(1150), r0)
		receiver.EXPECT().AddRepEvent(sim.VTime(3600), r1)

		c.AddReqEvent(0, r0, false)
		c.AddReqEvent(2500, r1, false)
		Expect(engine.Run()).To(Succeed())

		Expect(c.Report().Refreshes).To(BeNumerically(">=", 2))
		Expect(log.count(CmdRefresh)).To(BeNumerically(">=", 2))
	})

	It("should charge a preventive refresh for every PARA decision", func() {
		c := builder.
			WithParams(mapParams{
				"rh_prevention_scheme": "para",
				"p_para":               "10000",
			}).
			Build("MC")

		receiver.EXPECT().AddRepEvent(gomock.Any(), gomock.Any()).Times(4)

		for i := 0; i < 4; i++ {
			addr := encoder.MakeAddress(1, uint64(100+i))
			c.AddReqEvent(0, read(fmt.Sprintf("r%d", i), addr), false)
		}

		Expect(engine.Run()).To(Succeed())

		r := c.Report()
		Expect(r.Mitigation).To(Equal("para"))
		Expect(r.Activates).To(Equal(uint64(4)))
		Expect(r.PreventiveRefreshes).To(Equal(r.Activates))
		Expect(r.RowHammer.Counters["refreshed_rows"]).To(Equal(uint64(4)))
	})

	It("should issue RFM commands under RAMPART", func() {
		log := &commandLog{}
		c := builder.
			WithParams(mapParams{
				"rh_prevention_scheme": "rampart",
				"RAAIMT":               "2",
				"tRFM_t":               "200",
			}).
			WithAdditionalHooks(log).
			Build("MC")

		receiver.EXPECT().AddRepEvent(gomock.Any(), gomock.Any()).Times(6)

		for i := 0; i < 6; i++ {
			addr := encoder.MakeAddress(3, uint64(40+i))
			c.AddReqEvent(sim.VTime(i*1000), read(fmt.Sprintf("r%d", i), addr),
				false)
		}

		Expect(engine.Run()).To(Succeed())

		Expect(log.count(CmdRFM)).To(BeNumerically(">=", 1))
		expectLegalCommands(log.cmds, 100)
	})

	It("should run attackers only while benign requests are pending", func() {
		log := &commandLog{}
		c := builder.
			WithNumHardwareThreads(2).
			WithAttackers(1, 4, 2).
			WithAdditionalHooks(log).
			Build("MC")

		receiver.EXPECT().AddRepEvent(gomock.Any(), gomock.Any()).
			Do(func(_ sim.VTime, r *Request) {
				Expect(r.ThreadID).To(Equal(0))
			}).
			Times(8)

		for i := 0; i < 8; i++ {
			addr := encoder.MakeAddress(1, uint64(i))
			c.AddReqEvent(sim.VTime(i*100), read(fmt.Sprintf("r%d", i), addr),
				false)
		}

		Expect(engine.Run()).To(Succeed())

		r := c.Report()
		Expect(r.Threads[1].Activates).To(BeNumerically(">", 0))
		Expect(r.Threads[0].Accesses).To(Equal(uint64(8)))
		expectLegalCommands(log.cmds, 100)
	})

	DescribeTable("random traffic",
		func(configure func(Builder) Builder) {
			log := &commandLog{}
			c := configure(builder.WithNumHardwareThreads(4)).
				WithAdditionalHooks(log).
				Build("MC")

			rng := rand.New(rand.NewSource(7))
			kinds := []RequestKind{Read, ExclusiveRead, Evict, SharedReadWrite}
			arrivals := map[*Request]sim.VTime{}
			replies := 0

			var now sim.VTime
			for i := 0; i < 200; i++ {
				now += sim.VTime(rng.Intn(40))
				addr := encoder.MakeAddress(rng.Intn(4), uint64(rng.Intn(6)))
				req := &Request{
					ID:       fmt.Sprintf("r%d", i),
					Address:  addr + uint64(rng.Intn(64))*64,
					Kind:     kinds[rng.Intn(len(kinds))],
					ThreadID: rng.Intn(4),
				}

				if req.Kind != Evict {
					replies++
				}

				c.AddReqEvent(now, req, false)
				arrivals[req] = req.ArrivalTime
			}

			receiver.EXPECT().AddRepEvent(gomock.Any(), gomock.Any()).
				Do(func(t sim.VTime, r *Request) {
					Expect(t).To(BeNumerically(">=", arrivals[r]+1000))
				}).
				Times(replies)

			Expect(engine.Run()).To(Succeed())

			r := c.Report()
			Expect(r.Requests).To(Equal(uint64(200)))
			Expect(r.Reads + r.Writes).To(Equal(uint64(200)))
			expectLegalCommands(log.cmds, 100)
		},
		Entry("closed", func(b Builder) Builder { return b }),
		Entry("open", func(b Builder) Builder { return b.WithPolicy("open") }),
		Entry("local predictor", func(b Builder) Builder {
			return b.WithPolicy("l_pred")
		}),
		Entry("global predictor", func(b Builder) Builder {
			return b.WithPolicy("g_pred")
		}),
		Entry("tournament", func(b Builder) Builder {
			return b.WithPolicy("tournament").WithTournamentInterval(32)
		}),
		Entry("minimalist open", func(b Builder) Builder {
			return b.WithPolicy("m_open")
		}),
		Entry("adaptive open", func(b Builder) Builder {
			return b.WithPolicy("a_open")
		}),
		Entry("PAR-BS", func(b Builder) Builder { return b.WithPARBS(true) }),
		Entry("BLISS", func(b Builder) Builder { return b.WithBLISS(true) }),
		Entry("full duplex", func(b Builder) Builder {
			return b.WithPolicy("open").WithFullDuplex(true)
		}),
		Entry("bank groups", func(b Builder) Builder {
			return b.WithBankGroups(2)
		}),
		Entry("ECC bursts", func(b Builder) Builder {
			return b.WithECCBursts(1)
		}),
		Entry("refresh", func(b Builder) Builder {
			return b.WithRefresh(2000, 300)
		}),
		Entry("graphene", func(b Builder) Builder {
			return b.WithParams(mapParams{
				"rh_prevention_scheme": "graphene",
				"graphene_table_size":  "8",
				"th_RH":                "16",
			})
		}),
		Entry("hydra", func(b Builder) Builder {
			return b.WithParams(mapParams{
				"rh_prevention_scheme":  "hydra",
				"hydra_gct_threshold":   "4",
				"hydra_rct_threshold":   "6",
				"hydra_gct_num_entries": "64",
				"hydra_rcc_num_entries": "16",
			})
		}),
		Entry("srs", func(b Builder) Builder {
			return b.WithParams(mapParams{
				"rh_prevention_scheme": "srs",
				"rrs_hrt_threshold":    "4",
				"rrs_hrt_num_entry":    "16",
			})
		}),
		Entry("prac", func(b Builder) Builder {
			return b.WithParams(mapParams{
				"rh_prevention_scheme": "prac",
				"RAAIMT":               "4",
				"tRFM_t":               "100",
			})
		}),
		Entry("abacus", func(b Builder) Builder {
			return b.WithParams(mapParams{
				"rh_prevention_scheme": "abacus",
				"abacus_prt":           "4",
				"abacus_rct":           "8",
				"abacus_num_entry":     "16",
			})
		}),
		Entry("blockhammer", func(b Builder) Builder {
			return b.WithParams(mapParams{
				"rh_prevention_scheme": "blockhammer",
				"attackthrottler":      "true",
			})
		}),
	)
})

package policy

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Parse", func() {
	It("should default to closed", func() {
		p, err := Parse("")

		Expect(err).NotTo(HaveOccurred())
		Expect(p).To(Equal(Closed))
	})

	It("should parse every policy name", func() {
		for name, want := range policyNames {
			p, err := Parse(name)

			Expect(err).NotTo(HaveOccurred())
			Expect(p).To(Equal(want))
			Expect(p.String()).To(Equal(name))
		}
	})

	It("should reject unknown names", func() {
		_, err := Parse("lru")
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("Predictors", func() {
	It("should saturate the bimodal counter", func() {
		ps := NewPredictors(LocalPred, 1, 1, 1)
		var local Bimodal

		ps.RecordRowMiss(&local, 0)
		Expect(local).To(Equal(Bimodal(1)))
		Expect(ps.KeepOpen(local, 0)).To(BeTrue())

		ps.RecordRowMiss(&local, 0)
		Expect(local).To(Equal(Bimodal(3)))
		Expect(ps.KeepOpen(local, 0)).To(BeFalse())

		ps.RecordRowHit(&local, 0)
		Expect(local).To(Equal(Bimodal(2)))

		ps.RecordRowHit(&local, 0)
		Expect(local).To(BeZero())
	})

	It("should index the global predictor by history", func() {
		ps := NewPredictors(GlobalPred, 1, 2, 1)
		var local Bimodal

		ps.RecordRowMiss(&local, 0)
		ps.RecordRowMiss(&local, 0)
		Expect(ps.KeepOpen(0, 0)).To(BeFalse())

		ps.PushHistory(0, true)
		Expect(ps.KeepOpen(0, 0)).To(BeTrue())
	})

	It("should never close rows under open policies", func() {
		for _, p := range []Policy{Open, MinimalistOpen, AdaptiveOpen} {
			Expect(NewPredictors(p, 0, 1, 1).KeepOpen(3, 0)).To(BeTrue())
		}

		Expect(NewPredictors(Closed, 0, 1, 1).KeepOpen(0, 0)).To(BeFalse())
	})

	It("should switch only after a predictor wins twice", func() {
		ps := NewPredictors(Tournament, 2, 1, 1)
		var local Bimodal

		Expect(ps.Selected()).To(Equal(PredOpen))

		ps.RecordRowMiss(&local, 0)
		ps.RecordRowMiss(&local, 0)
		ps.MaybeSwitch(2)
		Expect(ps.Selected()).To(Equal(PredOpen))

		ps.RecordRowMiss(&local, 0)
		ps.MaybeSwitch(3)
		Expect(ps.Selected()).To(Equal(PredOpen))

		ps.RecordRowMiss(&local, 0)
		ps.MaybeSwitch(4)
		Expect(ps.Selected()).To(Equal(PredClosed))
		Expect(ps.KeepOpen(0, 0)).To(BeFalse())

		stats := ps.Stats()
		Expect(stats.Closed.Hit).To(Equal(uint64(4)))
		Expect(stats.Open.Miss).To(Equal(uint64(4)))
		Expect(stats.Tournament.Miss).To(Equal(uint64(4)))
	})
})

var _ = Describe("AdaptiveTimeout", func() {
	It("should grow the timeout after premature closes", func() {
		a := NewAdaptiveTimeout(500, 50, 2, 1, 1, false)

		a.RecordPrematureClose()
		a.RecordPrematureClose()
		a.RecordServed()
		Expect(a.Timeout).To(Equal(uint64(500)))

		a.RecordServed()
		Expect(a.Timeout).To(Equal(uint64(550)))
	})

	It("should shrink the timeout after overdue closes", func() {
		a := NewAdaptiveTimeout(60, 50, 1, 1, 1, false)

		a.RecordOverdueClose()
		a.RecordOverdueClose()
		a.RecordServed()
		Expect(a.Timeout).To(Equal(uint64(10)))

		a.RecordOverdueClose()
		a.RecordOverdueClose()
		a.RecordServed()
		Expect(a.Timeout).To(Equal(uint64(10)))
	})

	It("should not tune a fixed timeout", func() {
		a := NewAdaptiveTimeout(500, 50, 1, 0, 0, true)

		a.RecordPrematureClose()
		a.RecordServed()
		Expect(a.Timeout).To(Equal(uint64(500)))
	})
})

var _ = Describe("Batch", func() {
	It("should form a batch bounded by the window", func() {
		b := NewBatch(true, 4, 2)

		b.Form(10)
		Expect(b.Last()).To(Equal(3))

		b.Form(2)
		Expect(b.Last()).To(Equal(3))
	})

	It("should shrink the batch as requests are served", func() {
		b := NewBatch(true, 16, 2)
		b.Admit(1)
		b.Admit(1)
		b.Form(3)

		b.Served(2, 1, 3)
		Expect(b.Last()).To(Equal(1))
		Expect(b.Outstanding(1)).To(Equal(1))

		b.Served(1, 1, 2)
		Expect(b.Last()).To(Equal(0))
	})

	It("should start a new batch when the last one drains", func() {
		b := NewBatch(true, 16, 1)
		b.Form(1)

		b.Served(0, 0, 5)
		Expect(b.Last()).To(Equal(3))
	})

	It("should do nothing when disabled", func() {
		b := NewBatch(false, 16, 1)
		b.Admit(0)
		b.Form(4)

		Expect(b.Last()).To(Equal(-1))
		Expect(b.Outstanding(0)).To(BeZero())
	})
})

var _ = Describe("Bliss", func() {
	It("should blacklist a thread served back to back", func() {
		b := NewBliss(3, 100)

		b.Served(1)
		b.Served(1)
		Expect(b.IsBlacklisted(1)).To(BeFalse())

		b.Served(1)
		Expect(b.IsBlacklisted(1)).To(BeTrue())
		Expect(b.NumBlacklisted()).To(Equal(1))

		b.Clear()
		Expect(b.IsBlacklisted(1)).To(BeFalse())
	})

	It("should reset the streak when another thread is served", func() {
		b := NewBliss(2, 100)

		b.Served(1)
		b.Served(2)
		b.Served(1)

		Expect(b.NumBlacklisted()).To(BeZero())
	})
})

package bus

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sarchlab/rowarmor/sim"
)

func vtime(t uint64) sim.VTime {
	return sim.VTime(t)
}

var _ = Describe("Occupancy", func() {
	var o *Occupancy

	BeforeEach(func() {
		o = NewOccupancy()
		for _, t := range []uint64{100, 110, 120, 130} {
			o.Reserve(vtime(t), 3)
		}
	})

	It("should keep the first owner of a tick", func() {
		o.Reserve(110, 7)

		Expect(o.Len()).To(Equal(4))
		Expect(o.AnyBetween(110, 110, func(owner uint32) bool {
			return owner == 7
		})).To(BeFalse())
	})

	It("should find the first reservation from a tick", func() {
		t, ok := o.FirstFrom(111)

		Expect(ok).To(BeTrue())
		Expect(t).To(BeEquivalentTo(120))

		_, ok = o.FirstFrom(131)
		Expect(ok).To(BeFalse())
	})

	It("should tell whether a burst fits", func() {
		Expect(o.FreeFor(140, 50)).To(BeTrue())
		Expect(o.FreeFor(60, 40)).To(BeTrue())
		Expect(o.FreeFor(60, 41)).To(BeFalse())
	})

	It("should search a closed range", func() {
		Expect(o.AnyBetween(101, 109, nil)).To(BeFalse())
		Expect(o.AnyBetween(101, 110, nil)).To(BeTrue())
		Expect(o.AnyBetween(90, 130, func(owner uint32) bool {
			return owner == 3
		})).To(BeTrue())
	})

	It("should prune past reservations", func() {
		o.Prune(120)

		Expect(o.Len()).To(Equal(2))
		t, _ := o.FirstFrom(0)
		Expect(t).To(BeEquivalentTo(120))
	})
})

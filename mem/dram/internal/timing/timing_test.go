package timing

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Params", func() {
	It("should derive defaults from the base timing", func() {
		p := DefaultParams()

		Expect(p.TBBL).To(Equal(p.TBL))
		Expect(p.TBBLW).To(Equal(p.TBL))
		Expect(p.MOpenTO).To(Equal(uint64(25)))
		Expect(p.TRDBUBSameGroup).To(Equal(uint64(10)))
		Expect(p.Select(true)).To(Equal(p.Select(false)))
	})

	It("should reject a refresh interval that does not divide evenly", func() {
		p := DefaultParams()
		p.RefreshInterval = 1000

		Expect(p.Validate(2)).To(Succeed())

		p.RefreshInterval = 1010
		Expect(p.Validate(2)).To(MatchError(ContainSubstring("refresh_interval")))
	})

	It("should reject zero burst length", func() {
		p := DefaultParams()
		p.TBL = 0

		Expect(p.Validate(1)).NotTo(Succeed())
	})

	It("should select the agile profile", func() {
		p := DefaultParams()
		p.TRCDAB = 4
		p.TRASAB = 9
		p.ToDirAB = 300

		agile := p.Select(true)
		Expect(agile.TRCD).To(Equal(uint64(4)))
		Expect(agile.Restore()).To(Equal(uint64(5)))
		Expect(agile.ToDir).To(Equal(uint64(300)))
		Expect(p.Select(false).RowCycle()).To(Equal(uint64(25)))
	})

	It("should convert intervals to ticks", func() {
		p := DefaultParams()

		Expect(p.Ticks(3)).To(BeEquivalentTo(30))
		p.RefreshInterval = 1000
		Expect(p.RefreshStep(2)).To(BeEquivalentTo(500))
	})
})

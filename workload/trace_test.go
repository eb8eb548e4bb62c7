package workload

import (
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/rowarmor/mem/dram"
)

var _ = Describe("ReadTrace", func() {
	It("should parse entries", func() {
		entries, err := ReadTrace(strings.NewReader(`
# time kind address thread
0 read 0x1000
10 evict 4096 1

25   s_rd_wr   0x40   3
`))

		Expect(err).NotTo(HaveOccurred())
		Expect(entries).To(Equal([]TraceEntry{
			{Time: 0, Kind: dram.Read, Address: 0x1000},
			{Time: 10, Kind: dram.Evict, Address: 4096, Thread: 1},
			{Time: 25, Kind: dram.SharedReadWrite, Address: 0x40, Thread: 3},
		}))
	})

	DescribeTable("malformed lines",
		func(trace, msg string) {
			_, err := ReadTrace(strings.NewReader(trace))

			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring(msg))
		},
		Entry("too few fields", "0 read\n", "line 1"),
		Entry("bad time", "x read 0\n", "bad time"),
		Entry("unknown kind", "0 write 0\n", "unknown request kind"),
		Entry("bad address", "0 read zz\n", "bad address"),
		Entry("negative thread", "0 read 0 -1\n", "bad thread"),
		Entry("out of order", "10 read 0\n5 read 0\n", "line 2"),
	)
})

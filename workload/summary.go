package workload

import (
	"io"
	"sort"

	"gonum.org/v1/gonum/stat"
	"gopkg.in/yaml.v2"
)

// Summary describes the replies a driver received.
type Summary struct {
	Name       string  `yaml:"name"`
	Issued     uint64  `yaml:"issued"`
	Writes     uint64  `yaml:"writes"`
	Replied    uint64  `yaml:"replied"`
	FinishTime uint64  `yaml:"finish_time"`
	Mean       float64 `yaml:"mean_latency"`
	StdDev     float64 `yaml:"stddev_latency"`
	P50        float64 `yaml:"p50_latency"`
	P95        float64 `yaml:"p95_latency"`
	P99        float64 `yaml:"p99_latency"`
	Max        float64 `yaml:"max_latency"`
}

// Summary computes the latency statistics of the replies received so far.
// Latencies are measured from the issue time to the reply time.
func (d *Driver) Summary() Summary {
	s := Summary{
		Name:       d.name,
		Issued:     d.issued,
		Writes:     d.writes,
		Replied:    uint64(len(d.latencies)),
		FinishTime: uint64(d.finish),
	}

	if len(d.latencies) == 0 {
		return s
	}

	sorted := append([]float64(nil), d.latencies...)
	sort.Float64s(sorted)

	s.Mean, s.StdDev = stat.MeanStdDev(sorted, nil)
	if len(sorted) == 1 {
		s.StdDev = 0
	}

	s.P50 = stat.Quantile(0.50, stat.Empirical, sorted, nil)
	s.P95 = stat.Quantile(0.95, stat.Empirical, sorted, nil)
	s.P99 = stat.Quantile(0.99, stat.Empirical, sorted, nil)
	s.Max = sorted[len(sorted)-1]

	return s
}

// WriteYAML writes the summary as a YAML document.
func (s Summary) WriteYAML(w io.Writer) error {
	out, err := yaml.Marshal(s)
	if err != nil {
		return err
	}

	_, err = w.Write(out)

	return err
}

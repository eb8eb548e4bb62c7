package dram

import (
	"io"

	"gopkg.in/yaml.v2"

	"github.com/sarchlab/rowarmor/datarecording"
	"github.com/sarchlab/rowarmor/mem/dram/internal/policy"
	"github.com/sarchlab/rowarmor/mem/dram/internal/rowhammer"
)

// ThreadStats counts the traffic of one hardware thread.
type ThreadStats struct {
	Thread    int    `yaml:"thread"`
	Accesses  uint64 `yaml:"accesses"`
	Activates uint64 `yaml:"activates"`
}

type counters struct {
	requests            uint64
	reads               uint64
	writes              uint64
	activates           uint64
	restores            uint64
	precharges          uint64
	writeToReadSwitches uint64
	refreshes           uint64
	preventiveRefreshes uint64
	deferredAdmissions  uint64

	agileReads     uint64
	agileWrites    uint64
	agileActivates uint64

	ticksInController uint64
	activeBankCycles  uint64

	threads []ThreadStats
}

func (s *counters) init(numThreads int) {
	s.threads = make([]ThreadStats, numThreads)
	for i := range s.threads {
		s.threads[i].Thread = i
	}
}

// StatsReport is the end-of-simulation summary of a controller.
type StatsReport struct {
	Name       string `yaml:"name"`
	Policy     string `yaml:"policy"`
	Mitigation string `yaml:"mitigation"`

	Requests            uint64 `yaml:"num_reqs"`
	Reads               uint64 `yaml:"num_read"`
	Writes              uint64 `yaml:"num_write"`
	Activates           uint64 `yaml:"num_activate"`
	Restores            uint64 `yaml:"num_restore"`
	Precharges          uint64 `yaml:"num_precharge"`
	WriteToReadSwitches uint64 `yaml:"num_write_to_read_switch"`
	Refreshes           uint64 `yaml:"num_refresh"`
	PreventiveRefreshes uint64 `yaml:"num_preventive_refresh"`
	DeferredAdmissions  uint64 `yaml:"num_deferred_admission"`

	AgileReads     uint64 `yaml:"num_ab_read"`
	AgileWrites    uint64 `yaml:"num_ab_write"`
	AgileActivates uint64 `yaml:"num_ab_activate"`

	AvgReadTicks     float64 `yaml:"avg_tick_in_mc_for_rd"`
	ActiveBankCycles uint64  `yaml:"accu_num_activated_bank"`

	Predictors policy.PredictorStats `yaml:"predictors"`
	Threads    []ThreadStats         `yaml:"threads"`
	RowHammer  *rowhammer.Stats      `yaml:"rowhammer,omitempty"`
}

// Report summarizes what the controller has done so far.
func (c *Comp) Report() StatsReport {
	c.Lock()
	defer c.Unlock()

	s := c.stats
	r := StatsReport{
		Name:                c.Name(),
		Policy:              c.pagePolicy.String(),
		Mitigation:          rowhammer.SchemeNone.String(),
		Requests:            s.requests,
		Reads:               s.reads,
		Writes:              s.writes,
		Activates:           s.activates,
		Restores:            s.restores,
		Precharges:          s.precharges,
		WriteToReadSwitches: s.writeToReadSwitches,
		Refreshes:           s.refreshes,
		PreventiveRefreshes: s.preventiveRefreshes,
		DeferredAdmissions:  s.deferredAdmissions,
		AgileReads:          s.agileReads,
		AgileWrites:         s.agileWrites,
		AgileActivates:      s.agileActivates,
		ActiveBankCycles:    s.activeBankCycles,
		Predictors:          c.predictors.Stats(),
		Threads:             append([]ThreadStats(nil), s.threads...),
	}

	if s.reads > 0 {
		r.AvgReadTicks = float64(s.ticksInController) / float64(s.reads)
	}

	if c.mitigation != nil {
		rh := c.mitigation.Stats()
		r.Mitigation = rh.Scheme
		r.RowHammer = &rh
	}

	return r
}

// WriteYAML writes the report as a YAML document.
func (r StatsReport) WriteYAML(w io.Writer) error {
	out, err := yaml.Marshal(r)
	if err != nil {
		return err
	}

	_, err = w.Write(out)

	return err
}

// StatsEntry is the row a controller writes to the statistics table.
type StatsEntry struct {
	Component    string
	Reads        uint64
	Writes       uint64
	Activates    uint64
	Precharges   uint64
	Refreshes    uint64
	AvgReadTicks float64
}

// StatsTable is the name of the table that holds controller statistics.
const StatsTable = "dram_stats"

// RecordStats writes the headline counters of the controller to a data
// recorder.
func (c *Comp) RecordStats(rec datarecording.DataRecorder) {
	r := c.Report()

	rec.CreateTable(StatsTable, StatsEntry{})
	rec.InsertData(StatsTable, StatsEntry{
		Component:    r.Name,
		Reads:        r.Reads,
		Writes:       r.Writes,
		Activates:    r.Activates,
		Precharges:   r.Precharges,
		Refreshes:    r.Refreshes,
		AvgReadTicks: r.AvgReadTicks,
	})
}

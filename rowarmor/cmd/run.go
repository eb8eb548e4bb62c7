package cmd

import (
	"fmt"
	"log"
	"os"

	"github.com/fatih/color"
	"github.com/pkg/browser"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sarchlab/rowarmor/config"
	"github.com/sarchlab/rowarmor/datarecording"
	"github.com/sarchlab/rowarmor/mem/dram"
	"github.com/sarchlab/rowarmor/monitoring"
	"github.com/sarchlab/rowarmor/sim"
	"github.com/sarchlab/rowarmor/workload"
)

type runOptions struct {
	trace          string
	report         string
	summary        string
	db             string
	traceCommands  bool
	logEvents      bool
	maxOutstanding int
	uniqueIDs      bool

	monitor     bool
	monitorPort int
	openBrowser bool
}

var runOpts runOptions

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Replay a trace through a memory controller.",
	Long: `run replays a trace through one memory controller and prints the ` +
		`controller statistics. Trace lines are "<time> <kind> <address> ` +
		`[thread]".`,
	Args: cobra.NoArgs,
	RunE: func(_ *cobra.Command, _ []string) error {
		params, err := loadParams()
		if err != nil {
			return err
		}

		return simulate(params, runOpts)
	},
}

func init() {
	flags := runCmd.Flags()
	flags.StringVarP(&runOpts.trace, "trace", "t", "", "trace file to replay")
	flags.StringVar(&runOpts.report, "report", "-",
		"where to write the controller report as YAML, - for stdout")
	flags.StringVar(&runOpts.summary, "summary", "",
		"where to write the workload latency summary as YAML")
	flags.StringVar(&runOpts.db, "db", "",
		"record commands, replies and statistics into this SQLite database")
	flags.BoolVar(&runOpts.traceCommands, "trace-commands", false,
		"print every DRAM command")
	flags.BoolVar(&runOpts.logEvents, "log-events", false,
		"print every simulation event to stderr")
	flags.IntVar(&runOpts.maxOutstanding, "max-outstanding", 0,
		"reads in flight per thread, 0 for an open-loop replay")
	flags.BoolVar(&runOpts.uniqueIDs, "unique-ids", false,
		"use globally unique event IDs instead of sequential ones")
	flags.BoolVar(&runOpts.monitor, "monitor", false,
		"serve the simulation state over HTTP")
	flags.IntVar(&runOpts.monitorPort, "monitor-port", 0,
		"port of the monitor, 0 for a random port")
	flags.BoolVar(&runOpts.openBrowser, "open-browser", false,
		"open the monitor in a browser")

	_ = runCmd.MarkFlagRequired("trace")

	rootCmd.AddCommand(runCmd)
}

func simulate(params *config.Params, opts runOptions) error {
	if opts.uniqueIDs {
		sim.UseParallelIDGenerator()
	}

	entries, err := readTraceFile(opts.trace)
	if err != nil {
		return err
	}

	engine := sim.NewSerialEngine()
	if opts.logEvents {
		engine.AcceptHook(sim.NewEventLogger(log.New(os.Stderr, "", 0)))
	}

	builder := dram.MakeBuilder().
		WithEngine(engine).
		WithLogger(logger).
		WithParams(params)
	if err := params.Err(); err != nil {
		return err
	}

	driver, err := workload.MakeDriverBuilder().
		WithEngine(engine).
		WithLogger(logger.Named("Driver")).
		WithNumThreads(builder.NumBenignThreads()).
		WithMaxOutstanding(opts.maxOutstanding).
		Build("Driver", entries)
	if err != nil {
		return err
	}

	builder = builder.WithReplyReceiver(driver)
	if err := builder.Validate(); err != nil {
		return fmt.Errorf("invalid controller parameters: %w", err)
	}

	mc := builder.Build("MC")
	driver.Connect(mc)

	if opts.traceCommands || params.Bool("display_page_acc_pattern", false) {
		mc.AcceptHook(dram.NewCommandTracer(os.Stdout, !color.NoColor))
	}

	var recorder datarecording.DataRecorder
	if opts.db != "" {
		recorder = datarecording.New(opts.db)
		mc.AcceptHook(dram.NewDBTracer(recorder))
	}

	exec := startExecRecord(recorder, params)

	if opts.monitor {
		if err := startMonitor(engine, mc, driver, opts); err != nil {
			return err
		}
	}

	logger.Info("simulation started",
		zap.String("trace", opts.trace),
		zap.Int("requests", len(entries)))

	driver.Start()

	if err := engine.Run(); err != nil {
		return fmt.Errorf("simulation failed: %w", err)
	}

	engine.Finished()

	logger.Info("simulation finished",
		zap.Uint64("time", uint64(engine.CurrentTime())))

	if !driver.Done() {
		logger.Warn("trace not fully served")
	}

	if recorder != nil {
		mc.RecordStats(recorder)
		exec.End()
	}

	return writeReports(mc, driver, opts)
}

func readTraceFile(path string) ([]workload.TraceEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return workload.ReadTrace(f)
}

func startExecRecord(
	recorder datarecording.DataRecorder,
	params *config.Params,
) *datarecording.ExecRecorder {
	if recorder == nil {
		return nil
	}

	exec := datarecording.NewExecRecorder(recorder)
	exec.Start()

	for _, k := range params.Keys() {
		exec.Set(k, params.String(k, ""))
	}

	return exec
}

// progressHook refreshes a progress bar from the driver after each event.
type progressHook struct {
	driver *workload.Driver
	bar    *monitoring.ProgressBar
}

func (h progressHook) Func(ctx sim.HookCtx) {
	if ctx.Pos != sim.HookPosAfterEvent {
		return
	}

	h.bar.Set(h.driver.Progress())
}

func startMonitor(
	engine *sim.SerialEngine,
	mc *dram.Comp,
	driver *workload.Driver,
	opts runOptions,
) error {
	m := monitoring.NewMonitor().WithPortNumber(opts.monitorPort)
	m.RegisterEngine(engine)
	m.RegisterComponent(mc)
	m.RegisterReport(mc.Name(), func() any { return mc.Report() })
	m.RegisterReport(driver.Name(), func() any { return driver.Summary() })

	bar := m.CreateProgressBar("Trace", uint64(driver.NumEntries()))
	engine.AcceptHook(progressHook{driver: driver, bar: bar})

	url, err := m.StartServer()
	if err != nil {
		return err
	}

	if opts.openBrowser {
		if err := browser.OpenURL(url); err != nil {
			logger.Warn("cannot open browser", zap.Error(err))
		}
	}

	return nil
}

func writeReports(mc *dram.Comp, driver *workload.Driver, opts runOptions) error {
	if opts.report != "" {
		out, done, err := createOutput(opts.report)
		if err != nil {
			return err
		}
		defer done()

		if err := mc.Report().WriteYAML(out); err != nil {
			return err
		}
	}

	if opts.summary != "" {
		out, done, err := createOutput(opts.summary)
		if err != nil {
			return err
		}
		defer done()

		if err := driver.Summary().WriteYAML(out); err != nil {
			return err
		}
	}

	return nil
}

// Package cmd provides the command-line interface of rowarmor.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/tebeka/atexit"
	"go.uber.org/zap"

	"github.com/sarchlab/rowarmor/config"
)

var (
	paramFiles []string
	overrides  []string
	logLevel   string
	logJSON    bool

	logger = zap.NewNop()
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "rowarmor",
	Short: "rowarmor simulates a DRAM memory controller under RowHammer attacks.",
	Long: `rowarmor replays memory traces through a cycle-level DRAM memory ` +
		`controller model with configurable page policies, request ` +
		`prioritization and RowHammer mitigations. Parameters use the McSim ` +
		`names and are read from KEY=VALUE files, ROWARMOR_ environment ` +
		`variables and --set overrides.`,
	SilenceUsage: true,
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		l, err := newLogger(logLevel, logJSON)
		if err != nil {
			return err
		}

		logger = l
		atexit.Register(func() { _ = logger.Sync() })

		return nil
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringArrayVarP(&paramFiles, "params", "p", nil,
		"parameter file in KEY=VALUE form, may be repeated")
	flags.StringArrayVar(&overrides, "set", nil,
		"override a parameter as key=value, may be repeated")
	flags.StringVar(&logLevel, "log-level", "warn",
		"log level: debug, info, warn or error")
	flags.BoolVar(&logJSON, "log-json", false, "write logs as JSON")
}

// Execute adds all child commands to the root command and sets flags
// appropriately.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		atexit.Exit(1)
	}

	atexit.Exit(0)
}

func newLogger(level string, asJSON bool) (*zap.Logger, error) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("bad --log-level: %w", err)
	}

	cfg := zap.NewDevelopmentConfig()
	if asJSON {
		cfg = zap.NewProductionConfig()
	}

	cfg.Level = lvl
	cfg.OutputPaths = []string{"stderr"}

	return cfg.Build()
}

func loadParams() (*config.Params, error) {
	params, err := config.Load(paramFiles...)
	if err != nil {
		return nil, err
	}

	for _, kv := range overrides {
		if err := params.SetPair(kv); err != nil {
			return nil, err
		}
	}

	return params, nil
}

func createOutput(path string) (*os.File, func(), error) {
	if path == "-" {
		return os.Stdout, func() {}, nil
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, nil, err
	}

	return f, func() { f.Close() }, nil
}

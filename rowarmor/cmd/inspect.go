package cmd

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v2"

	"github.com/sarchlab/rowarmor/datarecording"
	"github.com/sarchlab/rowarmor/mem/dram"
)

var inspectOpts struct {
	where string
	limit int
}

var knownTables = map[string]any{
	dram.CommandTable:       dram.CommandEntry{},
	dram.ReplyTable:         dram.ReplyEntry{},
	dram.StatsTable:         dram.StatsEntry{},
	datarecording.ExecTable: datarecording.ExecInfo{},
}

var inspectCmd = &cobra.Command{
	Use:   "inspect DB [TABLE...]",
	Short: "Print the tables recorded by run --db.",
	Long: `inspect lists the tables of a recording. With table names, it ` +
		`prints their rows as YAML.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reader := datarecording.NewReader(args[0])
		defer reader.Close()

		for name, sample := range knownTables {
			reader.MapTable(name, sample)
		}

		out := cmd.OutOrStdout()
		heading := color.New(color.Bold)

		if len(args) == 1 {
			for _, t := range reader.ListTables() {
				fmt.Fprintln(out, t)
			}

			return nil
		}

		for _, table := range args[1:] {
			rows, total, err := reader.Query(context.Background(), table,
				datarecording.QueryParams{
					Where: inspectOpts.where,
					Limit: inspectOpts.limit,
				})
			if err != nil {
				return fmt.Errorf("querying %s: %w", table, err)
			}

			heading.Fprintf(out, "%s (%d of %d rows)\n", table, len(rows), total)

			text, err := yaml.Marshal(rows)
			if err != nil {
				return err
			}

			fmt.Fprint(out, string(text))
		}

		return nil
	},
}

func init() {
	inspectCmd.Flags().StringVar(&inspectOpts.where, "where", "",
		"SQL condition on the rows, e.g. \"Command = 'ACT'\"")
	inspectCmd.Flags().IntVar(&inspectOpts.limit, "limit", 20,
		"maximum rows per table, 0 for all")

	rootCmd.AddCommand(inspectCmd)
}

package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/sarchlab/rowarmor/mem/dram"
)

var decodeThread int

var decodeCmd = &cobra.Command{
	Use:   "decode ADDR...",
	Short: "Print the DRAM location of addresses.",
	Long: `decode maps each address to its rank, bank group, bank, row and ` +
		`column under the interleaving parameters. Addresses may be hex.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		params, err := loadParams()
		if err != nil {
			return err
		}

		builder := dram.MakeBuilder().WithParams(params)
		if err := params.Err(); err != nil {
			return err
		}

		for _, arg := range args {
			addr, err := strconv.ParseUint(arg, 0, 64)
			if err != nil {
				return fmt.Errorf("bad address %q: %w", arg, err)
			}

			loc, err := builder.Decode(addr, decodeThread)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(),
				"0x%x: rank %d, group %d, bank %d, row 0x%x, column 0x%x, agile %t\n",
				addr, loc.Rank, loc.BankGroup, loc.Bank, loc.Row, loc.Column,
				loc.Agile)
		}

		return nil
	},
}

func init() {
	decodeCmd.Flags().IntVar(&decodeThread, "thread", 0,
		"hardware thread that issues the addresses")

	rootCmd.AddCommand(decodeCmd)
}

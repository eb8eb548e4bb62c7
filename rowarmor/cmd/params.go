package cmd

import (
	"github.com/spf13/cobra"
)

var paramsCmd = &cobra.Command{
	Use:   "params",
	Short: "Print the effective parameters.",
	Long: `params merges the parameter files, the ROWARMOR_ environment ` +
		`variables and the --set overrides and prints the result in a form ` +
		`that --params accepts.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		params, err := loadParams()
		if err != nil {
			return err
		}

		return params.Write(cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.AddCommand(paramsCmd)
}

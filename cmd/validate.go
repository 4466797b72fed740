package cmd

import (
	"fmt"

	"apiprobe/internal/config"
	"apiprobe/internal/contract"

	"github.com/spf13/cobra"
)

var validateSuitesPath string

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check configuration and suite files without executing anything",
	Long: `Validate loads the configuration and every suite file, running the
same checks a run would: schema shape, valid-example conformance,
placeholder resolution, and assertion completeness.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		settings, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if err := settings.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}

		suites, err := contract.LoadSuites(validateSuitesPath)
		if err != nil {
			return err
		}

		cases, contracts := 0, 0
		for _, suite := range suites {
			for _, tc := range suite.Cases {
				cases++
				if tc.Contract != nil {
					contracts++
				}
			}
		}

		fmt.Fprintf(cmd.OutOrStdout(), "OK: %d suites, %d cases (%d with contracts)\n",
			len(suites), cases, contracts)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().StringVar(&validateSuitesPath, "suites", "suites", "Suite file or directory of suite files")
}

package cmd

import (
	"fmt"

	"apiprobe/internal/contract"
	"apiprobe/internal/mutation"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var (
	generateSuitesPath string
	generateCase       string
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Show the mutation plan for loaded suites without sending requests",
	Long: `Generate lists every mutation variant that a run would execute, in
execution order. Nothing is sent to the API; use it to review negative
coverage before committing a suite file.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		suites, err := contract.LoadSuites(generateSuitesPath)
		if err != nil {
			return err
		}

		t := table.NewWriter()
		t.SetOutputMirror(cmd.OutOrStdout())
		t.SetStyle(table.StyleLight)
		t.AppendHeader(table.Row{"Suite", "Case", "Variant", "Strategy", "Field", "Description"})

		total := 0
		for _, suite := range suites {
			for _, tc := range suite.Cases {
				if generateCase != "" && tc.Name != generateCase {
					continue
				}
				if tc.Contract == nil || len(tc.Mutations) == 0 {
					continue
				}

				seq, err := mutation.NewSequence(tc.Contract, tc.Mutations)
				if err != nil {
					return fmt.Errorf("case %s: %w", tc.Name, err)
				}
				for _, entry := range seq.Preview() {
					t.AppendRow(table.Row{suite.Name, tc.Name, entry.Name, entry.Strategy, entry.Field, entry.Description})
					total++
				}
			}
		}

		t.Render()
		fmt.Fprintf(cmd.OutOrStdout(), "%d mutation variants planned\n", total)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(generateCmd)

	generateCmd.Flags().StringVar(&generateSuitesPath, "suites", "suites", "Suite file or directory of suite files")
	generateCmd.Flags().StringVar(&generateCase, "case", "", "Limit output to a single case name")
}

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jbweber/kindling/internal/config"
	"github.com/jbweber/kindling/internal/output"
)

var (
	outputFormat string
	noHeaders    bool
)

var validateCmd = &cobra.Command{
	Use:   "validate <config.toml>",
	Short: "Validate a machine description",
	Long: `Parse and validate a TOML machine description without running it.

On success, prints a summary of the machine.

Output formats:
  -o table  Human-readable table (default)
  -o yaml   Summary as YAML
  -o json   Summary as JSON`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := output.ValidateFormat(outputFormat); err != nil {
			return err
		}

		cfg, err := config.Load(args[0])
		if err != nil {
			return err
		}

		formatter, err := output.NewFormatter(output.Options{
			Format:    output.Format(outputFormat),
			NoHeaders: noHeaders,
		})
		if err != nil {
			return err
		}

		result, err := formatter.FormatSummary(output.NewSummary(cfg))
		if err != nil {
			return fmt.Errorf("failed to format output: %w", err)
		}

		fmt.Print(result)
		return nil
	},
}

func init() {
	validateCmd.Flags().StringVarP(&outputFormat, "output", "o", "table", "output format (table, yaml, json)")
	validateCmd.Flags().BoolVar(&noHeaders, "no-headers", false, "omit headers in table output")
}

package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/dyluth/forno/internal/printer"
	"github.com/dyluth/forno/internal/report"
	"github.com/dyluth/forno/pkg/board"
)

const (
	outputTable = "table"
	outputJSON  = "json"
)

var reportOutputFormat string

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Inspect the orders on a kitchen board",
	Long: `Display every order on a kitchen instance's board: its current state,
the quality scores recorded per stage, and the orders lost to robot
failures.

Output Formats:
  table - Human-readable table with ORDER, STATE and QUALITY columns
  json  - Single JSON object for scripting

Examples:
  # Inspect a named instance
  forno report --name friday-rush

  # Count shelved orders with jq
  forno report --name friday-rush --output=json | jq '.orders_by_state.shelf | length'`,
	RunE: runReport,
}

func init() {
	reportCmd.Flags().StringVarP(&reportOutputFormat, "output", "o", outputTable, "Output format: table or json")
	rootCmd.AddCommand(reportCmd)
}

func runReport(cmd *cobra.Command, args []string) error {
	if reportOutputFormat != outputTable && reportOutputFormat != outputJSON {
		return printer.Error(
			"invalid output format",
			fmt.Sprintf("Unknown format: %s", reportOutputFormat),
			[]string{"Valid formats: table, json"},
		)
	}
	if instanceName == "" {
		return printer.Error(
			"no instance name given",
			"The report command needs to know which kitchen instance to inspect.",
			[]string{"Pass the instance name:\n  forno report --name <instance-name>"},
		)
	}

	opts, err := redisOptions()
	if err != nil {
		return err
	}

	return printReport(context.Background(), opts, instanceName, reportOutputFormat)
}

// printReport builds the board snapshot for an instance and writes it to
// stdout in the requested format.
func printReport(ctx context.Context, opts *redis.Options, name, format string) error {
	client, err := board.NewClient(opts, name)
	if err != nil {
		return fmt.Errorf("failed to create board client: %w", err)
	}
	defer client.Close()

	if err := client.Ping(ctx); err != nil {
		return printer.Error(
			"Redis connection failed",
			fmt.Sprintf("Could not connect to Redis at %s", redisURL),
			[]string{"Check that Redis is running and --redis points at it"},
		)
	}

	r, err := report.Build(ctx, client)
	if err != nil {
		return fmt.Errorf("failed to build report: %w", err)
	}

	if format == outputJSON {
		return report.FormatJSON(os.Stdout, r)
	}
	report.FormatTable(os.Stdout, r, name)
	return nil
}

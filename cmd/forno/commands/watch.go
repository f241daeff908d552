package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dyluth/forno/internal/logsink"
	"github.com/dyluth/forno/internal/printer"
	"github.com/dyluth/forno/pkg/board"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream a kitchen's live log",
	Long: `Stream the log channel of a running kitchen instance to stdout.

Every agent publishes its activity to the instance's log channel; watch
subscribes and prints each message with a timestamp. Press Ctrl+C to
stop watching (the kitchen keeps running).

Examples:
  # Watch a kitchen started with --quiet in another terminal
  forno watch --name friday-rush`,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	if instanceName == "" {
		return printer.Error(
			"no instance name given",
			"The watch command needs to know which kitchen instance to follow.",
			[]string{"Pass the instance name:\n  forno watch --name <instance-name>"},
		)
	}

	opts, err := redisOptions()
	if err != nil {
		return err
	}
	client, err := board.NewClient(opts, instanceName)
	if err != nil {
		return fmt.Errorf("failed to create board client: %w", err)
	}
	defer client.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := client.Ping(ctx); err != nil {
		return printer.Error(
			"Redis connection failed",
			fmt.Sprintf("Could not connect to Redis at %s", redisURL),
			[]string{"Check that Redis is running and --redis points at it"},
		)
	}

	printer.Step("watching kitchen '%s' (Ctrl+C to stop)\n", instanceName)
	return logsink.Run(ctx, client, os.Stdout)
}

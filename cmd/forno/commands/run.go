package commands

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/dyluth/forno/internal/config"
	"github.com/dyluth/forno/internal/kitchen"
	"github.com/dyluth/forno/internal/printer"
)

var (
	runConfigPath string
	runDuration   time.Duration
	runQuiet      bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a kitchen to completion",
	Long: `Run a kitchen from a configuration file.

The kitchen resets the instance's board, seeds the oven pool and starts
every robot, camera and the shift manager. It runs until the duration
elapses or the kitchen is no longer operable, then prints a report of
every order on the board.

Examples:
  # Run the default shift for 90 seconds
  forno run --config kitchen.yml --duration 90s

  # Run a named instance and keep the board for later inspection
  forno run --config kitchen.yml --name friday-rush --duration 2m
  forno report --name friday-rush`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVarP(&runConfigPath, "config", "c", "kitchen.yml", "Path to the kitchen configuration file")
	runCmd.Flags().DurationVarP(&runDuration, "duration", "d", 60*time.Second, "How long to keep the kitchen open")
	runCmd.Flags().BoolVarP(&runQuiet, "quiet", "q", false, "Suppress the live kitchen log")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(runConfigPath)
	if err != nil {
		return printer.Error(
			"invalid kitchen configuration",
			err.Error(),
			[]string{"Check the configuration file:\n  " + runConfigPath},
		)
	}

	opts, err := redisOptions()
	if err != nil {
		return err
	}

	name := instanceName
	if name == "" {
		name = uuid.New().String()[:8]
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	ctx, timeUp := context.WithTimeout(ctx, runDuration)
	defer timeUp()

	var logOut io.Writer
	if !runQuiet {
		logOut = os.Stdout
	}

	if len(cfg.Tasks) == 0 {
		printer.Warning("no tasks configured; the kitchen will idle until the duration elapses\n")
	}

	printer.Step("opening kitchen '%s' for %s\n", name, runDuration)
	k := kitchen.New(cfg, opts, name, logOut)
	if err := k.Run(ctx); err != nil {
		return err
	}
	printer.Success("kitchen '%s' closed\n", name)

	printer.Println()
	return printReport(context.Background(), opts, name, outputTable)
}

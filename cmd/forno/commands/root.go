package commands

import (
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

var (
	version string
	commit  string
	date    string
)

var (
	redisURL     string
	instanceName string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "forno",
	Short: "Forno - simulated robot pizza kitchen",
	Long: `Forno runs a simulated pizza kitchen: robot arms, ovens and quality
cameras operating as independent agents that coordinate exclusively
through a shared Redis board.

Orders flow from the freezer through preparation, a two-phase oven
handoff, baking and packing onto the shelf, with every hop visible
on the board.`,
	Version: version,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", v, c, d)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&redisURL, "redis", "redis://localhost:6379", "Redis URL of the kitchen board")
	rootCmd.PersistentFlags().StringVarP(&instanceName, "name", "n", "", "Kitchen instance name")
}

// redisOptions parses the --redis flag into client options.
func redisOptions() (*redis.Options, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL '%s': %w", redisURL, err)
	}
	return opts, nil
}

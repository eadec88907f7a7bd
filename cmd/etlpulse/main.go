package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/teranos/etlpulse/cmd/etlpulse/commands"
	"github.com/teranos/etlpulse/logger"
)

var rootCmd = &cobra.Command{
	Use:   "etlpulse",
	Short: "etlpulse - recurring ETL job scheduler",
	Long: `etlpulse - recurring ETL job scheduler.

etlpulse fires cron schedules into a prioritised job queue, captures every
job's output into the job log, records per-schedule run history and emails
the failure integration when a job fails.

Available commands:
  pulse       - Run the scheduler daemon
  schedule    - Manage recurring schedules
  job         - Inspect and pause jobs
  history     - Show run history of a schedule
  integration - Manage notification integrations
  am          - Show configuration ("I am")

Examples:
  etlpulse pulse start
  etlpulse schedule add --name nightly --cron "0 2 * * *" --task "extract.sh" --task "load.sh"
  etlpulse job ls --running
  etlpulse history 1`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		verbosity, _ := cmd.Flags().GetCount("verbose")
		jsonLog, _ := cmd.Flags().GetBool("json-log")
		if err := logger.Initialize(jsonLog, verbosity); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().CountP("verbose", "v", "Increase output verbosity (repeat for more detail: -v, -vv)")
	rootCmd.PersistentFlags().Bool("json-log", false, "Write logs as JSON")
	rootCmd.PersistentFlags().Bool("json", false, "Print command results as JSON")
	rootCmd.PersistentFlags().String("db", "", "Database path (overrides database.path)")

	rootCmd.AddCommand(commands.PulseCmd)
	rootCmd.AddCommand(commands.ScheduleCmd)
	rootCmd.AddCommand(commands.JobCmd)
	rootCmd.AddCommand(commands.HistoryCmd)
	rootCmd.AddCommand(commands.IntegrationCmd)
	rootCmd.AddCommand(commands.AmCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

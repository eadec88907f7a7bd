package commands

import (
	"fmt"
	"os"
	"strconv"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/etlpulse/display"
	"github.com/teranos/etlpulse/logger"
	"github.com/teranos/etlpulse/pulse/async"
	"github.com/teranos/etlpulse/sym"
)

// JobCmd inspects jobs and their logs
var JobCmd = &cobra.Command{
	Use:   "job",
	Short: sym.Pulse + " Inspect and pause jobs",
}

var jobLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List jobs, highest priority first",
	RunE:  runJobLs,
}

var jobLogCmd = &cobra.Command{
	Use:   "log <id>",
	Short: "Print a job's captured output",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobLog,
}

var jobPauseCmd = &cobra.Command{
	Use:   "pause <id> <checkpoint-file>",
	Short: "Pause a running job before its next task",
	Long: `Pause a running job before its next task.

The runner writes a checkpoint to <checkpoint-file> (relative to the
daemon's checkpoint directory) and waits until the job is resumed.`,
	Args: cobra.ExactArgs(2),
	RunE: runJobPause,
}

var jobResumeCmd = &cobra.Command{
	Use:   "resume <id>",
	Short: "Resume a paused job",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobResume,
}

func init() {
	jobLsCmd.Flags().Bool("running", false, "Only running jobs")
	jobLsCmd.Flags().Int64("schedule", 0, "Only jobs of this schedule")
	jobLsCmd.Flags().Int("limit", 50, "Maximum number of jobs")
	JobCmd.AddCommand(jobLsCmd, jobLogCmd, jobPauseCmd, jobResumeCmd)
}

func openQueue(cmd *cobra.Command) (*async.Queue, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	database, err := openDatabase(cmd, cfg)
	if err != nil {
		return nil, nil, err
	}
	return async.NewQueue(database, cfg.Pulse.WorkerID, logger.Logger), func() { database.Close() }, nil
}

func runJobLs(cmd *cobra.Command, args []string) error {
	queue, closeDB, err := openQueue(cmd)
	if err != nil {
		return err
	}
	defer closeDB()

	var filter async.JobFilter
	if running, _ := cmd.Flags().GetBool("running"); running {
		filter.Running = &running
	}
	if scheduleID, _ := cmd.Flags().GetInt64("schedule"); scheduleID > 0 {
		filter.ScheduleID = &scheduleID
	}
	filter.Limit, _ = cmd.Flags().GetInt("limit")

	jobs, err := queue.Select(cmd.Context(), filter)
	if err != nil {
		return err
	}
	if display.ShouldOutputJSON(cmd) {
		return display.OutputJSON(os.Stdout, jobs)
	}
	if len(jobs) == 0 {
		pterm.Info.Println("No jobs")
		return nil
	}

	rows := make([][]string, 0, len(jobs))
	for _, j := range jobs {
		scheduleCol := "-"
		if j.ScheduleID != nil {
			scheduleCol = strconv.FormatInt(*j.ScheduleID, 10)
		}
		rows = append(rows, []string{
			strconv.FormatInt(j.ID, 10), scheduleCol, strconv.Itoa(j.EffectivePriority()),
			jobStatusCell(j), formatTime(&j.StartTime), formatTime(j.EndTime), j.WorkerID,
		})
	}
	return renderTable([]string{"ID", "SCHEDULE", "PRIORITY", "STATUS", "STARTED", "ENDED", "WORKER"}, rows)
}

func runJobLog(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	database, err := openDatabase(cmd, cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	entry, err := async.NewLogStore(database).Get(cmd.Context(), id)
	if err != nil {
		return err
	}
	if !entry.Captured {
		pterm.Warning.Printfln("Output of job %d has not been captured yet", id)
		return nil
	}
	fmt.Fprintln(cmd.OutOrStdout(), entry.Contents)
	return nil
}

func runJobPause(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	queue, closeDB, err := openQueue(cmd)
	if err != nil {
		return err
	}
	defer closeDB()

	job, err := queue.PauseJob(cmd.Context(), id, args[1])
	if err != nil {
		return err
	}
	pterm.Success.Printfln("%s Job %d will pause before its next task (checkpoint %s)", sym.Paused, job.ID, job.PausedFilename)
	return nil
}

func runJobResume(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	queue, closeDB, err := openQueue(cmd)
	if err != nil {
		return err
	}
	defer closeDB()

	job, err := queue.ResumeJob(cmd.Context(), id)
	if err != nil {
		return err
	}
	pterm.Success.Printfln("%s Job %d resumed", sym.Running, job.ID)
	return nil
}

package commands

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/etlpulse/am"
	"github.com/teranos/etlpulse/display"
	"github.com/teranos/etlpulse/errors"
	"github.com/teranos/etlpulse/internal/httpclient"
	"github.com/teranos/etlpulse/internal/util"
	"github.com/teranos/etlpulse/pulse/async"
	"github.com/teranos/etlpulse/pulse/schedule"
	"github.com/teranos/etlpulse/sym"
)

// ScheduleCmd manages recurring schedules
var ScheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: sym.Pulse + " Manage recurring schedules",
	Long: sym.Pulse + ` Manage recurring schedules.

A schedule has a cron expression (5 fields or a descriptor such as @hourly
or "@every 15m") and an ordered list of tasks. Each task is a command line
run in order; the job fails at the first failing task.

Examples:
  etlpulse schedule add --name nightly --cron "0 2 * * *" --task "extract.sh" --task "load.sh"
  etlpulse schedule ls
  etlpulse schedule pause 3
  etlpulse schedule run 3`,
}

var scheduleAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Create a schedule",
	RunE:  runScheduleAdd,
}

var scheduleLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List schedules",
	RunE:  runScheduleLs,
}

var scheduleRunCmd = &cobra.Command{
	Use:   "run <id>",
	Short: "Fire a schedule now through the running daemon",
	Args:  cobra.ExactArgs(1),
	RunE:  runScheduleRun,
}

var schedulePauseCmd = &cobra.Command{
	Use:   "pause <id>",
	Short: "Stop a schedule from firing on its cron",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setShouldRunNext(cmd, args[0], false)
	},
}

var scheduleResumeCmd = &cobra.Command{
	Use:   "resume <id>",
	Short: "Let a paused schedule fire on its cron again",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setShouldRunNext(cmd, args[0], true)
	},
}

var scheduleRmCmd = &cobra.Command{
	Use:   "rm <id>",
	Short: "Delete a schedule that is not running",
	Args:  cobra.ExactArgs(1),
	RunE:  runScheduleRm,
}

func init() {
	scheduleAddCmd.Flags().String("name", "", "Schedule name (used in failure notifications)")
	scheduleAddCmd.Flags().String("cron", "", "Cron expression")
	scheduleAddCmd.Flags().StringArray("task", nil, "Task command line (repeatable, run in order)")
	scheduleAddCmd.Flags().Int("priority", 0, "Job priority (higher runs first)")
	scheduleAddCmd.Flags().String("worker", "", "Worker id owning the schedule (default: pulse.worker_id)")
	scheduleAddCmd.Flags().Bool("paused", false, "Create the schedule paused")
	scheduleAddCmd.MarkFlagRequired("name")
	scheduleAddCmd.MarkFlagRequired("cron")

	scheduleLsCmd.Flags().Bool("all-workers", false, "List schedules of every worker id")

	ScheduleCmd.AddCommand(scheduleAddCmd, scheduleLsCmd, scheduleRunCmd, schedulePauseCmd, scheduleResumeCmd, scheduleRmCmd)
}

func runScheduleAdd(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	database, err := openDatabase(cmd, cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	name, _ := cmd.Flags().GetString("name")
	cronExpr, _ := cmd.Flags().GetString("cron")
	tasks, _ := cmd.Flags().GetStringArray("task")
	priority, _ := cmd.Flags().GetInt("priority")
	worker, _ := cmd.Flags().GetString("worker")
	paused, _ := cmd.Flags().GetBool("paused")
	if worker == "" {
		worker = cfg.Pulse.WorkerID
	}

	sched, err := schedule.NewStore(database).Create(cmd.Context(), schedule.CreateRequest{
		Name:     name,
		Cron:     cronExpr,
		Priority: priority,
		Tasks:    async.EncodeTasks(tasks),
		WorkerID: worker,
		Paused:   paused,
	}, time.Now().UTC())
	if err != nil {
		return err
	}

	pterm.Success.Printfln("Created schedule %d %q (%s) for worker %s", sched.ID, sched.Name, sched.Cron, sched.WorkerID)
	return nil
}

func runScheduleLs(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	database, err := openDatabase(cmd, cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	filter := schedule.Filter{WorkerID: cfg.Pulse.WorkerID}
	if all, _ := cmd.Flags().GetBool("all-workers"); all {
		filter.WorkerID = ""
	}
	schedules, err := schedule.NewStore(database).Select(cmd.Context(), filter)
	if err != nil {
		return err
	}
	if display.ShouldOutputJSON(cmd) {
		return display.OutputJSON(os.Stdout, schedules)
	}
	if len(schedules) == 0 {
		pterm.Info.Println("No schedules")
		return nil
	}

	now := time.Now().UTC()
	rows := make([][]string, 0, len(schedules))
	for _, s := range schedules {
		state := sym.Running + " running"
		switch {
		case !s.Running && s.ShouldRunNext:
			state = "idle"
		case !s.Running:
			state = sym.Paused + " paused"
		}

		next := "-"
		if c, err := schedule.ParseCron(s.Cron); err != nil {
			next = pterm.FgRed.Sprint("invalid cron")
		} else if s.ShouldRunNext {
			if due, at := s.IsDue(c, now); due {
				next = "due"
			} else if !at.IsZero() {
				next = formatTime(&at)
			}
		}

		rows = append(rows, []string{
			strconv.FormatInt(s.ID, 10), s.Name, s.Cron, strconv.Itoa(s.Priority),
			state, formatTime(s.LastRun), next, s.WorkerID,
		})
	}
	return renderTable([]string{"ID", "NAME", "CRON", "PRIORITY", "STATE", "LAST RUN", "NEXT RUN", "WORKER"}, rows)
}

func setShouldRunNext(cmd *cobra.Command, arg string, enabled bool) error {
	id, err := parseID(arg)
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

	sched, err := schedule.NewStore(database).Update(cmd.Context(), id,
		schedule.UpdateRequest{ShouldRunNext: util.Ptr(enabled)}, time.Now().UTC())
	if err != nil {
		return err
	}
	verb := "Paused"
	if enabled {
		verb = "Resumed"
	}
	pterm.Success.Printfln("%s schedule %d %q", verb, sched.ID, sched.Name)
	return nil
}

func runScheduleRm(cmd *cobra.Command, args []string) error {
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

	store := schedule.NewStore(database)
	if _, err := store.Get(cmd.Context(), id); err != nil {
		return err
	}
	n, err := store.Delete(cmd.Context(), schedule.Filter{IDs: []int64{id}})
	if err != nil {
		return err
	}
	if n == 0 {
		return errors.Wrapf(errors.ErrConflict, "schedule %d is running", id)
	}
	pterm.Success.Printfln("Deleted schedule %d", id)
	return nil
}

// runScheduleRun asks the daemon to fire the schedule; only the daemon's
// dispatcher executes jobs.
func runScheduleRun(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if cfg.Server.Addr == "" {
		return errors.New("server.addr is empty: run-now needs the daemon's ops server")
	}
	client, err := httpclient.New(cfg.Server.Addr, 10*time.Second)
	if err != nil {
		return err
	}

	var job async.Job
	if err := client.PostJSON(cmd.Context(), "/api/pulse/schedules/"+strconv.FormatInt(id, 10)+"/run", nil, &job); err != nil {
		return errors.Wrapf(err, "run schedule %d", id)
	}
	if display.ShouldOutputJSON(cmd) {
		return display.OutputJSON(os.Stdout, &job)
	}
	pterm.Success.Printfln("Schedule %d fired as job %d (priority %d)", id, job.ID, job.EffectivePriority())
	return nil
}

func serverURL(cfg *am.Config) string {
	client, err := httpclient.New(cfg.Server.Addr, 0)
	if err != nil {
		return ""
	}
	return client.BaseURL()
}

// printSchedule is used by history output
func printSchedule(s *schedule.Schedule) {
	fmt.Printf("Schedule %d %q (%s), worker %s\n", s.ID, s.Name, s.Cron, s.WorkerID)
}

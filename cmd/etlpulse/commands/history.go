package commands

import (
	"fmt"
	"os"
	"strconv"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/etlpulse/display"
	"github.com/teranos/etlpulse/errors"
	"github.com/teranos/etlpulse/pulse/schedule"
	"github.com/teranos/etlpulse/sym"
)

// HistoryCmd shows the run history of a schedule
var HistoryCmd = &cobra.Command{
	Use:   "history <schedule-id>",
	Short: sym.Pulse + " Show run history of a schedule",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistory,
}

func runHistory(cmd *cobra.Command, args []string) error {
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

	sched, err := schedule.NewStore(database).Get(cmd.Context(), id)
	if err != nil {
		return err
	}

	entry, err := schedule.NewHistory(database).GetByScheduleID(cmd.Context(), id)
	if display.ShouldOutputJSON(cmd) {
		if errors.IsNotFoundError(err) {
			entry, err = nil, nil
		}
		if err != nil {
			return err
		}
		return display.OutputJSON(os.Stdout, map[string]interface{}{"schedule": sched, "history": entry})
	}
	printSchedule(sched)
	if errors.IsNotFoundError(err) {
		pterm.Info.Println("No finished runs yet")
		return nil
	}
	if err != nil {
		return err
	}

	status := pterm.FgGreen.Sprint(sym.Success + " " + string(entry.Status))
	if entry.Status == schedule.HistoryFailure {
		status = pterm.FgRed.Sprint(sym.Failure + " " + string(entry.Status))
	}
	err = renderTable([]string{"RUNS", "STATUS", "LAST RUN", "LAST SUCCESS", "LAST FAILURE"}, [][]string{{
		strconv.FormatInt(entry.NumberOfRuns, 10), status,
		formatTime(entry.LastRun), formatTime(entry.LastSuccess), formatTime(entry.LastFailure),
	}})
	if err != nil {
		return err
	}

	if lines := entry.MetaLines(); len(lines) > 0 {
		fmt.Println()
		for _, line := range lines {
			fmt.Println(line)
		}
	}
	return nil
}

package commands

import (
	"os"
	"strconv"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/etlpulse/am"
	"github.com/teranos/etlpulse/display"
	"github.com/teranos/etlpulse/notify"
)

// IntegrationCmd manages notification integrations
var IntegrationCmd = &cobra.Command{
	Use:   "integration",
	Short: "Manage notification integrations",
	Long: `Manage notification integrations.

Failure emails go to the single integration named "` + am.DefaultIntegrationName + `"
(notify.integration_name) of type Email. With none, or more than one, no
failure email is sent.`,
}

var integrationAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add an integration",
	RunE:  runIntegrationAdd,
}

var integrationLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List integrations",
	RunE:  runIntegrationLs,
}

var integrationRmCmd = &cobra.Command{
	Use:   "rm <id>",
	Short: "Remove an integration",
	Args:  cobra.ExactArgs(1),
	RunE:  runIntegrationRm,
}

func init() {
	integrationAddCmd.Flags().String("name", am.DefaultIntegrationName, "Integration name")
	integrationAddCmd.Flags().String("type", notify.TypeEmail, "Integration type")
	integrationAddCmd.Flags().String("recipient", "", "Recipient address")
	integrationAddCmd.Flags().String("display-name", "", "Customer name shown in notification subjects")
	integrationAddCmd.MarkFlagRequired("recipient")
	IntegrationCmd.AddCommand(integrationAddCmd, integrationLsCmd, integrationRmCmd)
}

func openIntegrations(cmd *cobra.Command) (*notify.IntegrationStore, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	database, err := openDatabase(cmd, cfg)
	if err != nil {
		return nil, nil, err
	}
	return notify.NewIntegrationStore(database), func() { database.Close() }, nil
}

func runIntegrationAdd(cmd *cobra.Command, args []string) error {
	store, closeDB, err := openIntegrations(cmd)
	if err != nil {
		return err
	}
	defer closeDB()

	name, _ := cmd.Flags().GetString("name")
	typ, _ := cmd.Flags().GetString("type")
	recipient, _ := cmd.Flags().GetString("recipient")
	display, _ := cmd.Flags().GetString("display-name")

	in, err := store.Create(cmd.Context(), notify.Integration{
		Name: name, Type: typ, Recipient: recipient, DisplayName: display,
	})
	if err != nil {
		return err
	}
	pterm.Success.Printfln("Added integration %d %q (%s -> %s)", in.ID, in.Name, in.Type, in.Recipient)

	same, err := store.Select(cmd.Context(), notify.IntegrationFilter{Name: in.Name, Type: in.Type})
	if err == nil && len(same) > 1 {
		pterm.Warning.Printfln("%d integrations named %q: failure notifications are disabled until one remains", len(same), in.Name)
	}
	return nil
}

func runIntegrationLs(cmd *cobra.Command, args []string) error {
	store, closeDB, err := openIntegrations(cmd)
	if err != nil {
		return err
	}
	defer closeDB()

	integrations, err := store.Select(cmd.Context(), notify.IntegrationFilter{})
	if err != nil {
		return err
	}
	if display.ShouldOutputJSON(cmd) {
		return display.OutputJSON(os.Stdout, integrations)
	}
	if len(integrations) == 0 {
		pterm.Info.Println("No integrations")
		return nil
	}
	rows := make([][]string, 0, len(integrations))
	for _, in := range integrations {
		rows = append(rows, []string{strconv.FormatInt(in.ID, 10), in.Name, in.Type, in.Recipient, in.DisplayName})
	}
	return renderTable([]string{"ID", "NAME", "TYPE", "RECIPIENT", "DISPLAY NAME"}, rows)
}

func runIntegrationRm(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	store, closeDB, err := openIntegrations(cmd)
	if err != nil {
		return err
	}
	defer closeDB()

	if _, err := store.Get(cmd.Context(), id); err != nil {
		return err
	}
	if _, err := store.Delete(cmd.Context(), notify.IntegrationFilter{IDs: []int64{id}}); err != nil {
		return err
	}
	pterm.Success.Printfln("Removed integration %d", id)
	return nil
}

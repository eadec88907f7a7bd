package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/teranos/etlpulse/display"
	"github.com/teranos/etlpulse/version"
)

// VersionCmd represents the version command
var VersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show etlpulse version information",
	Long:  `Display version, build time, commit hash, and platform information for the etlpulse binary.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		info := version.Get()

		if display.ShouldOutputJSON(cmd) {
			return display.OutputJSON(os.Stdout, info)
		}
		fmt.Println(info.String())
		fmt.Printf("Platform: %s\n", info.Platform)
		fmt.Printf("Go: %s\n", info.GoVersion)
		return nil
	},
}

// Package display renders command results for people or for scripts.
package display

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

// ShouldOutputJSON reports whether cmd was asked for JSON, via its own
// --json flag or a persistent one on the root command.
func ShouldOutputJSON(cmd *cobra.Command) bool {
	if cmd == nil {
		return false
	}
	if cmd.Flags().Lookup("json") != nil {
		if v, _ := cmd.Flags().GetBool("json"); v {
			return true
		}
	}
	if f := cmd.Root().PersistentFlags().Lookup("json"); f != nil {
		v, _ := cmd.Root().PersistentFlags().GetBool("json")
		return v
	}
	return false
}

// OutputJSON writes v as indented JSON followed by a newline
func OutputJSON(w io.Writer, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

// Command irscan scans a workspace of source and configuration files
// against a rule catalogue and reports security findings.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Exit codes: 0 success or findings below the threshold, 1 a finding at
// or above --fail-on, 2 fatal configuration or IO error.
const (
	exitOK       = 0
	exitFindings = 1
	exitFatal    = 2
)

func main() {
	root := &cobra.Command{
		Use:           "irscan",
		Short:         "Static analysis engine for multi-language workspaces",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newScanCommand(), newRulesCommand(), newPluginsCommand())

	if err := root.Execute(); err != nil {
		if code, ok := err.(exitError); ok {
			os.Exit(int(code))
		}
		fmt.Fprintln(os.Stderr, "irscan:", err)
		os.Exit(exitFatal)
	}
}

// exitError carries a specific exit code through cobra's error path.
type exitError int

func (e exitError) Error() string { return fmt.Sprintf("exit code %d", int(e)) }

// tgpoolctl is the operator CLI for the account-pool scheduler: one-shot
// stats scans, admin token issuance, and querying a running server's status
// over HTTP — grounded on zulandar-railyard's cmd/ry root command layout
// (newRootCmd/execute/os.Exit, one cobra.Command per subcommand file).
package main

import (
	"os"

	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tgpoolctl",
		Short: "Operator CLI for the account-pool scheduler",
	}

	cmd.AddCommand(newScanCmd())
	cmd.AddCommand(newTokenCmd())
	cmd.AddCommand(newStatusCmd())
	return cmd
}

func execute(cmd *cobra.Command) int {
	if err := cmd.Execute(); err != nil {
		return 1
	}
	return 0
}

func main() {
	os.Exit(execute(newRootCmd()))
}

// Command finikctl holds operator tooling for the Finik integration: key
// pair checks, canonical string dumps and a one-shot referral sweep.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/studkg/cashier/pkg/config"
)

var Version = "dev"

type configLoader func() (*config.Config, error)

func newRootCmd(load configLoader) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "finikctl",
		Short:         "Operator tooling for the Finik payment integration",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.AddCommand(keycheckCmd(load))
	rootCmd.AddCommand(canonicalCmd(load))
	rootCmd.AddCommand(sweepCmd(load))
	return rootCmd
}

func main() {
	if err := newRootCmd(config.New).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

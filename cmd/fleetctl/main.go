// Command fleetctl is a minimal demo host selecting one orchestrator
// operation and printing its outcome. It is illustrative: exit codes,
// daemon lifecycle, and flag parsing live here, never in pkg/...
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "fleetctl",
		Short: "Drive automated BIB/UUT test workflows over serial-attached fixtures",
	}

	root.PersistentFlags().String("config", "Configuration", "root directory of BIB configuration files")
	root.PersistentFlags().String("client-id", "fleetctl", "client id used for pool lease ownership")
	_ = viper.BindPFlag("config", root.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("client-id", root.PersistentFlags().Lookup("client-id"))

	root.AddCommand(newRunCmd(), newListCmd())
	return root
}

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List every configured BIB",
		RunE: func(cmd *cobra.Command, args []string) error {
			host, err := buildHost()
			if err != nil {
				return err
			}
			ids, err := host.config.ListConfiguredBibs()
			if err != nil {
				return err
			}
			for _, id := range ids {
				fmt.Println(id)
			}
			return nil
		},
	}
}

func newRunCmd() *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "run <bib> <uut>",
		Short: "Run every configured port of one UUT, or a single port with --port",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			host, err := buildHost()
			if err != nil {
				return err
			}
			return host.run(cmd.Context(), args[0], args[1], port, viper.GetString("client-id"))
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "run only this port number instead of every configured port")
	return cmd
}

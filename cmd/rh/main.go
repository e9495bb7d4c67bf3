package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version info set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rh",
		Short: "Roundhouse: PM, engineer and QA agents working a task together",
		Long: `Roundhouse routes a request through a product manager, an engineer and a QA
reviewer backed by OpenAI and DeepSeek models, either as a fixed pipeline or as
a group chat where every role hears every message.`,
		SilenceUsage: true,
	}

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newBroadcastCmd())
	cmd.AddCommand(newHealthCmd())
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "rh %s (commit: %s, built: %s)\n", Version, Commit, Date)
		},
	}
}

// configFlags are shared by every command that builds the engine.
type configFlags struct {
	path     string
	envFiles []string
}

func (f *configFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.path, "config", "c", "roundhouse.yaml", "path to Roundhouse config file")
	cmd.Flags().StringSliceVar(&f.envFiles, "env", []string{".env"}, ".env files to load before reading config")
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

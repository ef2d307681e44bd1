package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "uplink",
		Short:         "Network commission and qualification engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		newServeCommand(),
		newSchedulerCommand(),
		newMigrateCommand(),
		newJobsCommand(),
		newRunCommand(),
		newSeedCommand(),
	)
	return root
}

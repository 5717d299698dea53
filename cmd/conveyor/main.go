package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "conveyor",
		Short: "Continuous deployment that follows your repository",
		Long:  `Conveyor turns version-control events into ordered pipelines of builds, approvals, and deployments, and drives them to completion.`,
	}

	rootCmd.AddCommand(
		newServeCmd(),
		newInitCmd(),
		newCheckCmd(),
		newVersionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show Conveyor version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("Conveyor v%s\n", version)
		},
	}
}

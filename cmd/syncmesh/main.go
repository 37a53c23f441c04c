package main

import (
	"os"

	"github.com/spf13/cobra"

	"syncmesh/cmd/cli"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "syncmesh",
		Short: "peer-to-peer file sharing and synchronization node",
	}
	cli.RegisterInit(rootCmd)
	cli.RegisterNode(rootCmd)
	cli.RegisterFiles(rootCmd)
	cli.RegisterSync(rootCmd)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/whitf/swarm/internal/discovery"
	"github.com/whitf/swarm/internal/version"
)

var rootCmd = &cobra.Command{
	Use:     "dronectl",
	Short:   "dronectl - control local swarm drones",
	Long:    `dronectl finds the swarm drones running on this machine through their control sockets and starts, stops or inspects them.`,
	Version: version.Version,
	// No RunE - defaults to showing help when no subcommand is provided
}

var (
	ipcDir string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&ipcDir, "ipc-dir", discovery.DefaultDir(), "Directory holding drone control sockets")

	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(detailsCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(restartCmd)
	rootCmd.AddCommand(killCmd)
	rootCmd.AddCommand(topCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

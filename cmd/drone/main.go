package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/whitf/swarm/internal/bus"
	"github.com/whitf/swarm/internal/config"
	"github.com/whitf/swarm/internal/discovery"
	"github.com/whitf/swarm/internal/supervisor"
	"github.com/whitf/swarm/internal/version"
)

var (
	configPath string
	address    string
	port       int
	ipcDir     string
)

var rootCmd = &cobra.Command{
	Use:           "drone",
	Short:         "Swarm drone - peer-to-peer node agent",
	Long:          `Runs one swarm drone: it tracks peer drones and queued jobs, listens for peer messages and accepts local control commands.`,
	Version:       version.Version,
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runDrone,
}

func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultPath, "Path to the drone config file")
	rootCmd.Flags().StringVarP(&address, "address", "A", "", "Override the peer listen address")
	rootCmd.Flags().IntVarP(&port, "port", "p", 0, "Override the peer listen port")
	rootCmd.Flags().StringVar(&ipcDir, "ipc-dir", discovery.DefaultDir(), "Directory for the control socket")
}

// exitError carries a process exit status out of RunE.
type exitError int

func (e exitError) Error() string { return fmt.Sprintf("exit status %d", int(e)) }

func runDrone(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadOrNew(configPath)
	if err != nil {
		log.Printf("Config error: %v", err)
		return exitError(supervisor.ExitStartup)
	}
	if cmd.Flags().Changed("address") {
		cfg.Address = address
	}
	if cmd.Flags().Changed("port") {
		cfg.Port = port
	}
	if err := cfg.Validate(); err != nil {
		log.Printf("Config error: %v", err)
		return exitError(supervisor.ExitStartup)
	}

	log.Printf("Starting swarm drone v.%s. id = %s", version.Version, cfg.ID)

	b := bus.New()

	// Signals request the same graceful stop as HALT.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		for sig := range sigCh {
			log.Printf("Received signal %v, initiating graceful shutdown...", sig)
			if err := b.Send(bus.Stop{}); err != nil {
				return
			}
		}
	}()

	code := supervisor.Run(context.Background(), cfg, supervisor.Options{IPCDir: ipcDir, Bus: b})
	if code != supervisor.ExitOK {
		return exitError(code)
	}
	log.Println("Shutdown complete")
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		if code, ok := err.(exitError); ok {
			os.Exit(int(code))
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(supervisor.ExitStartup)
	}
}

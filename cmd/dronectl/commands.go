package main

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"github.com/whitf/swarm/internal/config"
	"github.com/whitf/swarm/internal/console"
	"github.com/whitf/swarm/internal/discovery"
	"github.com/whitf/swarm/internal/ipc"
)

var (
	droneBin   string
	droneConf  string
	startWait  time.Duration
	errNoDrone = errors.New("no running drone found")
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "List drone processes on this machine",
	RunE: func(cmd *cobra.Command, args []string) error {
		endpoints, err := discovery.List(ipcDir)
		if err != nil {
			return err
		}
		fmt.Print(console.RenderStatus(endpoints))
		return nil
	},
}

var detailsCmd = &cobra.Command{
	Use:   "details",
	Short: "Show drone processes with socket paths and ages",
	RunE: func(cmd *cobra.Command, args []string) error {
		endpoints, err := discovery.List(ipcDir)
		if err != nil {
			return err
		}
		fmt.Print(console.RenderDetails(endpoints, time.Now()))
		return nil
	},
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start a drone in the background",
	RunE:  runStart,
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Ask every running drone to shut down",
	RunE: func(cmd *cobra.Command, args []string) error {
		return sendAll(ipc.CmdHalt, "Stopping")
	},
}

var restartCmd = &cobra.Command{
	Use:   "restart",
	Short: "Ask every running drone to restart",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := sendAll(ipc.CmdRestart, "Restarting"); err != nil {
			return err
		}
		fmt.Println("Note: drones acknowledge RESTART but do not act on it yet; use stop and start.")
		return nil
	},
}

var killCmd = &cobra.Command{
	Use:   "kill",
	Short: "Kill every drone process and clear abandoned sockets",
	RunE:  runKill,
}

var topCmd = &cobra.Command{
	Use:   "top",
	Short: "Live view of drone processes",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := console.RunTop(ipcDir); err != nil {
			return fmt.Errorf("TUI error: %w", err)
		}
		return nil
	},
}

func init() {
	startCmd.Flags().StringVar(&droneBin, "drone", "", "Path to the drone binary (default: next to dronectl, then PATH)")
	startCmd.Flags().StringVarP(&droneConf, "config", "c", config.DefaultPath, "Config file passed to the drone")
	startCmd.Flags().DurationVar(&startWait, "wait", 5*time.Second, "How long to wait for the drone's control socket")
}

func liveDrones() ([]discovery.Endpoint, error) {
	endpoints, err := discovery.List(ipcDir)
	if err != nil {
		return nil, err
	}
	return discovery.Live(endpoints), nil
}

func sendAll(command, verb string) error {
	live, err := liveDrones()
	if err != nil {
		return err
	}
	if len(live) == 0 {
		return errNoDrone
	}

	var errs []error
	for _, e := range live {
		fmt.Printf("%s drone (pid = %d)...\n", verb, e.PID)
		if err := ipc.Send(e.Path, command); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func runStart(cmd *cobra.Command, args []string) error {
	live, err := liveDrones()
	if err != nil {
		return err
	}
	if len(live) > 0 {
		return fmt.Errorf("drone already running (pid = %d)", live[0].PID)
	}
	if removed, err := discovery.RemoveAbandoned(ipcDir); err != nil {
		return fmt.Errorf("clearing abandoned sockets: %w", err)
	} else if len(removed) > 0 {
		fmt.Printf("Removed %d abandoned socket(s).\n", len(removed))
	}

	bin, err := resolveDrone()
	if err != nil {
		return err
	}

	proc := exec.Command(bin, "--config", droneConf, "--ipc-dir", ipcDir)
	// Detach so the drone outlives this command.
	configureDaemonProc(proc)
	proc.Stdin = nil
	proc.Stdout = nil
	proc.Stderr = nil

	if err := proc.Start(); err != nil {
		return fmt.Errorf("failed to start drone: %w", err)
	}
	pid := proc.Process.Pid
	proc.Process.Release()

	sock := discovery.SocketPath(ipcDir, pid)
	fmt.Print("Waiting for drone...")
	deadline := time.Now().Add(startWait)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(sock); err == nil {
			fmt.Printf(" Done (pid = %d).\n", pid)
			return nil
		}
		if !discovery.ProcessAlive(pid) {
			fmt.Println(" Failed!")
			return fmt.Errorf("drone exited during startup; see its error log")
		}
		time.Sleep(250 * time.Millisecond)
		fmt.Print(".")
	}
	fmt.Println(" Timeout!")
	return fmt.Errorf("drone started but control socket not found at %s", sock)
}

func resolveDrone() (string, error) {
	if droneBin != "" {
		return droneBin, nil
	}
	if exe, err := os.Executable(); err == nil {
		candidate := filepath.Join(filepath.Dir(exe), "drone")
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	bin, err := exec.LookPath("drone")
	if err != nil {
		return "", fmt.Errorf("drone binary not found: %w", err)
	}
	return bin, nil
}

func runKill(cmd *cobra.Command, args []string) error {
	live, err := liveDrones()
	if err != nil {
		return err
	}

	for _, e := range live {
		fmt.Printf("Killing drone (pid = %d)...\n", e.PID)
		if err := unix.Kill(e.PID, unix.SIGKILL); err != nil {
			fmt.Fprintf(os.Stderr, "kill %d: %v\n", e.PID, err)
			continue
		}
		for i := 0; i < 20 && discovery.ProcessAlive(e.PID); i++ {
			time.Sleep(50 * time.Millisecond)
		}
	}

	removed, err := discovery.RemoveAbandoned(ipcDir)
	for _, path := range removed {
		fmt.Printf("Removed %s\n", path)
	}
	return err
}

// Package discovery implements the local convention by which running
// drones expose their IPC sockets: one socket per process, named after
// its pid, in a shared directory.
package discovery

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sys/unix"
)

const (
	prefix = "swarm_drone_"
	suffix = ".sock"
)

// DefaultDir is where drones place their sockets.
func DefaultDir() string {
	return os.TempDir()
}

// SocketPath returns the IPC socket path for the drone with pid.
func SocketPath(dir string, pid int) string {
	return filepath.Join(dir, prefix+strconv.Itoa(pid)+suffix)
}

// ParsePID extracts the pid from a socket file name. It reports false for
// names that do not follow the convention.
func ParsePID(name string) (int, bool) {
	name = filepath.Base(name)
	if !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, suffix) {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(name, prefix), suffix))
	if err != nil || pid <= 0 {
		return 0, false
	}
	return pid, true
}

// Endpoint is one discovered drone socket.
type Endpoint struct {
	PID     int
	Path    string
	ModTime time.Time

	// Alive reports whether a process with PID exists. A socket whose
	// process is gone is abandoned.
	Alive bool
}

// List returns every drone socket in dir, ordered by pid.
func List(dir string) ([]Endpoint, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read discovery dir: %w", err)
	}

	var endpoints []Endpoint
	for _, e := range entries {
		pid, ok := ParsePID(e.Name())
		if !ok {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		endpoints = append(endpoints, Endpoint{
			PID:     pid,
			Path:    filepath.Join(dir, e.Name()),
			ModTime: info.ModTime(),
			Alive:   ProcessAlive(pid),
		})
	}

	sort.Slice(endpoints, func(i, j int) bool { return endpoints[i].PID < endpoints[j].PID })
	return endpoints, nil
}

// Live filters endpoints down to those whose process exists.
func Live(endpoints []Endpoint) []Endpoint {
	var out []Endpoint
	for _, e := range endpoints {
		if e.Alive {
			out = append(out, e)
		}
	}
	return out
}

// Abandoned filters endpoints down to those whose process is gone.
func Abandoned(endpoints []Endpoint) []Endpoint {
	var out []Endpoint
	for _, e := range endpoints {
		if !e.Alive {
			out = append(out, e)
		}
	}
	return out
}

// RemoveAbandoned deletes every abandoned socket in dir and returns the
// removed paths.
func RemoveAbandoned(dir string) ([]string, error) {
	endpoints, err := List(dir)
	if err != nil {
		return nil, err
	}

	var removed []string
	var errs []error
	for _, e := range Abandoned(endpoints) {
		if err := os.Remove(e.Path); err != nil && !os.IsNotExist(err) {
			errs = append(errs, err)
			continue
		}
		removed = append(removed, e.Path)
	}
	return removed, errors.Join(errs...)
}

// ProcessAlive reports whether a process with pid exists. A permission
// error still means the process is there.
func ProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}

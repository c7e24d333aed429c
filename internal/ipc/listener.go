// Package ipc serves the local control socket that operator tooling uses
// to steer a running drone.
package ipc

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/whitf/swarm/internal/bus"
)

// Commands understood on the control socket, one per line.
const (
	CmdHalt    = "HALT"
	CmdRestart = "RESTART"
	CmdSync    = "SYNC"
)

// ErrNotImplemented is logged for reserved commands.
var ErrNotImplemented = errors.New("command not implemented")

// acceptBackoff is the pause after a failed Accept before trying again.
var acceptBackoff = 100 * time.Millisecond

// Listener accepts control connections on a unix socket.
type Listener struct {
	Path   string
	Bus    *bus.Bus
	Logger *slog.Logger

	ln     net.Listener
	halt   sync.Once
	conns  sync.WaitGroup
	closed sync.Once
}

// NewListener creates a listener for the socket at path.
func NewListener(path string, b *bus.Bus, logger *slog.Logger) *Listener {
	return &Listener{Path: path, Bus: b, Logger: logger}
}

// Listen binds the socket, removing a stale file left at Path.
func (l *Listener) Listen() error {
	if err := os.Remove(l.Path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove stale socket: %w", err)
	}
	ln, err := net.Listen("unix", l.Path)
	if err != nil {
		return fmt.Errorf("bind control socket: %w", err)
	}
	l.ln = ln
	return nil
}

// Serve accepts connections until ctx is done or the listener is closed.
// Listen must have succeeded first.
func (l *Listener) Serve(ctx context.Context) error {
	if l.ln == nil {
		return errors.New("control socket not bound")
	}
	l.Logger.Info("Starting control listener", slog.String("path", l.Path))

	stop := context.AfterFunc(ctx, func() { l.Close() })
	defer stop()

	for {
		conn, err := l.ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				l.conns.Wait()
				return nil
			}
			l.Logger.Warn("accept control connection", slog.Any("error", err))
			select {
			case <-ctx.Done():
			case <-time.After(acceptBackoff):
			}
			continue
		}

		l.conns.Add(1)
		go l.handleConn(ctx, conn)
	}
}

// Close stops accepting and removes the socket file.
func (l *Listener) Close() error {
	var err error
	l.closed.Do(func() {
		if l.ln != nil {
			err = l.ln.Close()
		}
		if rmErr := os.Remove(l.Path); rmErr != nil && !os.IsNotExist(rmErr) && err == nil {
			err = rmErr
		}
	})
	return err
}

func (l *Listener) handleConn(ctx context.Context, conn net.Conn) {
	defer l.conns.Done()
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		l.dispatch(strings.TrimSpace(scanner.Text()))
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil && !errors.Is(err, net.ErrClosed) {
		l.Logger.Warn("control connection error", slog.Any("error", err))
	}
}

func (l *Listener) dispatch(cmd string) {
	switch cmd {
	case "":
	case CmdHalt:
		l.halt.Do(func() {
			l.Logger.Info("Shutting down swarm drone", slog.Int("pid", os.Getpid()))
			if err := os.Remove(l.Path); err != nil && !os.IsNotExist(err) {
				l.Logger.Error("cannot remove control socket", slog.Any("error", err))
			}
			if err := l.Bus.Send(bus.Stop{}); err != nil {
				l.Logger.Warn("stop not delivered", slog.Any("error", err))
			}
		})
	case CmdRestart, CmdSync:
		l.Logger.Warn("control command ignored",
			slog.String("command", cmd),
			slog.Any("error", ErrNotImplemented))
	default:
		l.Logger.Warn("unrecognised control command", slog.String("command", cmd))
	}
}

// Send writes one command line to the drone listening at path.
func Send(path, cmd string) error {
	conn, err := net.DialTimeout("unix", path, 2*time.Second)
	if err != nil {
		return fmt.Errorf("connect %s: %w", path, err)
	}
	defer conn.Close()

	if _, err := fmt.Fprintf(conn, "%s\n", cmd); err != nil {
		return fmt.Errorf("send %s: %w", cmd, err)
	}
	return nil
}

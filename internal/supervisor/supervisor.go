// Package supervisor starts the drone's components in order, runs them
// until the drone stops, and turns the outcome into an exit status.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/whitf/swarm/internal/bus"
	"github.com/whitf/swarm/internal/config"
	"github.com/whitf/swarm/internal/discovery"
	"github.com/whitf/swarm/internal/drone"
	"github.com/whitf/swarm/internal/ipc"
	"github.com/whitf/swarm/internal/logsink"
	"github.com/whitf/swarm/internal/models"
	"github.com/whitf/swarm/internal/peer"
	"github.com/whitf/swarm/internal/store"
	"github.com/whitf/swarm/internal/version"
	"github.com/whitf/swarm/internal/wire"
)

// Options tune a supervisor run. Zero values pick the defaults.
type Options struct {
	// IPCDir is where the control socket is created.
	IPCDir string

	// Version overrides the binary version used for the log banner and
	// the schema check.
	Version string

	// Bus lets the caller inject Stop, e.g. from a signal handler. Run
	// creates one when nil.
	Bus *bus.Bus
}

// Run starts the drone described by cfg and blocks until it shuts down.
// It returns the process exit status; the caller exits with it.
func Run(ctx context.Context, cfg *config.Config, opts Options) int {
	if opts.IPCDir == "" {
		opts.IPCDir = discovery.DefaultDir()
	}
	if opts.Version == "" {
		opts.Version = version.Version
	}
	b := opts.Bus
	if b == nil {
		b = bus.New()
	}

	sink, err := logsink.Open(logsink.Options{
		Dir:        cfg.LogDir,
		ErrorFile:  cfg.ErrorLog,
		SystemFile: cfg.SystemLog,
		ID:         cfg.ID.String(),
		Version:    opts.Version,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "drone: %v\n", err)
		return ExitStartup
	}
	go sink.Run()
	defer sink.Close()

	logger := logsink.NewLogger(sink)

	st, err := store.Open(store.Options{
		Dir:     cfg.DBDir,
		File:    cfg.DBFile,
		Version: opts.Version,
		Logger:  logger,
	})
	if err != nil {
		logger.Error("storage gate failed", slog.Any("error", err))
		return ExitCode(err)
	}
	defer st.Close()

	d := drone.New(cfg.ID, st, logger, drone.Options{Tags: cfg.Tags, Threads: cfg.Threads})
	if err := load(d, st); err != nil {
		logger.Error("cannot load swarm state", slog.Any("error", err))
	}

	sockPath := discovery.SocketPath(opts.IPCDir, os.Getpid())
	ctl := ipc.NewListener(sockPath, b, logger)
	if err := ctl.Listen(); err != nil {
		logger.Error("cannot bind control socket", slog.Any("error", err))
		return ExitStartup
	}
	defer ctl.Close()

	if err := d.Start(); err != nil {
		logger.Error("cannot start drone", slog.Any("error", err))
		return ExitStartup
	}

	codec := wire.GetCodec(cfg.Codec)
	pl := peer.NewListener(cfg.ListenAddr(), b, logger)

	g, gctx := errgroup.WithContext(ctx)
	lctx, stopListeners := context.WithCancel(gctx)
	defer stopListeners()

	g.Go(func() error {
		defer stopListeners()
		return d.Run(gctx, b)
	})
	g.Go(func() error { return pl.Serve(lctx) })
	g.Go(func() error { return ctl.Serve(lctx) })

	self := models.NewHost(cfg.ID, cfg.Address, cfg.Port)
	g.Go(func() error {
		select {
		case <-pl.Ready():
		case <-lctx.Done():
			return nil
		}
		self.Port = boundPort(pl.BoundAddr(), cfg.Port)
		self.MarkOnline()
		targets := peerTargets(cfg.Peers, d.OnlinePeers(), self.Endpoint())
		if len(targets) > 0 {
			n := peer.Announce(lctx, targets, self, wire.TypeOnline, codec, logger)
			logger.Info("announced online", slog.Int("peers", n), slog.Int("targets", len(targets)))
		}
		return nil
	})

	err = g.Wait()
	if err != nil && !(errors.Is(err, context.Canceled) && ctx.Err() != nil) {
		logger.Error("drone stopped unexpectedly", slog.Any("error", err))
		return ExitStartup
	}

	self.MarkOffline()
	targets := peerTargets(cfg.Peers, d.OnlinePeers(), self.Endpoint())
	if len(targets) > 0 {
		actx, cancel := context.WithTimeout(context.Background(), wire.DialTimeout)
		peer.Announce(actx, targets, self, wire.TypeOffline, codec, logger)
		cancel()
	}

	logger.Info("Swarm drone shutting down", slog.Duration("grace", cfg.GraceDelay))
	time.Sleep(cfg.GraceDelay)
	return ExitOK
}

func load(d *drone.Drone, st *store.Store) error {
	hosts, err := st.ListHosts()
	if err != nil {
		return err
	}
	jobs, err := st.ListJobs(true)
	if err != nil {
		return err
	}
	d.Load(hosts, jobs)
	return nil
}

// peerTargets merges seed and known peers, dropping duplicates and self.
func peerTargets(seeds, known []string, self string) []string {
	seen := map[string]bool{self: true}
	var out []string
	for _, list := range [][]string{seeds, known} {
		for _, addr := range list {
			if addr == "" || seen[addr] {
				continue
			}
			seen[addr] = true
			out = append(out, addr)
		}
	}
	return out
}

func boundPort(addr net.Addr, fallback int) int {
	if addr == nil {
		return fallback
	}
	_, port, err := net.SplitHostPort(addr.String())
	if err != nil {
		return fallback
	}
	p, err := strconv.Atoi(port)
	if err != nil {
		return fallback
	}
	return p
}

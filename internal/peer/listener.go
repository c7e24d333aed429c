// Package peer accepts connections from other drones and feeds their
// envelopes onto the control bus.
package peer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/whitf/swarm/internal/bus"
	"github.com/whitf/swarm/internal/wire"
)

// Defaults for Listener fields left zero.
const (
	DefaultRetryDelay  = 5 * time.Second
	DefaultReadTimeout = 30 * time.Second
)

// Listener serves the inter-drone wire protocol.
type Listener struct {
	// Addr is the host:port to bind.
	Addr string

	Bus    *bus.Bus
	Logger *slog.Logger

	// RetryDelay is the pause before re-binding after a bind or accept
	// failure.
	RetryDelay time.Duration

	// ReadTimeout bounds the wait for each frame on a connection.
	ReadTimeout time.Duration

	// warnLimit throttles malformed-envelope warnings.
	warnLimit *rate.Limiter

	mu    sync.Mutex
	bound net.Addr
	ready chan struct{}
	once  sync.Once
	conns sync.WaitGroup
}

// NewListener creates a listener for addr that sends onto b.
func NewListener(addr string, b *bus.Bus, logger *slog.Logger) *Listener {
	return &Listener{
		Addr:        addr,
		Bus:         b,
		Logger:      logger,
		RetryDelay:  DefaultRetryDelay,
		ReadTimeout: DefaultReadTimeout,
		warnLimit:   rate.NewLimiter(rate.Every(time.Second), 5),
	}
}

// Serve binds and accepts until ctx is cancelled. A failed bind or a
// broken listener is logged and retried after RetryDelay; Serve only
// returns when ctx is done.
func (l *Listener) Serve(ctx context.Context) error {
	l.Logger.Info("Starting external listener", slog.String("addr", l.Addr))

	for {
		if err := l.serveOnce(ctx); err != nil && ctx.Err() == nil {
			l.Logger.Error("peer listener failed, retrying",
				slog.String("addr", l.Addr),
				slog.Duration("retry_in", l.RetryDelay),
				slog.Any("error", err))
		}

		select {
		case <-ctx.Done():
			l.conns.Wait()
			return nil
		case <-time.After(l.RetryDelay):
		}
	}
}

// Ready is closed once the listener has bound for the first time.
func (l *Listener) Ready() <-chan struct{} {
	return l.readyChan()
}

func (l *Listener) readyChan() chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ready == nil {
		l.ready = make(chan struct{})
	}
	return l.ready
}

// BoundAddr returns the address actually bound, or nil before Ready.
func (l *Listener) BoundAddr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.bound
}

func (l *Listener) serveOnce(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", l.Addr)
	if err != nil {
		return err
	}
	defer ln.Close()

	ready := l.readyChan()
	l.mu.Lock()
	l.bound = ln.Addr()
	l.mu.Unlock()
	l.once.Do(func() { close(ready) })

	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		l.conns.Add(1)
		go l.handleConn(ctx, conn)
	}
}

func (l *Listener) handleConn(ctx context.Context, conn net.Conn) {
	defer l.conns.Done()
	defer conn.Close()
	defer func() {
		if r := recover(); r != nil {
			l.Logger.Error("peer connection handler panic",
				slog.String("remote", conn.RemoteAddr().String()),
				slog.Any("panic", r))
		}
	}()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	remote := conn.RemoteAddr().String()
	frame := make([]byte, wire.FrameSize)
	for {
		if l.ReadTimeout > 0 {
			conn.SetReadDeadline(time.Now().Add(l.ReadTimeout))
		}
		if _, err := io.ReadFull(conn, frame); err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return
			}
			l.warn("tcp streaming error", remote, err)
			return
		}

		env, codec, err := wire.DecodeFrame(frame)
		if err != nil {
			l.warn("dropping malformed envelope", remote, err)
			return
		}
		msg, err := wire.ToControl(env, codec)
		if err != nil {
			l.warn("dropping malformed envelope", remote, err)
			return
		}

		if err := l.Bus.Send(msg); err != nil {
			l.Logger.Info("control bus closed, ignoring peer message",
				slog.String("remote", remote),
				slog.String("type", env.Type.String()))
			return
		}
	}
}

func (l *Listener) warn(msg, remote string, err error) {
	if l.warnLimit != nil && !l.warnLimit.Allow() {
		return
	}
	l.Logger.Warn(msg, slog.String("remote", remote), slog.Any("error", err))
}

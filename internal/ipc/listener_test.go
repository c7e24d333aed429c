package ipc

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/whitf/swarm/internal/bus"
)

// socketPath keeps the path short enough for sun_path.
func socketPath(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "ipc")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	return filepath.Join(dir, "d.sock")
}

func serve(t *testing.T, path string) (*Listener, *bus.Bus) {
	t.Helper()
	b := bus.New()
	l := NewListener(path, b, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err := l.Listen(); err != nil {
		t.Fatalf("Listen failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		l.Serve(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return l, b
}

func writeLines(t *testing.T, path string, lines ...string) {
	t.Helper()
	conn, err := net.Dial("unix", path)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()
	for _, line := range lines {
		if _, err := conn.Write([]byte(line + "\n")); err != nil {
			t.Fatalf("write failed: %v", err)
		}
	}
}

func waitGone(t *testing.T, path string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("%s still exists", path)
}

func TestHaltSendsOneStop(t *testing.T) {
	path := socketPath(t)
	_, b := serve(t, path)

	writeLines(t, path, "HALT", "  HALT  ")
	waitGone(t, path)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	msg, err := b.Recv(ctx)
	if err != nil {
		t.Fatalf("no Stop on bus: %v", err)
	}
	if msg.Kind() != bus.KindStop {
		t.Errorf("Expected Stop, got %s", msg.Kind())
	}

	// Give the second HALT time to be processed before checking.
	time.Sleep(50 * time.Millisecond)
	if n := b.Len(); n != 0 {
		t.Errorf("Expected a single Stop, %d more messages queued", n)
	}
}

func TestReservedAndUnknownCommandsAreIgnored(t *testing.T) {
	path := socketPath(t)
	_, b := serve(t, path)

	writeLines(t, path, "RESTART", "SYNC", "REBOOT", "", "halt")
	time.Sleep(100 * time.Millisecond)

	if n := b.Len(); n != 0 {
		t.Errorf("Expected no bus messages, got %d", n)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("socket should still exist: %v", err)
	}
}

func TestListenReplacesStaleFile(t *testing.T) {
	path := socketPath(t)
	if err := os.WriteFile(path, []byte("stale"), 0600); err != nil {
		t.Fatal(err)
	}

	_, b := serve(t, path)
	if err := Send(path, CmdHalt); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := b.Recv(ctx); err != nil {
		t.Fatalf("no Stop after Send: %v", err)
	}
}

func TestCloseRemovesSocket(t *testing.T) {
	path := socketPath(t)
	l, _ := serve(t, path)

	if err := l.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("socket file left behind")
	}
	if err := Send(path, CmdHalt); err == nil {
		t.Error("Send succeeded against a closed listener")
	}
}

// flakyListener fails the first n Accept calls.
type flakyListener struct {
	net.Listener
	mu sync.Mutex
	n  int
}

func (f *flakyListener) Accept() (net.Conn, error) {
	f.mu.Lock()
	if f.n > 0 {
		f.n--
		f.mu.Unlock()
		return nil, errors.New("too many open files")
	}
	f.mu.Unlock()
	return f.Listener.Accept()
}

func TestServeSurvivesAcceptErrors(t *testing.T) {
	old := acceptBackoff
	acceptBackoff = time.Millisecond
	defer func() { acceptBackoff = old }()

	path := socketPath(t)
	b := bus.New()
	l := NewListener(path, b, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err := l.Listen(); err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	l.ln = &flakyListener{Listener: l.ln, n: 3}

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- l.Serve(ctx) }()

	if err := Send(path, CmdHalt); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	rctx, rcancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer rcancel()
	if _, err := b.Recv(rctx); err != nil {
		t.Fatalf("no Stop after accept errors: %v", err)
	}

	cancel()
	select {
	case err := <-errc:
		if err != nil {
			t.Errorf("Serve returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

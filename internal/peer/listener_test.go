package peer

import (
	"context"
	"io"
	"log/slog"
	"math/rand"
	"net"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/whitf/swarm/internal/bus"
	"github.com/whitf/swarm/internal/models"
	"github.com/whitf/swarm/internal/wire"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startListener(t *testing.T) (*Listener, *bus.Bus, string) {
	t.Helper()
	b := bus.New()
	l := NewListener("127.0.0.1:0", b, testLogger())
	l.RetryDelay = 10 * time.Millisecond
	l.ReadTimeout = time.Second

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

	select {
	case <-l.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("listener did not bind")
	}
	return l, b, l.BoundAddr().String()
}

func recvWithin(t *testing.T, b *bus.Bus, d time.Duration) bus.Message {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	msg, err := b.Recv(ctx)
	if err != nil {
		t.Fatalf("no message on bus: %v", err)
	}
	return msg
}

func TestListenerDeliversEnvelopes(t *testing.T) {
	_, b, addr := startListener(t)

	host := models.NewHost(uuid.New(), "10.0.0.9", 9079)
	host.MarkOnline()
	c := wire.CBORCodec{}

	online, _ := wire.NewHostEnvelope(wire.TypeOnline, host, c)
	job, _ := wire.NewJobEnvelope(models.NewJob("a"), c)
	note := wire.NewTextEnvelope("ping")

	if err := wire.Send(context.Background(), addr, c, online, job, note); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	want := []bus.Kind{bus.KindOnline, bus.KindQueueJob, bus.KindNote}
	for _, k := range want {
		msg := recvWithin(t, b, 2*time.Second)
		if msg.Kind() != k {
			t.Errorf("Expected %s, got %s", k, msg.Kind())
		}
	}
}

func TestListenerSurvivesGarbage(t *testing.T) {
	_, b, addr := startListener(t)
	rng := rand.New(rand.NewSource(7))

	for i := 0; i < 50; i++ {
		conn, err := net.Dial("tcp", addr)
		if err != nil {
			t.Fatalf("dial %d failed: %v", i, err)
		}
		junk := make([]byte, rng.Intn(3*wire.FrameSize)+1)
		rng.Read(junk)
		conn.Write(junk)
		conn.Close()
	}

	// The listener must still accept and decode a well-formed envelope.
	host := models.NewHost(uuid.New(), "10.0.0.10", 9079)
	env, _ := wire.NewHostEnvelope(wire.TypeOffline, host, wire.MsgpackCodec{})
	if err := wire.Send(context.Background(), addr, wire.MsgpackCodec{}, env); err != nil {
		t.Fatalf("Send after garbage failed: %v", err)
	}

	msg := recvWithin(t, b, 2*time.Second)
	off, ok := msg.(bus.Offline)
	if !ok {
		t.Fatalf("Expected Offline, got %T", msg)
	}
	if off.Host.ID != host.ID {
		t.Errorf("Expected host %s, got %s", host.ID, off.Host.ID)
	}
}

func TestListenerRetriesBind(t *testing.T) {
	// Hold a port so the first bind attempts fail.
	blocker, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := blocker.Addr().String()

	l := NewListener(addr, bus.New(), testLogger())
	l.RetryDelay = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Serve(ctx)

	select {
	case <-l.Ready():
		t.Fatal("bound while port was held")
	case <-time.After(50 * time.Millisecond):
	}

	blocker.Close()
	select {
	case <-l.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("listener never re-bound after port was freed")
	}
}

func TestListenerStopsOnCancel(t *testing.T) {
	l := NewListener("127.0.0.1:0", bus.New(), testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Serve(ctx) }()
	<-l.Ready()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestAnnounce(t *testing.T) {
	_, b1, addr1 := startListener(t)
	_, b2, addr2 := startListener(t)

	// Reserve then free a port so nothing listens there.
	dead, _ := net.Listen("tcp", "127.0.0.1:0")
	deadAddr := dead.Addr().String()
	dead.Close()

	self := models.NewHost(uuid.New(), "127.0.0.1", 9079)
	self.MarkOnline()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	n := Announce(ctx, []string{addr1, deadAddr, addr2}, self, wire.TypeOnline, wire.CBORCodec{}, testLogger())
	if n != 2 {
		t.Errorf("Expected 2 peers reached, got %d", n)
	}

	for _, b := range []*bus.Bus{b1, b2} {
		msg := recvWithin(t, b, 2*time.Second)
		on, ok := msg.(bus.Online)
		if !ok || on.Host.ID != self.ID {
			t.Errorf("unexpected announcement: %#v", msg)
		}
	}
}

func TestReadyBeforeServe(t *testing.T) {
	l := NewListener("127.0.0.1:0", bus.New(), testLogger())
	ready := l.Ready()
	if l.BoundAddr() != nil {
		t.Fatal("BoundAddr set before Serve")
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		l.Serve(ctx)
		close(done)
	}()
	defer func() {
		cancel()
		<-done
	}()

	select {
	case <-ready:
	case <-time.After(2 * time.Second):
		t.Fatal("Ready channel taken before Serve never closed")
	}
	if l.Ready() != ready {
		t.Error("Ready returned a different channel after bind")
	}
	if l.BoundAddr() == nil {
		t.Error("BoundAddr nil after Ready")
	}
}

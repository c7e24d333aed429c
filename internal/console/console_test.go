package console

import (
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/whitf/swarm/internal/discovery"
)

func sampleEndpoints(now time.Time) []discovery.Endpoint {
	return []discovery.Endpoint{
		{PID: 101, Path: "/tmp/swarm_drone_101.sock", ModTime: now.Add(-3 * time.Minute), Alive: true},
		{PID: 202, Path: "/tmp/swarm_drone_202.sock", ModTime: now.Add(-2 * time.Hour), Alive: false},
	}
}

func TestRenderStatus(t *testing.T) {
	out := RenderStatus(sampleEndpoints(time.Now()))
	for _, want := range []string{"pid 101", "running", "pid 202", "abandoned"} {
		if !strings.Contains(out, want) {
			t.Errorf("status output missing %q:\n%s", want, out)
		}
	}

	if empty := RenderStatus(nil); !strings.Contains(empty, "no drone processes found") {
		t.Errorf("unexpected empty output:\n%s", empty)
	}
}

func TestRenderDetails(t *testing.T) {
	now := time.Now()
	out := RenderDetails(sampleEndpoints(now), now)
	for _, want := range []string{"/tmp/swarm_drone_101.sock", "3 minutes ago", "2 hours ago", "1 running, 1 abandoned"} {
		if !strings.Contains(out, want) {
			t.Errorf("details output missing %q:\n%s", want, out)
		}
	}
}

func TestTopModelLoadsEndpoints(t *testing.T) {
	now := time.Now()
	m := NewTopModel("/unused")
	m.scan = func(string) ([]discovery.Endpoint, error) { return sampleEndpoints(now), nil }

	msg := m.refresh()()
	m.Update(msg)

	items := m.Items()
	if len(items) != 2 || items[0].PID != 101 || items[1].PID != 202 {
		t.Fatalf("unexpected items %+v", items)
	}
	if items[0].Title() != "drone 101" {
		t.Errorf("unexpected title %q", items[0].Title())
	}
	if !strings.Contains(m.View(), "drone 101") {
		t.Errorf("view missing drone 101:\n%s", m.View())
	}
}

func TestTopModelScanError(t *testing.T) {
	m := NewTopModel("/unused")
	m.scan = func(string) ([]discovery.Endpoint, error) { return nil, errors.New("permission denied") }

	m.Update(m.refresh()())
	if !strings.Contains(m.View(), "permission denied") {
		t.Errorf("view does not report scan error:\n%s", m.View())
	}
}

func TestTopModelQuit(t *testing.T) {
	m := NewTopModel("/unused")
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	if cmd == nil {
		t.Fatal("Expected quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("q did not quit")
	}
}

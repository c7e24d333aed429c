// Package console renders discovered drones for the operator tool.
package console

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/whitf/swarm/internal/discovery"
)

var (
	// Colors
	primaryColor = lipgloss.Color("#7C3AED")
	successColor = lipgloss.Color("#10B981")
	errorColor   = lipgloss.Color("#EF4444")
	mutedColor   = lipgloss.Color("#6B7280")

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor)

	aliveStyle = lipgloss.NewStyle().
			Foreground(successColor).
			Bold(true)

	abandonedStyle = lipgloss.NewStyle().
			Foreground(errorColor)

	mutedStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			Italic(true)
)

func formatState(alive bool) string {
	if alive {
		return aliveStyle.Render("● running")
	}
	return abandonedStyle.Render("● abandoned")
}

// RenderStatus lists each endpoint on its own line.
func RenderStatus(endpoints []discovery.Endpoint) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Swarm drones"))
	b.WriteString("\n")

	if len(endpoints) == 0 {
		b.WriteString(mutedStyle.Render("no drone processes found"))
		b.WriteString("\n")
		return b.String()
	}

	for _, e := range endpoints {
		fmt.Fprintf(&b, "  pid %-8d %s\n", e.PID, formatState(e.Alive))
	}
	return b.String()
}

// RenderDetails is RenderStatus plus socket path and age.
func RenderDetails(endpoints []discovery.Endpoint, now time.Time) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Swarm drones"))
	b.WriteString("\n")

	if len(endpoints) == 0 {
		b.WriteString(mutedStyle.Render("no drone processes found"))
		b.WriteString("\n")
		return b.String()
	}

	for _, e := range endpoints {
		fmt.Fprintf(&b, "  pid %-8d %s\n", e.PID, formatState(e.Alive))
		fmt.Fprintf(&b, "    socket  %s\n", e.Path)
		fmt.Fprintf(&b, "    since   %s\n", mutedStyle.Render(humanize.RelTime(e.ModTime, now, "ago", "from now")))
	}

	live := len(discovery.Live(endpoints))
	fmt.Fprintf(&b, "\n%d running, %d abandoned\n", live, len(endpoints)-live)
	return b.String()
}

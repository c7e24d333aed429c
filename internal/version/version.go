// Package version holds the drone build version.
package version

// Version is the running binary's version. It doubles as the schema
// version marker written by the storage gate, so a binary upgrade against
// an existing database is detected at startup.
//
// Override at build time with:
//
//	go build -ldflags "-X github.com/whitf/swarm/internal/version.Version=0.2.0"
var Version = "0.1.0"

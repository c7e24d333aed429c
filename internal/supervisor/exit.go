package supervisor

import (
	"errors"

	"github.com/whitf/swarm/internal/store"
)

// Process exit statuses.
const (
	ExitOK              = 0
	ExitStartup         = 1
	ExitStorageDir      = 3
	ExitSchemaCorrupt   = 4
	ExitVersionMismatch = 5
	ExitStorageOpen     = 6
)

// ExitCode maps a startup error to the process exit status.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}

	var gateErr *store.GateError
	if !errors.As(err, &gateErr) {
		return ExitStartup
	}
	switch gateErr.Failure {
	case store.FailStorageDir:
		return ExitStorageDir
	case store.FailSchemaCorrupt:
		return ExitSchemaCorrupt
	case store.FailVersionMismatch:
		return ExitVersionMismatch
	case store.FailStorageOpen:
		return ExitStorageOpen
	default:
		return ExitStartup
	}
}

package drone

import "errors"

// Sentinel errors for drone lifecycle operations.
var (
	ErrNotOffline = errors.New("drone already started")
	ErrNotOnline  = errors.New("drone not online")
)

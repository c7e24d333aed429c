package peer

import (
	"context"
	"log/slog"
	"sync"

	"github.com/whitf/swarm/internal/models"
	"github.com/whitf/swarm/internal/wire"
)

// Announce tells every peer at addrs that self changed state. typ must be
// wire.TypeOnline or wire.TypeOffline. Each peer gets one attempt;
// failures are logged and otherwise ignored. It returns the number of
// peers reached.
func Announce(ctx context.Context, addrs []string, self *models.Host, typ wire.MessageType, c wire.Codec, logger *slog.Logger) int {
	env, err := wire.NewHostEnvelope(typ, self, c)
	if err != nil {
		logger.Error("cannot build announcement", slog.Any("error", err))
		return 0
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		reached int
	)
	for _, addr := range addrs {
		wg.Add(1)
		go func(addr string) {
			defer wg.Done()
			if err := wire.Send(ctx, addr, c, env); err != nil {
				logger.Warn("announcement not delivered",
					slog.String("peer", addr),
					slog.String("type", typ.String()),
					slog.Any("error", err))
				return
			}
			mu.Lock()
			reached++
			mu.Unlock()
		}(addr)
	}
	wg.Wait()
	return reached
}

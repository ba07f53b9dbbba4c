package connection

import (
	"context"
	"time"

	"github.com/ksred/tradejournal-api/internal/types"
	"github.com/rs/zerolog/log"
)

// Sweeper disconnects pending connections whose code was never used within
// the allowed window, so stale shared secrets stop authenticating.
type Sweeper struct {
	db       *Database
	ttl      time.Duration
	interval time.Duration
	now      func() time.Time
}

func NewSweeper(svc *Service, ttl, interval time.Duration) *Sweeper {
	return &Sweeper{
		db:       svc.db,
		ttl:      ttl,
		interval: interval,
		now:      time.Now,
	}
}

// Start runs the sweep loop until ctx is cancelled
func (s *Sweeper) Start(ctx context.Context) {
	logger := log.With().Str("component", "connection_sweeper").Logger()
	logger.Info().Dur("ttl", s.ttl).Dur("interval", s.interval).Msg("starting connection sweeper")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("shutting down connection sweeper")
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				logger.Error().Err(err).Msg("failed to expire pending connections")
			}
		}
	}
}

// Sweep disconnects pending connections created before now-ttl and returns how many
func (s *Sweeper) Sweep(ctx context.Context) (int64, error) {
	cutoff := s.now().Add(-s.ttl)
	n, err := s.db.UpdateStatusWhere(ctx,
		types.ConnectionStatusPending, types.ConnectionStatusDisconnected,
		"created_at < ?", cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		log.Info().Int64("expired", n).Time("cutoff", cutoff).Msg("expired unused connection codes")
	}
	return n, nil
}

package session

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultPurgeInterval is how often expired sessions are removed.
const DefaultPurgeInterval = 10 * time.Minute

// Purger removes expired and revoked sessions.
type Purger interface {
	PurgeExpiredSessions(ctx context.Context) (int64, error)
}

// Janitor periodically purges dead session rows.
type Janitor struct {
	purger   Purger
	interval time.Duration
	logger   *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewJanitor creates a Janitor running every DefaultPurgeInterval.
func NewJanitor(p Purger, logger *slog.Logger) *Janitor {
	return &Janitor{
		purger:   p,
		interval: DefaultPurgeInterval,
		logger:   logger.With("component", "session_janitor"),
	}
}

// Start launches the background loop. It returns immediately.
func (j *Janitor) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	j.cancel = cancel
	j.wg.Add(1)
	go func() {
		defer j.wg.Done()
		ticker := time.NewTicker(j.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				j.purge(ctx)
			}
		}
	}()
}

// Stop ends the loop and waits for an in-flight purge to finish.
func (j *Janitor) Stop() {
	if j.cancel != nil {
		j.cancel()
	}
	j.wg.Wait()
}

func (j *Janitor) purge(ctx context.Context) {
	n, err := j.purger.PurgeExpiredSessions(ctx)
	if err != nil {
		j.logger.Warn("session purge failed", "err", err)
		return
	}
	if n > 0 {
		j.logger.Debug("purged sessions", "count", n)
	}
}

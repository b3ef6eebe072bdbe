/**
 * @description
 * Scheduled job implementations for the wallet backend.
 */
package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/tropiwallet/wallet-service/internal/store"
)

// Jobs contains the logic for all scheduled tasks.
type Jobs struct {
	cache     store.CacheRepository
	sessions  *SessionRegistry
	retention time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

// NewJobs creates a new Jobs runner.
func NewJobs(cache store.CacheRepository, sessions *SessionRegistry, retention time.Duration, logger *slog.Logger) *Jobs {
	return &Jobs{
		cache:     cache,
		sessions:  sessions,
		retention: retention,
		logger:    logger,
		now:       time.Now,
	}
}

// PruneCache deletes cache rows older than the retention window and drops
// expired sessions.
func (j *Jobs) PruneCache() {
	j.logger.Info("starting cache prune job")
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	cutoff := j.now().Add(-j.retention)
	pruned, err := j.cache.PruneBefore(ctx, cutoff)
	if err != nil {
		j.logger.Error("failed to prune cache", "error", err)
		return
	}
	if j.sessions != nil {
		j.sessions.Sweep()
	}
	j.logger.Info("finished cache prune job", "pruned_rows", pruned, "cutoff", cutoff.UTC())
}

// Package cleanup periodically deletes expired revocation entries.
// A token past its expiry is rejected by signature check anyway, so its entry is not needed.
package cleanup

import (
	"context"
	"fmt"
	"time"

	"github.com/nkiryanov/authhub/internal/logger"
	"github.com/nkiryanov/authhub/internal/repository"
)

const defaultInterval = time.Hour

type purgeRecorder interface {
	RecordRevocationsPurged(count int64)
}

type Job struct {
	storage  repository.Storage
	interval time.Duration
	logger   logger.Logger
	metrics  purgeRecorder

	now func() time.Time
}

func New(storage repository.Storage, interval time.Duration, l logger.Logger, metrics purgeRecorder) *Job {
	if interval <= 0 {
		interval = defaultInterval
	}

	return &Job{
		storage:  storage,
		interval: interval,
		logger:   l,
		metrics:  metrics,
		now:      time.Now,
	}
}

// Delete entries expired by now. Idempotent
func (j *Job) RunOnce(ctx context.Context) (int64, error) {
	start := time.Now()

	deleted, err := j.storage.Revocation().DeleteExpired(ctx, j.now())
	if err != nil {
		j.logger.Error("Revocation cleanup failed", "error", err)
		return 0, fmt.Errorf("revocation cleanup failed: %w", err)
	}

	if j.metrics != nil {
		j.metrics.RecordRevocationsPurged(deleted)
	}

	j.logger.Info("Revocation cleanup done", "deleted_count", deleted, "duration_ms", time.Since(start).Milliseconds())

	return deleted, nil
}

// Run cleanup every interval until ctx is done
// Returned channel is closed when the job stops
func (j *Job) Run(ctx context.Context) <-chan struct{} {
	idleStopped := make(chan struct{})
	j.logger.Debug("Starting revocation cleanup", "interval", j.interval)

	go func() {
		defer close(idleStopped)

		ticker := time.NewTicker(j.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				j.logger.Debug("Revocation cleanup stopped by context")
				return

			case <-ticker.C:
				_, _ = j.RunOnce(ctx)
			}
		}
	}()

	return idleStopped
}

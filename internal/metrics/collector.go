package metrics

import (
	"context"
	"log/slog"
	"time"
)

// DB interface for status count queries
type DB interface {
	CountChallengesByStatus(ctx context.Context) (map[string]int, error)
}

// trackedStatuses are always reported so a drained status drops to zero
var trackedStatuses = []string{"PENDING", "SCHEDULED", "ACTIVE", "COMPLETED", "CANCELLED", "EXPIRED"}

// StartStatusCollector starts a background loop that periodically
// collects per-status challenge counts from the database
func StartStatusCollector(ctx context.Context, db DB, interval time.Duration) {
	logger := slog.Default()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Collect once immediately
	collectStatusCounts(ctx, db, logger)

	for {
		select {
		case <-ctx.Done():
			logger.Info("Status collector stopping")
			return
		case <-ticker.C:
			collectStatusCounts(ctx, db, logger)
		}
	}
}

func collectStatusCounts(ctx context.Context, db DB, logger *slog.Logger) {
	counts, err := db.CountChallengesByStatus(ctx)
	if err != nil {
		logger.Error("Failed to count challenges by status", "error", err)
		return
	}

	for _, status := range trackedStatuses {
		ChallengesByStatus.WithLabelValues(status).Set(float64(counts[status]))
	}
}

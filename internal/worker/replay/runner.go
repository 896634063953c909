// Package replay periodically resends contingency documents to the authority.
package replay

import (
	"context"
	"time"

	"github.com/boddenberg/pdv-fiscal-go/internal/domain"

	"go.uber.org/zap"
)

// Replayer resends the contingency queue. FiscalService satisfies it.
type Replayer interface {
	ReplayContingency(ctx context.Context) (*domain.ReplayReport, error)
}

// Run replays the queue every interval until ctx is done. A non-positive
// interval disables the worker. Run always returns nil so it can sit in an
// errgroup next to the HTTP server.
func Run(ctx context.Context, replayer Replayer, interval time.Duration, logger *zap.Logger) error {
	if interval <= 0 {
		logger.Info("contingency replay worker disabled")
		return nil
	}
	logger.Info("contingency replay worker started", zap.Duration("interval", interval))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("contingency replay worker stopped")
			return nil
		case <-ticker.C:
			RunOnce(ctx, replayer, logger)
		}
	}
}

// RunOnce performs a single replay and logs its outcome.
func RunOnce(ctx context.Context, replayer Replayer, logger *zap.Logger) *domain.ReplayReport {
	report, err := replayer.ReplayContingency(ctx)
	if err != nil {
		logger.Error("contingency replay failed", zap.Error(err))
		return nil
	}

	switch {
	case report.Failed != nil:
		logger.Warn("contingency replay interrupted",
			zap.Int("replayed", len(report.Replayed)),
			zap.Int("remaining", report.Remaining),
			zap.String("failed_reference", report.Failed.Reference),
			zap.String("error", report.Failed.Error),
		)
	case len(report.Replayed) > 0:
		logger.Info("contingency replay completed",
			zap.Int("replayed", len(report.Replayed)),
			zap.Int("remaining", report.Remaining),
		)
	}
	return report
}

package healthcheck

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/angeloszaimis/failover-gateway/internal/backend"
)

// TransitionFunc is called when a periodic check flips a backend's health.
type TransitionFunc func(ctx context.Context, b *backend.Backend, result Result)

// Watch runs a full check against the backend immediately and then on every
// interval until ctx is done. Each result updates the backend's health, version
// and reliability score.
func Watch(
	ctx context.Context,
	b *backend.Backend,
	interval time.Duration,
	checker *Checker,
	onTransition TransitionFunc,
	logger *slog.Logger,
) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		CheckBackend(ctx, b, checker, onTransition, logger)

		select {
		case <-ctx.Done():
			logger.Info("Health check stopped",
				slog.String("server", b.URL().String()))
			return

		case <-ticker.C:
		}
	}
}

// CheckBackend runs one full check and applies its result to the backend.
func CheckBackend(
	ctx context.Context,
	b *backend.Backend,
	checker *Checker,
	onTransition TransitionFunc,
	logger *slog.Logger,
) Result {
	result := checker.FullCheck(ctx, b.URL().String(), "monitor-"+uuid.NewString())
	if ctx.Err() != nil || result.Skipped {
		return result
	}

	version := result.Version
	if version == UnknownVersion {
		version = ""
	}
	b.RecordProbe(version, result.ResponseTimeScore)

	if !b.SetHealthy(result.Healthy) {
		return result
	}

	if result.Healthy {
		logger.Info("Server is back up",
			slog.String("server", b.URL().String()),
			slog.String("version", result.Version))
	} else {
		logger.Warn("Server is down",
			slog.String("server", b.URL().String()),
			slog.Int("status", result.Status),
			slog.String("error", result.Error))
	}

	if onTransition != nil {
		onTransition(ctx, b, result)
	}

	return result
}

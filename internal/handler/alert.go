package handler

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/angeloszaimis/failover-gateway/internal/metrics"
	"github.com/angeloszaimis/failover-gateway/internal/notifier"
)

// Sender delivers a notification and reports the outcome.
type Sender interface {
	SendNotification(ctx context.Context, p notifier.Payload, requestID string) notifier.Outcome
}

// Alerter sends notifications in the background so the request path never
// waits on retries.
type Alerter struct {
	sender    Sender
	collector *metrics.Collector
	logger    *slog.Logger
	wg        sync.WaitGroup
}

func NewAlerter(sender Sender, collector *metrics.Collector, logger *slog.Logger) *Alerter {
	return &Alerter{
		sender:    sender,
		collector: collector,
		logger:    logger,
	}
}

// Alert queues p for delivery. The delivery outlives ctx's cancellation but
// keeps its values. A nil Alerter drops the alert.
func (a *Alerter) Alert(ctx context.Context, p notifier.Payload, requestID string) {
	if a == nil {
		return
	}

	ctx = context.WithoutCancel(ctx)

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()

		outcome := a.sender.SendNotification(ctx, p, requestID)
		if errors.Is(outcome.Err, notifier.ErrConfigIncomplete) || errors.Is(outcome.Err, notifier.ErrTypeDisabled) {
			return
		}

		if a.collector != nil {
			a.collector.Record(metrics.MetricEvent{
				Type:     metrics.EventNotification,
				Label:    string(p.Type),
				Success:  outcome.Success,
				Fallback: outcome.UsedFallback,
			})
		}

		if !outcome.Success {
			a.logger.Warn("Notification not delivered",
				slog.String("type", string(p.Type)),
				slog.String("request_id", requestID),
				slog.Int("attempts", outcome.Attempts),
				slog.Bool("fallback", outcome.UsedFallback))
		}
	}()
}

// Wait blocks until every queued alert finished or ctx is done.
func (a *Alerter) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

package scheduler

import (
	"context"
	"time"

	"relief_portal_backend/internal/events"
	"relief_portal_backend/platform/logger"
)

// WarmEnqueuer enqueues a full warm-up on start and then every interval.
type WarmEnqueuer struct {
	scheduler WarmScheduler
	interval  time.Duration
	log       *logger.Logger
}

func NewWarmEnqueuer(scheduler WarmScheduler, interval time.Duration, log *logger.Logger) *WarmEnqueuer {
	if interval <= 0 {
		interval = 6 * time.Hour
	}
	return &WarmEnqueuer{scheduler: scheduler, interval: interval, log: log}
}

func (e *WarmEnqueuer) Run(ctx context.Context) {
	if e == nil || e.scheduler == nil {
		return
	}

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		if err := e.scheduler.EnqueueGeocodeWarm(ctx, GeocodeWarmPayload{}); err != nil {
			e.log.Warn("geocode warm-up enqueue failed", "error", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// WarmOnFailure enqueues a warm-up for the filtered state whenever a
// dashboard rebuild left locations unresolved.
type WarmOnFailure struct {
	scheduler WarmScheduler
	log       *logger.Logger
}

func NewWarmOnFailure(scheduler WarmScheduler, log *logger.Logger) *WarmOnFailure {
	return &WarmOnFailure{scheduler: scheduler, log: log}
}

// RegisterHandlers subscribes to rebuild results.
func (h *WarmOnFailure) RegisterHandlers(bus events.Bus) {
	bus.Subscribe(events.ClustersUpdated{}.EventName(), h)
}

// Handle implements events.Handler.
func (h *WarmOnFailure) Handle(ctx context.Context, event events.Event) error {
	e, ok := event.(events.ClustersUpdated)
	if !ok || len(e.FailedLocations) == 0 {
		return nil
	}

	payload := GeocodeWarmPayload{State: e.Filter.State}
	if err := h.scheduler.EnqueueGeocodeWarm(ctx, payload); err != nil {
		h.log.Warn("geocode warm-up enqueue failed", "state", payload.State, "error", err)
		return err
	}
	h.log.Debug("geocode warm-up enqueued after failures", "state", payload.State, "failed", len(e.FailedLocations))
	return nil
}

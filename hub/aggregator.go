package hub

import (
	"context"
	"log/slog"
	"time"

	"slideremote-relay-server/domain"
)

// runAggregator pushes the averaged controller angle to the presenter on
// every tick until the room is torn down.
func (h *Hub) runAggregator(ctx context.Context, r *room) {
	defer close(r.done)

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Debug("aggregator stopped", "code", r.code)
			return
		case <-ticker.C:
			h.pushAverage(r, h.now())
		}
	}
}

// pushAverage reports whether a motion update was sent.
func (h *Hub) pushAverage(r *room, now time.Time) bool {
	avg, presenter, ok := r.freshAverage(now, h.window)
	if !ok {
		return false
	}

	domain.Deliver(presenter, domain.MotionUpdate(avg))
	slog.Debug("averaged angle", "code", r.code, "angle", avg)
	return true
}

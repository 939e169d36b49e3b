package registry

import (
	"context"
	"time"
)

// Sweep deletes every room idle for longer than the ttl and returns their ids.
// Participants still in an evicted room are dropped without notification.
func (r *Registry) Sweep() []string {
	r.mu.Lock()
	ids := make([]string, 0, len(r.rooms))
	for id := range r.rooms {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	var reaped []string
	for _, id := range ids {
		rm := r.lockRoom(id, false)
		if rm == nil {
			continue
		}
		if r.now().Sub(rm.lastActivity) > r.ttl {
			abandoned := len(rm.participants)
			r.deleteRoom(rm)
			reaped = append(reaped, id)
			r.logger.Info().
				Str("meetingID", id).
				Int("abandoned", abandoned).
				Time("lastActivity", rm.lastActivity).
				Msg("idle room evicted")
			for _, obs := range r.observers {
				obs.Evicted(id)
			}
		}
		rm.mu.Unlock()
	}
	return reaped
}

// Start runs the idle sweep until ctx is done or Stop is called
func (r *Registry) Start(ctx context.Context) {
	r.stopMu.Lock()
	defer r.stopMu.Unlock()
	if r.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.sweepInterval)
		defer ticker.Stop()

		r.logger.Debug().
			Dur("interval", r.sweepInterval).
			Dur("ttl", r.ttl).
			Msg("reaper started")
		for {
			select {
			case <-ctx.Done():
				r.logger.Debug().Msg("reaper stopped")
				return
			case <-ticker.C:
				r.Sweep()
			}
		}
	}()
}

// Stop halts the sweep and waits for it to drain
func (r *Registry) Stop() {
	r.stopMu.Lock()
	cancel := r.cancel
	r.cancel = nil
	r.stopMu.Unlock()

	if cancel != nil {
		cancel()
	}
	r.wg.Wait()
}

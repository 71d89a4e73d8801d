package lifecycle

import (
	"context"
	"time"

	"runbox/internal/token"
	"runbox/pkg/utils/logger"

	"go.uber.org/zap"
)

// Sweeper periodically reclaims expired tokens and the workspaces they
// leave behind.
type Sweeper struct {
	coordinator *Coordinator
	interval    time.Duration
}

// NewSweeper builds a sweeper over the coordinator's registry. A zero
// interval falls back to the operational constant.
func NewSweeper(coordinator *Coordinator, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = SweepInterval
	}
	return &Sweeper{coordinator: coordinator, interval: interval}
}

// Start runs sweeps until ctx is cancelled. Call in its own goroutine.
func (s *Sweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce drains expired entries and reclaims token-free workspaces.
// One failure never blocks reclamation of the remaining entries.
func (s *Sweeper) SweepOnce(ctx context.Context) {
	registry := s.coordinator.Registry()
	expired, err := registry.Sweep(ctx, time.Now())
	if err != nil {
		logger.Warn(ctx, "token sweep failed", zap.Error(err))
		return
	}
	if len(expired) == 0 {
		return
	}

	byWorkspace := make(map[string][]token.Entry, len(expired))
	for _, entry := range expired {
		byWorkspace[entry.WorkspaceID] = append(byWorkspace[entry.WorkspaceID], entry)
	}

	reclaimed := 0
	for workspaceID, entries := range byWorkspace {
		// The registry already dropped these entries, so Reclaim will not
		// see them; remove their archived mirrors here.
		s.coordinator.unmirror(ctx, workspaceID, entries)

		live, err := registry.WorkspaceEntries(ctx, workspaceID)
		if err != nil {
			logger.Warn(ctx, "list live tokens failed",
				zap.String("workspace_id", workspaceID), zap.Error(err))
			continue
		}
		// A workspace stays alive while any token into it is live.
		if len(live) > 0 {
			continue
		}
		s.coordinator.Reclaim(ctx, workspaceID)
		reclaimed++
	}

	logger.Info(ctx, "sweep finished",
		zap.Int("expired_tokens", len(expired)),
		zap.Int("reclaimed_workspaces", reclaimed),
	)
}

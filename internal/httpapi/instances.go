package httpapi

import (
	"context"
	"encoding/json"
	"time"

	"github.com/waltagan/scraper-api/internal/metrics"
)

// publishInterval matches spec.md §4.11's 10 Hz snapshot cadence.
const publishInterval = 100 * time.Millisecond

// StartPublishing periodically writes this process's local snapshot
// for batchID to Redis under a per-instance key, so the status
// endpoint on any instance can merge every live process's contribution
// into the status object's `instances` array (spec.md §6). Runs until
// ctx is cancelled or until it has published the batch's completed
// status; callers launch it once per submitted batch.
func (s *Server) StartPublishing(ctx context.Context, batchID string) {
	if s.rdb == nil {
		return
	}
	b, ok := s.manager.Get(batchID)
	if !ok {
		return
	}

	ticker := time.NewTicker(publishInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				snap := s.manager.Snapshot(b)
				s.publish(ctx, batchID, string(b.Status()), snap)
				if b.Status() == "completed" {
					return
				}
			}
		}
	}()
}

func (s *Server) publish(ctx context.Context, batchID, status string, snap metrics.Snapshot) {
	payload, err := json.Marshal(instanceDTO{
		ID:               s.selfID,
		Status:           status,
		Processed:        snap.Processed,
		Success:          snap.SuccessCount,
		Errors:           snap.ErrorCount,
		ThroughputPerMin: snap.ThroughputPerMin,
	})
	if err != nil {
		return
	}
	key := "scraper:batch:" + batchID + ":instance:" + s.selfID
	s.rdb.Set(ctx, key, payload, 30*time.Second)
}

// instances merges every live instance's published snapshot for
// batchID. When Redis is not configured it falls back to a
// single-entry array describing this process only, so the status
// object's shape never changes between single- and multi-instance
// deployments.
func (s *Server) instances(ctx context.Context, batchID string, snap metrics.Snapshot) []instanceDTO {
	if s.rdb == nil {
		return []instanceDTO{{
			ID: s.selfID, Status: "running",
			Processed: snap.Processed, Success: snap.SuccessCount, Errors: snap.ErrorCount,
			ThroughputPerMin: snap.ThroughputPerMin,
		}}
	}

	pattern := "scraper:batch:" + batchID + ":instance:*"
	keys, err := s.rdb.Keys(ctx, pattern).Result()
	if err != nil || len(keys) == 0 {
		return []instanceDTO{}
	}

	out := make([]instanceDTO, 0, len(keys))
	for _, k := range keys {
		raw, err := s.rdb.Get(ctx, k).Bytes()
		if err != nil {
			continue
		}
		var inst instanceDTO
		if err := json.Unmarshal(raw, &inst); err != nil {
			continue
		}
		out = append(out, inst)
	}
	return out
}

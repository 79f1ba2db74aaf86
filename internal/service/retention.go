package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cvfolio/reqaudit/internal/model"
	"github.com/cvfolio/reqaudit/internal/pkg/logger"
	"github.com/cvfolio/reqaudit/internal/pkg/metrics"
)

// Archiver stores a JSON-lines copy of records before they are purged.
type Archiver interface {
	Put(ctx context.Context, name string, data []byte) (string, error)
}

// RetentionService owns the two mutations the audit trail allows: purging
// old records and detaching a deleted identity.
type RetentionService struct {
	store    RequestLogStore
	archiver Archiver
	now      func() time.Time
}

func NewRetentionService(store RequestLogStore, archiver Archiver) *RetentionService {
	return &RetentionService{store: store, archiver: archiver, now: time.Now}
}

// PurgeBefore deletes records older than before. When an archiver is set the
// records are uploaded first and nothing is deleted if the upload fails.
// Only records that made it into the archive are deleted; a slow request
// that started before the cutoff but was stored after the archive was read
// survives until the next purge.
func (s *RetentionService) PurgeBefore(ctx context.Context, before time.Time) (*model.PurgeResult, error) {
	before = before.UTC()
	result := &model.PurgeResult{}

	var maxID uint64
	if s.archiver != nil {
		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		err := s.store.Each(ctx, model.RequestLogFilter{Until: &before}, func(rec *model.RequestLog) error {
			maxID = max(maxID, rec.ID)
			return enc.Encode(rec)
		})
		if err != nil {
			return nil, fmt.Errorf("failed to read records for archive: %w", err)
		}
		if maxID == 0 {
			return result, nil
		}
		name := fmt.Sprintf("request-logs-before-%s-%d.jsonl", before.Format("20060102T150405Z"), s.now().UnixNano())
		key, err := s.archiver.Put(ctx, name, buf.Bytes())
		if err != nil {
			return nil, err
		}
		result.Archived = key
	}

	deleted, err := s.store.Purge(ctx, before, maxID)
	if err != nil {
		return nil, err
	}
	result.Deleted = deleted
	metrics.PurgedRecords.Add(float64(deleted))
	logger.Info("purged request logs", "before", before, "deleted", deleted, "archived", result.Archived)
	return result, nil
}

// PurgeOlderThan deletes records older than the given number of days.
func (s *RetentionService) PurgeOlderThan(ctx context.Context, days int) (*model.PurgeResult, error) {
	if days < 0 {
		return nil, fmt.Errorf("days must not be negative")
	}
	return s.PurgeBefore(ctx, s.now().Add(-time.Duration(days)*24*time.Hour))
}

// DetachActor clears the actor reference on every record of a deleted identity.
func (s *RetentionService) DetachActor(ctx context.Context, actorID string) (int64, error) {
	n, err := s.store.DetachActor(ctx, actorID)
	if err != nil {
		return 0, err
	}
	logger.Info("detached actor from request logs", "actor_id", actorID, "updated", n)
	return n, nil
}

// Run purges records older than retentionDays every interval until ctx ends.
func (s *RetentionService) Run(ctx context.Context, retentionDays int, interval time.Duration) {
	if retentionDays <= 0 {
		return
	}
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.PurgeOlderThan(ctx, retentionDays); err != nil {
				logger.LogError(ctx, err, "retention purge failed")
			}
		}
	}
}

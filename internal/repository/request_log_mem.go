package repository

import (
	"context"
	"sync"
	"time"

	"github.com/cvfolio/reqaudit/internal/model"
)

// MemoryRequestLogStore keeps records in an append-only slice. It is used
// when no database is configured and by tests.
type MemoryRequestLogStore struct {
	mu      sync.RWMutex
	records []*model.RequestLog
	nextID  uint64
}

func NewMemoryRequestLogStore() *MemoryRequestLogStore {
	return &MemoryRequestLogStore{}
}

func (s *MemoryRequestLogStore) Insert(ctx context.Context, rec *model.RequestLog) error {
	if rec == nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	rec.ID = s.nextID
	cp := *rec
	s.records = append(s.records, &cp)
	return nil
}

func (s *MemoryRequestLogStore) Get(_ context.Context, id uint64) (*model.RequestLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, rec := range s.records {
		if rec.ID == id {
			cp := *rec
			return &cp, nil
		}
	}
	return nil, model.ErrLogNotFound
}

func (s *MemoryRequestLogStore) Find(_ context.Context, filter model.RequestLogFilter, offset, limit int) ([]*model.RequestLog, int64, error) {
	matched := s.snapshot(filter)
	model.SortNewestFirst(matched)

	total := int64(len(matched))
	if offset < 0 {
		offset = 0
	}
	if offset >= len(matched) {
		return []*model.RequestLog{}, total, nil
	}
	end := len(matched)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return matched[offset:end], total, nil
}

func (s *MemoryRequestLogStore) Each(ctx context.Context, filter model.RequestLogFilter, fn func(*model.RequestLog) error) error {
	for _, rec := range s.snapshot(filter) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return nil
}

func (s *MemoryRequestLogStore) DetachActor(_ context.Context, actorID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for i, rec := range s.records {
		if rec.ActorID == nil || *rec.ActorID != actorID {
			continue
		}
		cp := *rec
		cp.ActorID, cp.ActorUsername, cp.ActorEmail = nil, nil, nil
		s.records[i] = &cp
		n++
	}
	return n, nil
}

func (s *MemoryRequestLogStore) Purge(_ context.Context, before time.Time, maxID uint64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.records[:0:0]
	var n int64
	for _, rec := range s.records {
		if rec.Timestamp.Before(before) && (maxID == 0 || rec.ID <= maxID) {
			n++
			continue
		}
		kept = append(kept, rec)
	}
	s.records = kept
	return n, nil
}

func (s *MemoryRequestLogStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// snapshot returns copies of the matching records in insertion order.
func (s *MemoryRequestLogStore) snapshot(filter model.RequestLogFilter) []*model.RequestLog {
	preds := filter.Predicates()
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.RequestLog, 0, len(s.records))
next:
	for _, rec := range s.records {
		for _, p := range preds {
			if !p(rec) {
				continue next
			}
		}
		cp := *rec
		out = append(out, &cp)
	}
	return out
}

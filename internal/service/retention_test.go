package service

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cvfolio/reqaudit/internal/model"
	"github.com/cvfolio/reqaudit/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memArchive struct {
	objects map[string][]byte
	err     error
}

func (a *memArchive) Put(_ context.Context, name string, data []byte) (string, error) {
	if a.err != nil {
		return "", a.err
	}
	if a.objects == nil {
		a.objects = make(map[string][]byte)
	}
	a.objects[name] = append([]byte(nil), data...)
	return "archive/" + name, nil
}

func TestPurgeBeforeArchivesThenDeletes(t *testing.T) {
	store := seed(t,
		rec("GET", "/old-1", 200, at(t0.Add(-72*time.Hour))),
		rec("GET", "/old-2", 200, at(t0.Add(-48*time.Hour))),
		rec("GET", "/fresh", 200, at(t0)),
	)
	archive := &memArchive{}
	svc := NewRetentionService(store, archive)

	result, err := svc.PurgeBefore(context.Background(), t0.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), result.Deleted)
	assert.Contains(t, result.Archived, "archive/request-logs-before-")
	assert.Equal(t, 1, store.Len())

	require.Len(t, archive.objects, 1)
	for _, data := range archive.objects {
		var lines int
		sc := bufio.NewScanner(bytes.NewReader(data))
		for sc.Scan() {
			lines++
		}
		assert.Equal(t, 2, lines)
	}
}

// lateWriteStore stores one more old record right after the archive read,
// the way a slow request that began before the cutoff would.
type lateWriteStore struct {
	*repository.MemoryRequestLogStore
	late *model.RequestLog
}

func (s *lateWriteStore) Each(ctx context.Context, filter model.RequestLogFilter, fn func(*model.RequestLog) error) error {
	if err := s.MemoryRequestLogStore.Each(ctx, filter, fn); err != nil {
		return err
	}
	if s.late != nil {
		late := s.late
		s.late = nil
		return s.MemoryRequestLogStore.Insert(ctx, late)
	}
	return nil
}

func TestPurgeBeforeKeepsRecordsWrittenAfterArchive(t *testing.T) {
	store := &lateWriteStore{
		MemoryRequestLogStore: seed(t, rec("GET", "/old", 200, at(t0.Add(-48*time.Hour)))),
		late:                  rec("GET", "/slow", 200, at(t0.Add(-47*time.Hour))),
	}
	archive := &memArchive{}
	svc := NewRetentionService(store, archive)
	tick := t0
	svc.now = func() time.Time {
		tick = tick.Add(time.Second)
		return tick
	}

	result, err := svc.PurgeBefore(context.Background(), t0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), result.Deleted)

	records, _, err := store.Find(context.Background(), model.RequestLogFilter{}, 0, 0)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "/slow", records[0].Path)

	for _, data := range archive.objects {
		assert.NotContains(t, string(data), "/slow")
	}

	again, err := svc.PurgeBefore(context.Background(), t0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), again.Deleted)
	assert.Len(t, archive.objects, 2)
}

func TestPurgeBeforeKeepsRecordsWhenArchiveFails(t *testing.T) {
	store := seed(t, rec("GET", "/old", 200, at(t0.Add(-48*time.Hour))))
	svc := NewRetentionService(store, &memArchive{err: errors.New("bucket unavailable")})

	_, err := svc.PurgeBefore(context.Background(), t0)
	require.Error(t, err)
	assert.Equal(t, 1, store.Len())
}

func TestPurgeBeforeSkipsEmptyArchive(t *testing.T) {
	store := seed(t, rec("GET", "/fresh", 200, at(t0)))
	archive := &memArchive{}
	svc := NewRetentionService(store, archive)

	result, err := svc.PurgeBefore(context.Background(), t0.Add(-time.Hour))
	require.NoError(t, err)
	assert.Zero(t, result.Deleted)
	assert.Empty(t, result.Archived)
	assert.Empty(t, archive.objects)
}

func TestPurgeOlderThan(t *testing.T) {
	store := seed(t,
		rec("GET", "/old", 200, at(t0.Add(-10*24*time.Hour))),
		rec("GET", "/fresh", 200, at(t0.Add(-time.Hour))),
	)
	svc := NewRetentionService(store, nil)
	svc.now = func() time.Time { return t0 }

	result, err := svc.PurgeOlderThan(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, int64(1), result.Deleted)

	_, err = svc.PurgeOlderThan(context.Background(), -1)
	assert.Error(t, err)
}

func TestDetachActor(t *testing.T) {
	store := seed(t,
		rec("GET", "/a", 200, withActor("5", "eve")),
		rec("GET", "/b", 200, withActor("6", "mallory")),
	)
	svc := NewRetentionService(store, nil)

	n, err := svc.DetachActor(context.Background(), "5")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	records, _, err := store.Find(context.Background(), model.RequestLogFilter{Search: "eve"}, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, records)
	assert.Equal(t, 2, store.Len())
}

func TestRunStopsWithContext(t *testing.T) {
	store := seed(t, rec("GET", "/old", 200, at(time.Now().Add(-30*24*time.Hour))))
	svc := NewRetentionService(store, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		svc.Run(ctx, 7, 5*time.Millisecond)
		close(done)
	}()

	assert.Eventually(t, func() bool { return store.Len() == 0 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

package repository

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/cvfolio/reqaudit/internal/config"
	"github.com/cvfolio/reqaudit/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Runs against a disposable database: REQAUDIT_TEST_DSN=postgres://... go test ./internal/repository
func newPostgresStore(t *testing.T) *PostgresRequestLogStore {
	t.Helper()
	dsn := os.Getenv("REQAUDIT_TEST_DSN")
	if dsn == "" {
		t.Skip("REQAUDIT_TEST_DSN not set")
	}
	db, err := NewDB(&config.Config{Database: config.DatabaseConfig{DSN: dsn}})
	require.NoError(t, err)
	require.NoError(t, db.Migrator().DropTable(&model.RequestLog{}))

	store, err := NewPostgresRequestLogStore(db)
	require.NoError(t, err)
	return store
}

func TestPostgresStoreMatchesMemoryStore(t *testing.T) {
	pg := newPostgresStore(t)
	mem := NewMemoryRequestLogStore()
	ctx := context.Background()

	alice := model.Actor{ID: "1", Username: "alice", Email: "a@example.com", IsAuthenticated: true, IsStaff: true}
	fixtures := []struct {
		method, path string
		status       int
		offset       time.Duration
		actor        model.Actor
	}{
		{"GET", "/api/cvs/", 200, 0, alice},
		{"POST", "/api/cvs/", 201, time.Minute, alice},
		{"GET", "/missing_%", 404, 2 * time.Minute, model.Anonymous()},
		{"DELETE", "/api/cvs/1/", 500, 3 * time.Minute, model.Anonymous()},
		{"GET", "/api/skills/", 200, 3 * time.Minute, model.Anonymous()},
	}
	for _, f := range fixtures {
		for _, store := range []interface {
			Insert(context.Context, *model.RequestLog) error
		}{pg, mem} {
			require.NoError(t, store.Insert(ctx, newRecord(t, f.method, f.path, f.status, baseTime.Add(f.offset), f.actor)))
		}
	}

	filters := []model.RequestLogFilter{
		{},
		{Search: "CVS"},
		{Search: "alice"},
		{Search: "_"},
		{Method: "GET"},
		{Status: intPtr(404)},
		{Auth: model.AuthAnonymous},
		{Class: model.StatusClassServerError},
		{PathContains: "cvs/1"},
		{Staff: boolPtr(true)},
		{MatchNone: true},
	}
	for _, f := range filters {
		pgRecs, pgTotal, err := pg.Find(ctx, f, 0, 10)
		require.NoError(t, err)
		memRecs, memTotal, err := mem.Find(ctx, f, 0, 10)
		require.NoError(t, err)

		assert.Equal(t, memTotal, pgTotal, "filter %+v", f)
		require.Len(t, pgRecs, len(memRecs))
		for i := range pgRecs {
			assert.Equal(t, memRecs[i].Path, pgRecs[i].Path, "filter %+v", f)
		}
	}

	n, err := pg.DetachActor(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	var seen int
	require.NoError(t, pg.Each(ctx, model.RequestLogFilter{}, func(*model.RequestLog) error {
		seen++
		return nil
	}))
	assert.Equal(t, 5, seen)

	purged, err := pg.Purge(ctx, baseTime.Add(90*time.Second), 0)
	require.NoError(t, err)
	assert.Equal(t, int64(2), purged)
}

func intPtr(v int) *int    { return &v }
func boolPtr(v bool) *bool { return &v }

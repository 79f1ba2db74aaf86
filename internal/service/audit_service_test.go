package service

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cvfolio/reqaudit/internal/config"
	"github.com/cvfolio/reqaudit/internal/model"
	"github.com/cvfolio/reqaudit/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// failingStore rejects or panics on every insert.
type failingStore struct {
	*repository.MemoryRequestLogStore
	panics bool
	calls  int
	mu     sync.Mutex
}

func (s *failingStore) Insert(context.Context, *model.RequestLog) error {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.panics {
		panic("store exploded")
	}
	return errors.New("connection refused")
}

type recordingListener struct {
	mu      sync.Mutex
	records []*model.RequestLog
}

func (l *recordingListener) Publish(rec *model.RequestLog) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append(l.records, rec)
}

func completeRequest(svc *AuditService, r *http.Request, status int, actor model.Actor) {
	c := svc.Begin(r)
	if r.Body != nil {
		_, _ = io.Copy(io.Discard, r.Body)
	}
	svc.Complete(context.Background(), c, ResponseInfo{Status: status, Size: 2}, actor)
}

func TestShouldLog(t *testing.T) {
	cfg := config.DefaultAudit()
	svc := NewAuditService(cfg, repository.NewMemoryRequestLogStore())
	user := model.Actor{ID: "1", IsAuthenticated: true}

	assert.True(t, svc.ShouldLog("GET", "/api/cvs/", model.Anonymous()))
	assert.False(t, svc.ShouldLog("OPTIONS", "/api/cvs/", user))
	assert.False(t, svc.ShouldLog("options", "/api/cvs/", user))
	assert.False(t, svc.ShouldLog("GET", "/static/css/site.css", user))
	assert.False(t, svc.ShouldLog("GET", "/favicon.ico", user))
	assert.True(t, svc.ShouldLog("GET", "/statics", user), "prefix /static/ needs the slash")

	cfg.AuthenticatedOnly = true
	strict := NewAuditService(cfg, repository.NewMemoryRequestLogStore())
	assert.False(t, strict.ShouldLog("GET", "/api/cvs/", model.Anonymous()))
	assert.True(t, strict.ShouldLog("GET", "/api/cvs/", user))
}

func TestClientIP(t *testing.T) {
	cases := []struct {
		name, xff, remote, want string
	}{
		{"first forwarded hop", "203.0.113.195, 70.41.3.18, 150.172.238.178", "10.0.0.1:1234", "203.0.113.195"},
		{"remote addr without port", "", "192.0.2.10:54321", "192.0.2.10"},
		{"ipv6 remote", "", "[2001:db8::1]:443", "2001:db8::1"},
		{"bare remote", "", "192.0.2.11", "192.0.2.11"},
		{"invalid forwarded", "not-an-ip", "192.0.2.10:1", ""},
		{"nothing usable", "", "pipe", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ClientIP(tc.xff, tc.remote))
		})
	}
}

func TestCompleteStoresRecord(t *testing.T) {
	store := repository.NewMemoryRequestLogStore()
	listener := &recordingListener{}
	svc := NewAuditService(config.DefaultAudit(), store)
	svc.SetListener(listener)

	clock := t0
	svc.now = func() time.Time { return clock }

	r := httptest.NewRequest(http.MethodPost, "/api/cvs/?draft=1", strings.NewReader(`{"title":"x"}`))
	r.Header.Set("X-Forwarded-For", "203.0.113.195, 70.41.3.18")
	r.Header.Set("User-Agent", "curl/8.0")
	c := svc.Begin(r)
	c.RequestID = "req-1"
	clock = clock.Add(150 * time.Millisecond)

	actor := model.Actor{ID: "7", Username: "alice", Email: "a@example.com", IsAuthenticated: true}
	svc.Complete(context.Background(), c, ResponseInfo{Status: 201, Size: 42}, actor)

	require.Equal(t, 1, store.Len())
	got, err := store.Get(context.Background(), 1)
	require.NoError(t, err)

	assert.True(t, got.Timestamp.Equal(t0))
	assert.Equal(t, model.MethodPost, got.Method)
	assert.Equal(t, "/api/cvs/", got.Path)
	assert.Equal(t, "draft=1", *got.QueryString)
	assert.Equal(t, "203.0.113.195", *got.RemoteIP)
	assert.Equal(t, "curl/8.0", *got.UserAgent)
	assert.Equal(t, 201, *got.ResponseStatus)
	assert.Equal(t, int64(150), *got.ResponseTimeMs)
	assert.Equal(t, int64(13), *got.RequestSizeBytes)
	assert.Equal(t, int64(42), *got.ResponseSizeBytes)
	assert.Equal(t, "alice", *got.ActorUsername)
	assert.Equal(t, "req-1", got.RequestID)

	require.Len(t, listener.records, 1)
	assert.Equal(t, uint64(1), listener.records[0].ID)
}

func TestCompleteSkipsExcluded(t *testing.T) {
	store := repository.NewMemoryRequestLogStore()
	svc := NewAuditService(config.DefaultAudit(), store)

	completeRequest(svc, httptest.NewRequest(http.MethodGet, "/static/app.js", nil), 200, model.Anonymous())
	completeRequest(svc, httptest.NewRequest(http.MethodOptions, "/api/", nil), 204, model.Anonymous())
	assert.Equal(t, 0, store.Len())
}

func TestCompleteSurvivesStoreFailure(t *testing.T) {
	for _, panics := range []bool{false, true} {
		store := &failingStore{MemoryRequestLogStore: repository.NewMemoryRequestLogStore(), panics: panics}
		svc := NewAuditService(config.DefaultAudit(), store)

		assert.NotPanics(t, func() {
			for i := 0; i < 10; i++ {
				completeRequest(svc, httptest.NewRequest(http.MethodGet, "/", nil), 200, model.Anonymous())
			}
		})
		assert.Equal(t, 0, store.Len())
		// the breaker opens after five consecutive failures
		assert.Equal(t, 5, store.calls)
	}
}

func TestCompleteNilCapture(t *testing.T) {
	svc := NewAuditService(config.DefaultAudit(), repository.NewMemoryRequestLogStore())
	assert.NotPanics(t, func() {
		svc.Complete(context.Background(), nil, ResponseInfo{Status: 200}, model.Anonymous())
	})
}

func TestRequestSize(t *testing.T) {
	svc := NewAuditService(config.DefaultAudit(), repository.NewMemoryRequestLogStore())

	t.Run("content length header", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("hello"))
		c := svc.Begin(r)
		require.NotNil(t, c.requestSize())
		assert.Equal(t, int64(5), *c.requestSize())
	})

	t.Run("no body", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		c := svc.Begin(r)
		require.NotNil(t, c.requestSize())
		assert.Equal(t, int64(0), *c.requestSize())
	})

	t.Run("chunked body read to the end", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/", io.NopCloser(strings.NewReader("abcdef")))
		r.Header.Del("Content-Length")
		c := svc.Begin(r)
		_, _ = io.Copy(io.Discard, r.Body)
		require.NotNil(t, c.requestSize())
		assert.Equal(t, int64(6), *c.requestSize())
	})

	t.Run("chunked body never read", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/", io.NopCloser(strings.NewReader("abcdef")))
		c := svc.Begin(r)
		assert.Nil(t, c.requestSize())
	})
}

func TestResponseTimeIsNeverNegative(t *testing.T) {
	store := repository.NewMemoryRequestLogStore()
	svc := NewAuditService(config.DefaultAudit(), store)
	clock := t0
	svc.now = func() time.Time { return clock }

	c := svc.Begin(httptest.NewRequest(http.MethodGet, "/", nil))
	clock = clock.Add(-time.Second)
	svc.Complete(context.Background(), c, ResponseInfo{Status: 200}, model.Anonymous())

	got, err := store.Get(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, int64(0), *got.ResponseTimeMs)
}

func TestAsyncCloseDrainsQueue(t *testing.T) {
	cfg := config.DefaultAudit()
	cfg.Async = true
	cfg.BufferSize = 100
	store := repository.NewMemoryRequestLogStore()
	svc := NewAuditService(cfg, store)

	for i := 0; i < 50; i++ {
		completeRequest(svc, httptest.NewRequest(http.MethodGet, "/", nil), 200, model.Anonymous())
	}
	svc.Close()
	assert.Equal(t, 50, store.Len())

	// closed services drop instead of panicking on a closed channel
	assert.NotPanics(t, func() {
		completeRequest(svc, httptest.NewRequest(http.MethodGet, "/", nil), 200, model.Anonymous())
	})
	svc.Close()
	assert.Equal(t, 50, store.Len())
}

func TestCompleteIsSafeForConcurrentUse(t *testing.T) {
	const workers = 200
	for _, async := range []bool{false, true} {
		name := "sync"
		if async {
			name = "async"
		}
		t.Run(name, func(t *testing.T) {
			cfg := config.DefaultAudit()
			cfg.Async = async
			cfg.BufferSize = workers
			store := repository.NewMemoryRequestLogStore()
			listener := &recordingListener{}
			svc := NewAuditService(cfg, store)
			svc.SetListener(listener)

			var wg sync.WaitGroup
			for i := 0; i < workers; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					r := httptest.NewRequest(http.MethodPost, "/api/cvs/", strings.NewReader(`{"n":1}`))
					r.RemoteAddr = "192.0.2.10:5000"
					actor := model.Anonymous()
					if i%2 == 0 {
						actor = model.Actor{ID: "7", Username: "ada", IsAuthenticated: true}
					}
					completeRequest(svc, r, http.StatusCreated, actor)
				}(i)
			}
			wg.Wait()
			svc.Close()

			assert.Equal(t, workers, store.Len())
			listener.mu.Lock()
			assert.Len(t, listener.records, workers)
			listener.mu.Unlock()

			records, _, err := store.Find(context.Background(), model.RequestLogFilter{}, 0, 0)
			require.NoError(t, err)
			ids := make(map[uint64]struct{}, len(records))
			authenticated := 0
			for _, rec := range records {
				ids[rec.ID] = struct{}{}
				if rec.IsAuthenticated {
					authenticated++
				}
			}
			assert.Len(t, ids, workers)
			assert.Equal(t, workers/2, authenticated)
		})
	}
}

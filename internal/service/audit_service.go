package service

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cvfolio/reqaudit/internal/config"
	"github.com/cvfolio/reqaudit/internal/model"
	"github.com/cvfolio/reqaudit/internal/pkg/logger"
	"github.com/cvfolio/reqaudit/internal/pkg/metrics"
	"github.com/sony/gobreaker/v2"
)

type RequestLogStore interface {
	Insert(ctx context.Context, rec *model.RequestLog) error
	Get(ctx context.Context, id uint64) (*model.RequestLog, error)
	Find(ctx context.Context, filter model.RequestLogFilter, offset, limit int) ([]*model.RequestLog, int64, error)
	Each(ctx context.Context, filter model.RequestLogFilter, fn func(*model.RequestLog) error) error
	DetachActor(ctx context.Context, actorID string) (int64, error)
	// Purge deletes records older than before. A non-zero maxID further
	// limits it to records with id <= maxID.
	Purge(ctx context.Context, before time.Time, maxID uint64) (int64, error)
}

// RecordListener is told about every record once it is stored.
type RecordListener interface {
	Publish(rec *model.RequestLog)
}

// Capture is the per-request state taken when a request starts.
type Capture struct {
	Start         time.Time
	Method        string
	Path          string
	RawQuery      string
	ForwardedFor  string
	RemoteAddr    string
	UserAgent     string
	ContentLength string
	RequestID     string

	body      *countingBody
	emptyBody bool
}

// ResponseInfo is what the interceptor needs from a finished response.
type ResponseInfo struct {
	Status int
	Size   int64
}

type countingBody struct {
	io.ReadCloser
	n   int64
	eof bool
}

func (b *countingBody) Read(p []byte) (int, error) {
	n, err := b.ReadCloser.Read(p)
	b.n += int64(n)
	if err == io.EOF {
		b.eof = true
	}
	return n, err
}

type AuditService struct {
	store    RequestLogStore
	breaker  *gobreaker.CircuitBreaker[struct{}]
	listener RecordListener
	now      func() time.Time

	excludedPaths     []string
	excludedMethods   map[string]struct{}
	authenticatedOnly bool

	async   bool
	logChan chan *model.RequestLog
	mu      sync.RWMutex
	closed  bool
	wg      sync.WaitGroup
}

func NewAuditService(cfg config.AuditConfig, store RequestLogStore) *AuditService {
	failures := cfg.BreakerFailures
	if failures == 0 {
		failures = 5
	}
	timeout := time.Duration(cfg.BreakerTimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	s := &AuditService{
		store:             store,
		now:               time.Now,
		excludedPaths:     append([]string(nil), cfg.ExcludedPaths...),
		excludedMethods:   make(map[string]struct{}, len(cfg.ExcludedMethods)),
		authenticatedOnly: cfg.AuthenticatedOnly,
		async:             cfg.Async,
	}
	for _, m := range cfg.ExcludedMethods {
		s.excludedMethods[strings.ToUpper(m)] = struct{}{}
	}

	s.breaker = gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:    "request-log-store",
		Timeout: timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("audit store breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	})

	if s.async {
		size := cfg.BufferSize
		if size <= 0 {
			size = 1000
		}
		s.logChan = make(chan *model.RequestLog, size)
		s.wg.Add(1)
		go s.processLogs()
	}
	return s
}

// SetListener registers the sink notified after each successful write.
func (s *AuditService) SetListener(l RecordListener) {
	s.listener = l
}

// Begin stamps the receive instant and starts counting body bytes.
func (s *AuditService) Begin(r *http.Request) *Capture {
	c := &Capture{
		Start:         s.now(),
		Method:        r.Method,
		Path:          r.URL.Path,
		RawQuery:      r.URL.RawQuery,
		ForwardedFor:  r.Header.Get("X-Forwarded-For"),
		RemoteAddr:    r.RemoteAddr,
		UserAgent:     r.Header.Get("User-Agent"),
		ContentLength: r.Header.Get("Content-Length"),
	}
	if c.Path == "" {
		c.Path = "/"
	}
	if c.ContentLength == "" && r.ContentLength > 0 {
		c.ContentLength = strconv.FormatInt(r.ContentLength, 10)
	}
	if r.Body == nil || r.Body == http.NoBody {
		c.emptyBody = true
	} else {
		c.body = &countingBody{ReadCloser: r.Body}
		r.Body = c.body
	}
	return c
}

// ShouldLog applies the exclusion rules in order.
func (s *AuditService) ShouldLog(method, path string, actor model.Actor) bool {
	if s.authenticatedOnly && !actor.IsAuthenticated {
		return false
	}
	if _, ok := s.excludedMethods[strings.ToUpper(method)]; ok {
		return false
	}
	for _, prefix := range s.excludedPaths {
		if strings.HasPrefix(path, prefix) {
			return false
		}
	}
	return true
}

// Complete turns a finished request into a stored record. It never panics
// and never reports errors to the caller; failures are logged and counted.
func (s *AuditService) Complete(ctx context.Context, c *Capture, resp ResponseInfo, actor model.Actor) {
	if c == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			metrics.AuditRecords.WithLabelValues(metrics.OutcomeFailed).Inc()
			logger.Error("audit capture panicked", "panic", r, "method", c.Method, "path", c.Path)
		}
	}()

	if !s.ShouldLog(c.Method, c.Path, actor) {
		metrics.AuditRecords.WithLabelValues(metrics.OutcomeSkipped).Inc()
		return
	}

	rec, err := s.buildRecord(c, resp, actor)
	if err != nil {
		metrics.AuditRecords.WithLabelValues(metrics.OutcomeFailed).Inc()
		logger.LogError(ctx, err, "failed to build request log", "method", c.Method, "path", c.Path)
		return
	}

	if s.async {
		s.enqueue(rec)
		return
	}
	s.write(context.WithoutCancel(ctx), rec)
}

func (s *AuditService) buildRecord(c *Capture, resp ResponseInfo, actor model.Actor) (*model.RequestLog, error) {
	elapsed := s.now().Sub(c.Start).Milliseconds()
	if elapsed < 0 {
		elapsed = 0
	}
	status := resp.Status
	respSize := resp.Size
	if respSize < 0 {
		respSize = 0
	}

	return model.CaptureRequestLog(model.RecordInput{
		Timestamp:         c.Start,
		Method:            c.Method,
		Path:              c.Path,
		QueryString:       c.RawQuery,
		RemoteIP:          ClientIP(c.ForwardedFor, c.RemoteAddr),
		UserAgent:         c.UserAgent,
		Actor:             actor,
		ResponseStatus:    &status,
		ResponseTimeMs:    &elapsed,
		RequestSizeBytes:  c.requestSize(),
		ResponseSizeBytes: &respSize,
		RequestID:         c.RequestID,
	})
}

func (c *Capture) requestSize() *int64 {
	if v := strings.TrimSpace(c.ContentLength); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n >= 0 {
			return &n
		}
	}
	if c.emptyBody {
		var zero int64
		return &zero
	}
	if c.body != nil && c.body.eof {
		n := c.body.n
		return &n
	}
	return nil
}

// ClientIP prefers the first X-Forwarded-For hop, then the connection
// address. Anything that does not parse as an IP yields "".
func ClientIP(forwardedFor, remoteAddr string) string {
	candidate := ""
	if forwardedFor != "" {
		candidate = strings.TrimSpace(strings.Split(forwardedFor, ",")[0])
	}
	if candidate == "" {
		candidate = remoteAddr
		if host, _, err := net.SplitHostPort(remoteAddr); err == nil {
			candidate = host
		}
	}
	addr, err := netip.ParseAddr(candidate)
	if err != nil {
		return ""
	}
	return addr.WithZone("").String()
}

func (s *AuditService) write(ctx context.Context, rec *model.RequestLog) {
	start := time.Now()
	_, err := s.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, s.store.Insert(ctx, rec)
	})
	metrics.StoreWriteLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.AuditRecords.WithLabelValues(metrics.OutcomeFailed).Inc()
		logger.Error("failed to store request log", "error", err, "method", rec.Method, "path", rec.Path)
		return
	}
	metrics.AuditRecords.WithLabelValues(metrics.OutcomeWritten).Inc()
	if s.listener != nil {
		s.listener.Publish(rec)
	}
}

func (s *AuditService) enqueue(rec *model.RequestLog) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		metrics.AuditRecords.WithLabelValues(metrics.OutcomeDropped).Inc()
		return
	}
	select {
	case s.logChan <- rec:
	default:
		metrics.AuditRecords.WithLabelValues(metrics.OutcomeDropped).Inc()
		logger.Warn("audit buffer full, dropping request log", "method", rec.Method, "path", rec.Path)
	}
}

func (s *AuditService) processLogs() {
	defer s.wg.Done()
	for rec := range s.logChan {
		s.write(context.Background(), rec)
	}
}

// Close stops accepting records and waits for queued ones to be written.
func (s *AuditService) Close() {
	if !s.async {
		return
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.logChan)
	s.mu.Unlock()
	s.wg.Wait()
}

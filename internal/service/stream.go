package service

import (
	"sync"

	"github.com/cvfolio/reqaudit/internal/model"
	"github.com/cvfolio/reqaudit/internal/pkg/metrics"
)

// StreamHub fans newly stored records out to live-tail subscribers. A slow
// subscriber misses messages rather than holding up the writer.
type StreamHub struct {
	mu     sync.Mutex
	subs   map[chan *model.RequestLog]struct{}
	buffer int
	closed bool
}

func NewStreamHub(buffer int) *StreamHub {
	if buffer <= 0 {
		buffer = 64
	}
	return &StreamHub{subs: make(map[chan *model.RequestLog]struct{}), buffer: buffer}
}

// Subscribe returns a channel of stored records. It is closed by
// Unsubscribe or Close.
func (h *StreamHub) Subscribe() chan *model.RequestLog {
	ch := make(chan *model.RequestLog, h.buffer)
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return ch
	}
	h.subs[ch] = struct{}{}
	metrics.StreamClients.Inc()
	return ch
}

func (h *StreamHub) Unsubscribe(ch chan *model.RequestLog) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[ch]; !ok {
		return
	}
	delete(h.subs, ch)
	close(ch)
	metrics.StreamClients.Dec()
}

func (h *StreamHub) Publish(rec *model.RequestLog) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		cp := *rec
		select {
		case ch <- &cp:
		default:
		}
	}
}

func (h *StreamHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for ch := range h.subs {
		delete(h.subs, ch)
		close(ch)
		metrics.StreamClients.Dec()
	}
}

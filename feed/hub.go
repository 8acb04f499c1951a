// Package feed relays live candle updates to remote watchers over gRPC.
package feed

import (
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yitech/livecandles/model/candle"
)

const (
	listenerBuffer = 256
	replayDepth    = 100
)

type listener struct {
	symbol string
	ch     chan candle.Candle
}

// Hub fans candle updates out to listeners and keeps the most recent
// updates per symbol so new listeners can catch up.
type Hub struct {
	mu        sync.RWMutex
	recent    map[string][]candle.Candle
	listeners map[string]listener
	dropped   int
}

// NewHub returns an empty Hub.
func NewHub() *Hub {
	return &Hub{
		recent:    make(map[string][]candle.Candle),
		listeners: make(map[string]listener),
	}
}

// Publish records c and delivers it to every listener for its symbol.
// Slow listeners miss updates rather than block the publisher.
func (h *Hub) Publish(c candle.Candle) {
	key := strings.ToUpper(c.Symbol)

	h.mu.Lock()
	defer h.mu.Unlock()

	// recent stays ordered by start; a seeded series may arrive after
	// the first live updates.
	rs := h.recent[key]
	i, found := slices.BinarySearchFunc(rs, c.Start, func(e candle.Candle, t time.Time) int {
		return e.Start.Compare(t)
	})
	if found {
		rs[i] = c
	} else {
		rs = slices.Insert(rs, i, c)
		if len(rs) > 2*replayDepth {
			rs = rs[len(rs)-replayDepth:]
		}
	}
	h.recent[key] = rs

	for _, l := range h.listeners {
		if l.symbol != key {
			continue
		}
		select {
		case l.ch <- c:
		default:
			h.dropped++
		}
	}
}

// Recent returns up to replayDepth of the newest updates for symbol.
func (h *Hub) Recent(symbol string) []candle.Candle {
	h.mu.RLock()
	defer h.mu.RUnlock()
	rs := h.recent[strings.ToUpper(symbol)]
	if len(rs) > replayDepth {
		rs = rs[len(rs)-replayDepth:]
	}
	return append([]candle.Candle(nil), rs...)
}

// Subscribe registers a listener for symbol and returns its id and
// channel. The channel is closed by Unsubscribe.
func (h *Hub) Subscribe(symbol string) (string, <-chan candle.Candle) {
	id := uuid.New().String()
	ch := make(chan candle.Candle, listenerBuffer)
	h.mu.Lock()
	h.listeners[id] = listener{symbol: strings.ToUpper(symbol), ch: ch}
	h.mu.Unlock()
	return id, ch
}

// Unsubscribe removes a listener and closes its channel.
func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	l, ok := h.listeners[id]
	delete(h.listeners, id)
	h.mu.Unlock()
	if ok {
		close(l.ch)
	}
}

// Listeners returns the number of registered listeners.
func (h *Hub) Listeners() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.listeners)
}

// Dropped returns how many deliveries were skipped for slow listeners.
func (h *Hub) Dropped() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.dropped
}

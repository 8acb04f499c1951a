// Package diag keeps the bounded diagnostics log shown by the UI: decode
// failures, dropped trades, connectivity transitions and fetch errors.
package diag

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Entry is a single diagnostic record.
type Entry struct {
	Time    time.Time
	Level   zerolog.Level
	Message string
}

// String formats the entry as "[15:04:05] message" in local time.
func (e Entry) String() string {
	return fmt.Sprintf("[%s] %s", e.Time.Local().Format("15:04:05"), e.Message)
}

const (
	DefaultCapacity = 100
	DefaultRate     = 5
	DefaultBurst    = 10
)

// Config controls buffer size and coalescing. Zero values take defaults;
// a negative Rate disables coalescing.
type Config struct {
	Capacity int
	Rate     rate.Limit
	Burst    int
	Now      func() time.Time
}

// Log is a fixed-capacity ring of entries. Bursts beyond the configured
// rate are counted rather than stored, and the count is written as a
// single summary entry once the rate allows again, either ahead of the
// next admitted entry or on the next Recent call.
type Log struct {
	mu      sync.RWMutex
	entries []Entry
	head    int
	size    int

	limiter    *rate.Limiter
	suppressed int
	now        func() time.Time
}

// New allocates a log.
func New(cfg Config) *Log {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCapacity
	}
	if cfg.Rate == 0 {
		cfg.Rate = DefaultRate
	}
	if cfg.Rate < 0 {
		cfg.Rate = rate.Inf
	}
	if cfg.Burst <= 0 {
		cfg.Burst = DefaultBurst
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Log{
		entries: make([]Entry, cfg.Capacity),
		limiter: rate.NewLimiter(cfg.Rate, cfg.Burst),
		now:     cfg.Now,
	}
}

// Add records e, stamping it with the current time if e.Time is zero.
// It reports false when the entry was coalesced away.
func (l *Log) Add(e Entry) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if e.Time.IsZero() {
		e.Time = now
	}
	if !l.limiter.AllowN(now, 1) {
		l.suppressed++
		return false
	}
	l.summarize(now)
	l.push(e)
	return true
}

func (l *Log) summarize(now time.Time) {
	if l.suppressed == 0 {
		return
	}
	l.push(Entry{
		Time:    now,
		Level:   zerolog.WarnLevel,
		Message: fmt.Sprintf("suppressed %d diagnostics", l.suppressed),
	})
	l.suppressed = 0
}

// Addf is Add with a formatted message.
func (l *Log) Addf(level zerolog.Level, format string, args ...any) bool {
	return l.Add(Entry{Level: level, Message: fmt.Sprintf(format, args...)})
}

func (l *Log) push(e Entry) {
	l.entries[l.head] = e
	l.head = (l.head + 1) % len(l.entries)
	if l.size < len(l.entries) {
		l.size++
	}
}

// Recent returns the last n entries in chronological order. A pending
// summary is written first if the rate allows it.
func (l *Log) Recent(n int) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.suppressed > 0 {
		if now := l.now(); l.limiter.AllowN(now, 1) {
			l.summarize(now)
		}
	}

	if n > l.size {
		n = l.size
	}
	if n <= 0 {
		return nil
	}
	out := make([]Entry, n)
	start := (l.head - n + len(l.entries)) % len(l.entries)
	for i := 0; i < n; i++ {
		out[i] = l.entries[(start+i)%len(l.entries)]
	}
	return out
}

// Len returns the number of stored entries.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.size
}

// Suppressed returns how many entries are waiting to be summarized.
func (l *Log) Suppressed() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.suppressed
}

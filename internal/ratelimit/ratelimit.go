// Package ratelimit counts requests per client in sliding time windows.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Policy caps a named action at Limit events per Window.
type Policy struct {
	Name   string
	Limit  int
	Window time.Duration
}

var (
	LoginPolicy        = Policy{Name: "login", Limit: 5, Window: 5 * time.Minute}
	AnalyzePolicy      = Policy{Name: "analyze", Limit: 10, Window: time.Hour}
	SampleUploadPolicy = Policy{Name: "sample_upload", Limit: 20, Window: time.Hour}
)

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration // set when denied
}

// Limiter records an event for key under policy and decides whether it
// is allowed. Denied events are not recorded.
type Limiter interface {
	Allow(ctx context.Context, p Policy, key string) (Decision, error)
}

// MemoryLimiter keeps event timestamps in process memory.
type MemoryLimiter struct {
	mu       sync.Mutex
	events   map[string][]time.Time
	windows  map[string]time.Duration
	now      func() time.Time
	interval time.Duration
	stop     chan struct{}
	stopOnce sync.Once
}

func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{
		events:   make(map[string][]time.Time),
		windows:  make(map[string]time.Duration),
		now:      time.Now,
		interval: time.Minute,
		stop:     make(chan struct{}),
	}
}

func (l *MemoryLimiter) Allow(ctx context.Context, p Policy, key string) (Decision, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	k := p.Name + ":" + key
	l.windows[k] = p.Window
	events := prune(l.events[k], now.Add(-p.Window))

	if len(events) >= p.Limit {
		l.events[k] = events
		return Decision{RetryAfter: events[0].Add(p.Window).Sub(now)}, nil
	}
	l.events[k] = append(events, now)
	return Decision{Allowed: true}, nil
}

// prune drops timestamps at or before cutoff. events is sorted.
func prune(events []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(events) && !events[i].After(cutoff) {
		i++
	}
	return events[i:]
}

// Start runs a janitor that forgets idle keys.
func (l *MemoryLimiter) Start() {
	go func() {
		ticker := time.NewTicker(l.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				l.sweep()
			case <-l.stop:
				return
			}
		}
	}()
}

func (l *MemoryLimiter) Stop() {
	l.stopOnce.Do(func() { close(l.stop) })
}

func (l *MemoryLimiter) sweep() {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	for k, events := range l.events {
		events = prune(events, now.Add(-l.windows[k]))
		if len(events) == 0 {
			delete(l.events, k)
			delete(l.windows, k)
			continue
		}
		l.events[k] = events
	}
}

// Keys returns the number of tracked keys.
func (l *MemoryLimiter) Keys() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.events)
}

package utils

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"time"
)

// WorkerPool runs jobs on a bounded number of goroutines and spaces out job
// starts by a minimum interval, so scrapers sharing a pool never burst a site.
type WorkerPool struct {
	interval  time.Duration
	semaphore chan struct{}
	wg        sync.WaitGroup

	mu        sync.Mutex
	lastStart time.Time
}

// NewWorkerPool creates a WorkerPool with the given concurrency and minimum
// spacing in milliseconds between job starts.
func NewWorkerPool(maxWorkers, rateLimitMs int) *WorkerPool {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	return &WorkerPool{
		interval:  time.Duration(rateLimitMs) * time.Millisecond,
		semaphore: make(chan struct{}, maxWorkers),
	}
}

// Submit enqueues a job. It blocks while the pool is saturated and returns
// false without running the job if ctx is cancelled first.
func (wp *WorkerPool) Submit(ctx context.Context, job func(ctx context.Context)) bool {
	select {
	case wp.semaphore <- struct{}{}:
	case <-ctx.Done():
		return false
	}

	wp.wg.Add(1)
	go func() {
		defer wp.wg.Done()
		defer func() { <-wp.semaphore }()

		if !wp.waitTurn(ctx) {
			return
		}
		job(ctx)
	}()
	return true
}

// Wait blocks until all submitted jobs have completed.
func (wp *WorkerPool) Wait() {
	wp.wg.Wait()
}

// waitTurn reserves the next start slot and sleeps until it arrives.
func (wp *WorkerPool) waitTurn(ctx context.Context) bool {
	wp.mu.Lock()
	now := time.Now()
	start := wp.lastStart.Add(wp.interval)
	if start.Before(now) {
		start = now
	}
	wp.lastStart = start
	wp.mu.Unlock()

	wait := time.Until(start)
	if wait <= 0 {
		return ctx.Err() == nil
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// URLSet is a thread-safe set of listing URLs. Keys are canonicalised so
// tracking parameters and fragments do not defeat deduplication.
type URLSet struct {
	mu   sync.RWMutex
	seen map[string]struct{}
}

// NewURLSet creates an empty URLSet.
func NewURLSet() *URLSet {
	return &URLSet{seen: make(map[string]struct{})}
}

// Add returns true if the URL was newly added, false if already present.
func (s *URLSet) Add(rawURL string) bool {
	key := CanonicalURL(rawURL)
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.seen[key]; exists {
		return false
	}
	s.seen[key] = struct{}{}
	return true
}

// Contains returns true if the URL has already been seen.
func (s *URLSet) Contains(rawURL string) bool {
	key := CanonicalURL(rawURL)
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, exists := s.seen[key]
	return exists
}

// Size returns the number of unique URLs tracked.
func (s *URLSet) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.seen)
}

// CanonicalURL lowercases the host and drops the query string, fragment and
// trailing slash. Unparseable input is returned trimmed.
func CanonicalURL(rawURL string) string {
	rawURL = strings.TrimSpace(rawURL)
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return rawURL
	}
	u.Host = strings.ToLower(u.Host)
	u.RawQuery = ""
	u.Fragment = ""
	u.Path = strings.TrimSuffix(u.Path, "/")
	return u.String()
}

package authapi

import (
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"
)

// sweepAbove triggers a pass that drops keys whose failures all left the window.
const sweepAbove = 4096

// loginThrottle counts failed logins per bound prefix in a sliding window.
// A nil *loginThrottle allows everything.
type loginThrottle struct {
	mu       sync.Mutex
	limit    int
	window   time.Duration
	failures map[string][]time.Time
}

func newLoginThrottle(limit int, window time.Duration) *loginThrottle {
	if limit <= 0 || window <= 0 {
		return nil
	}
	return &loginThrottle{limit: limit, window: window, failures: make(map[string][]time.Time)}
}

// check reports whether key is blocked at now and for how long.
func (t *loginThrottle) check(key string, now time.Time) (bool, time.Duration) {
	if t == nil {
		return false, 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	kept := pruneWindow(t.failures[key], now, t.window)
	t.store(key, kept)
	return evaluateWindowThrottle(now, kept, t.limit, t.window)
}

func (t *loginThrottle) fail(key string, now time.Time) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.failures) > sweepAbove {
		for k, v := range t.failures {
			t.store(k, pruneWindow(v, now, t.window))
		}
	}
	t.failures[key] = append(pruneWindow(t.failures[key], now, t.window), now)
}

func (t *loginThrottle) reset(key string) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.failures, key)
}

func (t *loginThrottle) store(key string, v []time.Time) {
	if len(v) == 0 {
		delete(t.failures, key)
		return
	}
	t.failures[key] = v
}

func pruneWindow(events []time.Time, now time.Time, window time.Duration) []time.Time {
	cut := now.Add(-window)
	dst := events[:0]
	for _, ts := range events {
		if ts.After(cut) {
			dst = append(dst, ts)
		}
	}
	return dst
}

// evaluateWindowThrottle blocks once limit failures fall inside window. The
// retry delay is the time until enough of them age out to drop below limit.
func evaluateWindowThrottle(now time.Time, failures []time.Time, limit int, window time.Duration) (bool, time.Duration) {
	if limit <= 0 || window <= 0 {
		return false, 0
	}
	cut := now.Add(-window)
	in := make([]time.Time, 0, len(failures))
	for _, ts := range failures {
		if ts.After(cut) && !ts.After(now) {
			in = append(in, ts)
		}
	}
	if len(in) < limit {
		return false, 0
	}
	sort.Slice(in, func(i, j int) bool { return in[i].Before(in[j]) })
	retry := in[len(in)-limit].Add(window).Sub(now)
	if retry < 0 {
		retry = 0
	}
	return true, retry
}

func writeRateLimited(w http.ResponseWriter, retryAfter time.Duration) {
	if retryAfter > 0 {
		secs := int64((retryAfter + time.Second - 1) / time.Second)
		w.Header().Set("Retry-After", strconv.FormatInt(secs, 10))
	}
	writeStatus(w, http.StatusTooManyRequests, "too many attempts")
}

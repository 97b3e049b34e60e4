package httpapi

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"math"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"
)

// csrfSigner issues stateless CSRF tokens bound to a time window. A token is
// accepted during the window it was issued in and the one after it.
type csrfSigner struct {
	secret []byte
	window time.Duration
	now    func() time.Time
}

func newCSRFSigner(secret []byte, window time.Duration) *csrfSigner {
	if window <= 0 {
		window = time.Hour
	}
	return &csrfSigner{secret: secret, window: window, now: time.Now}
}

func (c *csrfSigner) epoch(t time.Time) int64 {
	return t.UTC().UnixNano() / int64(c.window)
}

func (c *csrfSigner) tokenFor(epoch int64) string {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(epoch))
	mac := hmac.New(sha256.New, c.secret)
	mac.Write([]byte("ledger-csrf:"))
	mac.Write(buf[:])
	return hex.EncodeToString(mac.Sum(nil))
}

func (c *csrfSigner) Issue() string {
	return c.tokenFor(c.epoch(c.now()))
}

func (c *csrfSigner) Valid(token string) bool {
	if token == "" {
		return false
	}
	current := c.epoch(c.now())
	for _, e := range [...]int64{current, current - 1} {
		if hmac.Equal([]byte(token), []byte(c.tokenFor(e))) {
			return true
		}
	}
	return false
}

// Login is called before a CSRF token can be fetched.
var csrfExemptPaths = map[string]bool{
	"/api/v1/auth/login": true,
}

func (a *API) checkCSRF(w http.ResponseWriter, r *http.Request) bool {
	if !isStateChanging(r.Method) || csrfExemptPaths[r.URL.Path] {
		return true
	}
	if !a.csrf.Valid(strings.TrimSpace(r.Header.Get("X-CSRF-Token"))) {
		a.writeError(w, http.StatusForbidden, errors.New("missing or invalid CSRF token"))
		return false
	}
	return true
}

// attemptLimiter allows at most max attempts per key inside a sliding window.
// Keys without recent attempts are swept once per window.
type attemptLimiter struct {
	mu        sync.Mutex
	max       int
	window    time.Duration
	now       func() time.Time
	attempts  map[string][]time.Time
	lastSweep time.Time
}

func newAttemptLimiter(max int, window time.Duration) *attemptLimiter {
	if max < 1 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &attemptLimiter{max: max, window: window, now: time.Now, attempts: make(map[string][]time.Time)}
}

// Allow records an attempt for key. A rejected attempt is not recorded, and
// the returned duration is how long until the oldest attempt leaves the window.
func (l *attemptLimiter) Allow(key string) (bool, time.Duration) {
	if l == nil {
		return true, 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.window)
	if now.Sub(l.lastSweep) >= l.window {
		for k, ts := range l.attempts {
			if len(within(ts, cutoff)) == 0 {
				delete(l.attempts, k)
			}
		}
		l.lastSweep = now
	}

	recent := within(l.attempts[key], cutoff)
	if len(recent) >= l.max {
		l.attempts[key] = recent
		return false, recent[0].Sub(cutoff)
	}
	l.attempts[key] = append(recent, now)
	return true, 0
}

func (l *attemptLimiter) tracked() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.attempts)
}

// within drops the chronological prefix at or before cutoff.
func within(ts []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(ts) && !ts[i].After(cutoff) {
		i++
	}
	return ts[i:]
}

func (a *API) writeThrottled(w http.ResponseWriter, wait time.Duration, msg string) {
	seconds := int(math.Ceil(wait.Seconds()))
	if seconds < 1 {
		seconds = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(seconds))
	a.writeError(w, http.StatusTooManyRequests, errors.New(msg))
}

// clientKey is the remote IP used to bucket rate limits.
func clientKey(r *http.Request) string {
	remote := strings.TrimSpace(r.RemoteAddr)
	if ap, err := netip.ParseAddrPort(remote); err == nil {
		return ap.Addr().Unmap().String()
	}
	if host, _, err := net.SplitHostPort(remote); err == nil {
		return host
	}
	if remote == "" {
		return "unknown"
	}
	return remote
}

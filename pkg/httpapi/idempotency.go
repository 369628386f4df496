package httpapi

import (
	"bytes"
	"net/http"
	"sync"
	"time"

	"github.com/takeoffworks/estimator/pkg/auth"
)

// cachedResponse stores a previously-seen response for idempotent replay.
type cachedResponse struct {
	StatusCode int
	Body       []byte
	CachedAt   time.Time
}

// idempotencyStore holds cached responses keyed by (user, Idempotency-Key).
// Job creation debits credits before enqueuing, so a client retry after a
// dropped response must not double-charge: replaying the cached body is
// cheaper and safer than asking callers to reconcile balances by hand.
type idempotencyStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]cachedResponse
}

func newIdempotencyStore(ttl time.Duration) *idempotencyStore {
	return &idempotencyStore{ttl: ttl, entries: make(map[string]cachedResponse)}
}

func (s *idempotencyStore) get(key string) (cachedResponse, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[key]
	if !ok {
		return cachedResponse{}, false
	}
	if time.Since(entry.CachedAt) > s.ttl {
		delete(s.entries, key)
		return cachedResponse{}, false
	}
	return entry, true
}

func (s *idempotencyStore) set(key string, status int, body []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = cachedResponse{StatusCode: status, Body: body, CachedAt: time.Now()}
}

// idempotentRecorder buffers a handler's response so it can be cached
// without double-writing to the real ResponseWriter.
type idempotentRecorder struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (rec *idempotentRecorder) WriteHeader(code int) {
	rec.status = code
	rec.ResponseWriter.WriteHeader(code)
}

func (rec *idempotentRecorder) Write(b []byte) (int, error) {
	rec.body.Write(b)
	return rec.ResponseWriter.Write(b)
}

// withIdempotency replays a cached response for a repeated Idempotency-Key
// header from the same caller instead of re-running next, which would
// re-debit credits on every client retry of a POST /jobs call whose
// response never made it back (timeout, dropped connection).
func withIdempotency(store *idempotencyStore, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("Idempotency-Key")
		if key == "" {
			next(w, r)
			return
		}
		userID, _ := auth.GetUserID(r.Context())
		cacheKey := userID + ":" + key

		if cached, ok := store.get(cacheKey); ok {
			w.Header().Set("Idempotency-Replayed", "true")
			w.WriteHeader(cached.StatusCode)
			w.Write(cached.Body)
			return
		}

		rec := &idempotentRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)
		if rec.status < http.StatusInternalServerError {
			store.set(cacheKey, rec.status, rec.body.Bytes())
		}
	}
}

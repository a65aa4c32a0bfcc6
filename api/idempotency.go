package api

import (
	"bytes"
	"net/http"
	"time"

	"github.com/patrickmn/go-cache"
)

// IdempotencyHeader names the client supplied retry key.
const IdempotencyHeader = "Idempotency-Key"

type storedResponse struct {
	status int
	header http.Header
	body   []byte
}

// idempotency replays the first successful response recorded for a key.
// Failed attempts are not stored so a retry is evaluated again.
type idempotency struct {
	cache *cache.Cache
}

func newIdempotency(ttl time.Duration) *idempotency {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &idempotency{cache: cache.New(ttl, 2*ttl)}
}

func (i *idempotency) lookup(key string) (storedResponse, bool) {
	v, ok := i.cache.Get(key)
	if !ok {
		return storedResponse{}, false
	}
	return v.(storedResponse), true
}

func (i *idempotency) store(key string, rec *recorder) {
	if rec.status < 200 || rec.status >= 300 {
		return
	}
	i.cache.SetDefault(key, storedResponse{status: rec.status, header: rec.header.Clone(), body: rec.buf.Bytes()})
}

// recorder captures a handler response so it can be cached and then written.
type recorder struct {
	header http.Header
	status int
	buf    bytes.Buffer
}

func newRecorder() *recorder { return &recorder{header: http.Header{}, status: http.StatusOK} }

func (r *recorder) Header() http.Header         { return r.header }
func (r *recorder) WriteHeader(code int)        { r.status = code }
func (r *recorder) Write(b []byte) (int, error) { return r.buf.Write(b) }

func (r *recorder) flush(w http.ResponseWriter) {
	storedResponse{status: r.status, header: r.header, body: r.buf.Bytes()}.write(w, false)
}

func (r storedResponse) write(w http.ResponseWriter, replayed bool) {
	for k, v := range r.header {
		w.Header()[k] = v
	}
	if replayed {
		w.Header().Set("Idempotent-Replayed", "true")
	}
	w.WriteHeader(r.status)
	_, _ = w.Write(r.body)
}

// wrap applies replay to h, keyed by actor, route variables and header.
func (i *idempotency) wrap(scope func(*http.Request) string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(IdempotencyHeader)
		if key == "" {
			h(w, r)
			return
		}
		key = scope(r) + "|" + key
		if prev, ok := i.lookup(key); ok {
			idempotentReplays.Inc()
			prev.write(w, true)
			return
		}
		rec := newRecorder()
		h(rec, r)
		i.store(key, rec)
		rec.flush(w)
	}
}

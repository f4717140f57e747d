package relay

import (
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	// DefaultChannelTTL is how long a channel lives after its last write.
	DefaultChannelTTL = 2 * time.Minute
	// DefaultMaxChannels caps the live channels held in memory.
	DefaultMaxChannels = 1024
	// DefaultCreateRate and DefaultCreateBurst throttle channel creation
	// per remote host.
	DefaultCreateRate  = 1.0
	DefaultCreateBurst = 10
)

type slot struct {
	data        []byte
	contentType string
	etag        string
	expires     time.Time
}

// Server is an in-memory MSC3886 rendezvous relay.
type Server struct {
	ttl         time.Duration
	log         zerolog.Logger
	now         func() time.Time
	maxChannels int
	createRate  float64
	createBurst int
	creates     *hostLimiter

	mu    sync.Mutex
	slots map[string]*slot
}

// Option configures a Server.
type Option func(*Server)

// WithMaxChannels caps the number of live channels. Zero or less removes
// the cap.
func WithMaxChannels(n int) Option { return func(s *Server) { s.maxChannels = n } }

// WithCreateRate throttles channel creation per remote host. A rate of zero
// or less disables throttling.
func WithCreateRate(perSecond float64, burst int) Option {
	return func(s *Server) { s.createRate, s.createBurst = perSecond, burst }
}

// NewServer returns a relay whose channels expire ttl after their last
// write.
func NewServer(ttl time.Duration, log zerolog.Logger, opts ...Option) *Server {
	if ttl <= 0 {
		ttl = DefaultChannelTTL
	}
	s := &Server{
		ttl:         ttl,
		log:         log.With().Str("component", "relay").Logger(),
		now:         time.Now,
		maxChannels: DefaultMaxChannels,
		createRate:  DefaultCreateRate,
		createBurst: DefaultCreateBurst,
		slots:       make(map[string]*slot),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.creates = newHostLimiter(s.createRate, s.createBurst, s.now)
	return s
}

// Handler serves the relay API at the root of the mux.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /{$}", s.create)
	mux.HandleFunc("GET /{id}", s.read)
	mux.HandleFunc("PUT /{id}", s.write)
	mux.HandleFunc("DELETE /{id}", s.remove)
	return s.accessLog(mux)
}

// Len reports the number of live channels.
func (s *Server) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked()
	return len(s.slots)
}

func (s *Server) create(w http.ResponseWriter, r *http.Request) {
	if !s.creates.Allow(r) {
		w.Header().Set("Retry-After", "1")
		http.Error(w, "too many rendezvous", http.StatusTooManyRequests)
		return
	}
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	id := uuid.NewString()
	sl := &slot{data: body, contentType: r.Header.Get("Content-Type")}

	s.mu.Lock()
	s.sweepLocked()
	if s.maxChannels > 0 && len(s.slots) >= s.maxChannels {
		s.mu.Unlock()
		s.log.Warn().Int("channels", s.maxChannels).Msg("relay full")
		http.Error(w, "relay full", http.StatusServiceUnavailable)
		return
	}
	s.touchLocked(sl)
	s.slots[id] = sl
	s.mu.Unlock()

	w.Header().Set("Location", "/"+id)
	writeHeaders(w, sl)
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) read(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	sl, ok := s.lookupLocked(r.PathValue("id"))
	var snapshot slot
	if ok {
		snapshot = *sl
	}
	s.mu.Unlock()
	if !ok {
		http.Error(w, "unknown rendezvous", http.StatusNotFound)
		return
	}

	writeHeaders(w, &snapshot)
	if r.Header.Get("If-None-Match") == snapshot.etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	if snapshot.contentType != "" {
		w.Header().Set("Content-Type", snapshot.contentType)
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(snapshot.data)
}

func (s *Server) write(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	s.mu.Lock()
	sl, found := s.lookupLocked(r.PathValue("id"))
	if !found {
		s.mu.Unlock()
		http.Error(w, "unknown rendezvous", http.StatusNotFound)
		return
	}
	if match := r.Header.Get("If-Match"); match != "" && match != sl.etag {
		s.mu.Unlock()
		http.Error(w, "etag mismatch", http.StatusPreconditionFailed)
		return
	}
	sl.data = body
	sl.contentType = r.Header.Get("Content-Type")
	s.touchLocked(sl)
	snapshot := *sl
	s.mu.Unlock()

	writeHeaders(w, &snapshot)
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) remove(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	s.mu.Lock()
	_, ok := s.lookupLocked(id)
	delete(s.slots, id)
	s.mu.Unlock()
	if !ok {
		http.Error(w, "unknown rendezvous", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) lookupLocked(id string) (*slot, bool) {
	sl, ok := s.slots[id]
	if !ok {
		return nil, false
	}
	if !s.now().Before(sl.expires) {
		delete(s.slots, id)
		return nil, false
	}
	return sl, true
}

func (s *Server) touchLocked(sl *slot) {
	sl.etag = strconv.Quote(uuid.NewString())
	sl.expires = s.now().Add(s.ttl)
}

func (s *Server) sweepLocked() {
	now := s.now()
	for id, sl := range s.slots {
		if !now.Before(sl.expires) {
			delete(s.slots, id)
		}
	}
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxFrame))
	if err != nil {
		http.Error(w, "payload too large", http.StatusRequestEntityTooLarge)
		return nil, false
	}
	return body, true
}

func writeHeaders(w http.ResponseWriter, sl *slot) {
	w.Header().Set("ETag", sl.etag)
	w.Header().Set("Expires", sl.expires.UTC().Format(http.TimeFormat))
	w.Header().Set("Cache-Control", "no-store")
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	n, err := r.ResponseWriter.Write(b)
	r.bytes += n
	return n, err
}

// accessLog records method, path, remote, status, bytes and duration.
func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)
		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("remote", r.RemoteAddr).
			Int("status", rec.status).
			Int("bytes", rec.bytes).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}

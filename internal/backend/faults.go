package backend

import (
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
)

// Fault makes a route misbehave. A zero Status only applies Delay. Times
// limits how many requests are affected; zero means until cleared.
type Fault struct {
	Status  int
	Message string
	Delay   time.Duration
	Times   int
}

type faultTable struct {
	mu     sync.Mutex
	faults map[string]*Fault
}

func faultKey(method, pattern string) string {
	return method + " " + pattern
}

func (t *faultTable) set(method, pattern string, f Fault) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.faults == nil {
		t.faults = make(map[string]*Fault)
	}
	t.faults[faultKey(method, pattern)] = &f
}

func (t *faultTable) clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.faults = nil
}

func (t *faultTable) take(method, pattern string) (Fault, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := faultKey(method, pattern)
	f, ok := t.faults[key]
	if !ok {
		return Fault{}, false
	}
	out := *f
	if f.Times > 0 {
		f.Times--
		if f.Times == 0 {
			delete(t.faults, key)
		}
	}
	return out, true
}

// InjectFault registers a fault for the route pattern, e.g.
// InjectFault(http.MethodGet, "/orders", Fault{Status: 503}).
func (s *Server) InjectFault(method, pattern string, f Fault) {
	s.faults.set(method, pattern, f)
}

func (s *Server) ClearFaults() {
	s.faults.clear()
}

// injectFaults runs after routing, so the matched pattern is known.
func (s *Server) injectFaults(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		pattern := chi.RouteContext(r.Context()).RoutePattern()
		f, ok := s.faults.take(r.Method, pattern)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}
		if f.Delay > 0 {
			timer := time.NewTimer(f.Delay)
			select {
			case <-timer.C:
			case <-r.Context().Done():
				timer.Stop()
				return
			}
		}
		if f.Status == 0 {
			next.ServeHTTP(w, r)
			return
		}
		msg := f.Message
		if msg == "" {
			msg = http.StatusText(f.Status)
		}
		writeError(w, f.Status, msg)
	})
}

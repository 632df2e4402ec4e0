// Package remotetest provides an in-process back-office API and a recording
// SQL executor for handler and service tests.
package remotetest

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/taxdesk/taxdesk/internal/remote"
)

// Server is an httptest backend recording every call it receives.
type Server struct {
	mu     sync.Mutex
	calls  []string
	bodies []map[string]any
	auth   []string
	handle http.HandlerFunc
}

// New starts a Server and returns a client pointed at its /api root.
func New(t testing.TB, handle http.HandlerFunc, opts ...remote.Option) (*Server, *remote.Client) {
	t.Helper()
	s := &Server{handle: handle}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.calls = append(s.calls, r.Method+" "+r.URL.RequestURI())
		s.auth = append(s.auth, r.Header.Get("Authorization"))
		if r.Body != nil {
			raw, _ := io.ReadAll(r.Body)
			var body map[string]any
			if json.Unmarshal(raw, &body) == nil {
				s.bodies = append(s.bodies, body)
			}
		}
		handle := s.handle
		s.mu.Unlock()
		handle(w, r)
	}))
	t.Cleanup(srv.Close)
	return s, remote.NewClient(srv.URL+"/api", time.Second, opts...)
}

// SetHandler swaps the response behavior mid-test.
func (s *Server) SetHandler(handle http.HandlerFunc) {
	s.mu.Lock()
	s.handle = handle
	s.mu.Unlock()
}

// Calls returns "METHOD /uri" for every request so far.
func (s *Server) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

// CountPrefix counts calls starting with prefix.
func (s *Server) CountPrefix(prefix string) int {
	n := 0
	for _, c := range s.Calls() {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

// Bodies returns every JSON object body received.
func (s *Server) Bodies() []map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]map[string]any(nil), s.bodies...)
}

// Auth returns the Authorization header of every request.
func (s *Server) Auth() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.auth...)
}

// WriteJSON writes body verbatim with the given status.
func WriteJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}

// Execer records SQL executed by the audit logger and idempotency store.
// Claiming the same idempotency key twice fails with a unique violation.
type Execer struct {
	mu    sync.Mutex
	sql   []string
	seen  map[string]bool
	Fails error
}

// Exec implements shared.Execer.
func (f *Execer) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Fails != nil {
		return pgconn.CommandTag{}, f.Fails
	}
	if f.seen == nil {
		f.seen = map[string]bool{}
	}
	if strings.HasPrefix(sql, "INSERT INTO idempotency_keys") {
		key := args[0].(string)
		if f.seen[key] {
			return pgconn.CommandTag{}, &pgconn.PgError{Code: "23505"}
		}
		f.seen[key] = true
	}
	f.sql = append(f.sql, sql)
	if strings.HasPrefix(sql, "DELETE FROM idempotency_keys WHERE key") {
		if key, ok := args[0].(string); ok {
			delete(f.seen, key)
		}
	}
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

// Statements returns the SQL executed so far.
func (f *Execer) Statements() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sql...)
}

package runtime

import (
	"net/http"
	"strings"
	"sync"

	"github.com/drblury/hexroute/envelope"
	"github.com/drblury/hexroute/internal/runtime/jsoncodec"
)

const defaultInspectorPort = 8081

// StartInspectorServer registers the read-only snapshot API when enabled.
// The server itself is started by startHTTPServers.
func (r *Runtime) StartInspectorServer() {
	if !r.Conf.InspectorEnabled {
		return
	}

	port := r.Conf.InspectorPort
	if port == 0 {
		port = defaultInspectorPort
	}

	r.RegisterHTTPHandler(port, "/api/adapters", http.HandlerFunc(r.handleGetAdapters))
	r.RegisterHTTPHandler(port, "/api/ports", http.HandlerFunc(r.handleGetPorts))
	r.RegisterHTTPHandler(port, "/api/routes", http.HandlerFunc(r.handleGetRoutes))
	r.RegisterHTTPHandler(port, "/api/recent", http.HandlerFunc(r.handleGetRecent))
}

func (r *Runtime) handleGetAdapters(w http.ResponseWriter, req *http.Request) {
	r.serveSnapshot(w, req, func() any { return r.adapters.Descriptors() })
}

func (r *Runtime) handleGetPorts(w http.ResponseWriter, req *http.Request) {
	r.serveSnapshot(w, req, func() any { return r.PortSnapshots() })
}

func (r *Runtime) handleGetRoutes(w http.ResponseWriter, req *http.Request) {
	r.serveSnapshot(w, req, func() any { return r.routes.Views() })
}

func (r *Runtime) handleGetRecent(w http.ResponseWriter, req *http.Request) {
	r.serveSnapshot(w, req, func() any { return r.recent.Snapshot() })
}

func (r *Runtime) serveSnapshot(w http.ResponseWriter, req *http.Request, snapshot func() any) {
	w.Header().Set("Content-Type", "application/json")

	if len(r.Conf.InspectorCORSAllowedOrigins) > 0 {
		if origin := r.allowedCORSOrigin(req.Header.Get("Origin")); origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}
	}

	if req.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if err := jsoncodec.Encode(w, snapshot()); err != nil {
		r.Logger.Error("Failed to encode inspector snapshot", err, nil)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

// allowedCORSOrigin checks the request origin against the configured list and
// returns the Access-Control-Allow-Origin value to send, or "" for none.
func (r *Runtime) allowedCORSOrigin(requestOrigin string) string {
	for _, allowed := range r.Conf.InspectorCORSAllowedOrigins {
		if allowed == "*" {
			return "*"
		}
		if strings.EqualFold(allowed, requestOrigin) {
			return requestOrigin
		}
	}
	return ""
}

// RecentEnvelope is a trimmed envelope record kept for the inspector.
type RecentEnvelope struct {
	ID        string              `json:"id"`
	TraceID   string              `json:"trace_id,omitempty"`
	Direction envelope.Direction  `json:"direction"`
	PortName  string              `json:"port_name"`
	Status    envelope.Status     `json:"status"`
	Error     *envelope.ErrorInfo `json:"error,omitempty"`
	CreatedAt string              `json:"created_at"`
	Attempt   int                 `json:"attempt,omitempty"`
}

// recentRing keeps the most recent envelope records in insertion order.
type recentRing struct {
	mu      sync.Mutex
	entries []RecentEnvelope
	next    int
	filled  int
}

func newRecentRing(limit int) *recentRing {
	if limit <= 0 {
		limit = 64
	}
	return &recentRing{entries: make([]RecentEnvelope, limit)}
}

func (rr *recentRing) Record(env *envelope.Envelope) {
	if rr == nil || env == nil {
		return
	}

	entry := RecentEnvelope{
		ID:        env.ID,
		TraceID:   env.TraceID,
		Direction: env.Direction,
		PortName:  env.PortName,
		Status:    env.Status,
		Error:     env.Error,
		CreatedAt: env.CreatedAt.Format("2006-01-02T15:04:05.000Z07:00"),
		Attempt:   env.Attempt,
	}

	rr.mu.Lock()
	defer rr.mu.Unlock()

	rr.entries[rr.next] = entry
	rr.next = (rr.next + 1) % len(rr.entries)
	if rr.filled < len(rr.entries) {
		rr.filled++
	}
}

// Snapshot returns the recorded entries, oldest first.
func (rr *recentRing) Snapshot() []RecentEnvelope {
	if rr == nil {
		return nil
	}

	rr.mu.Lock()
	defer rr.mu.Unlock()

	out := make([]RecentEnvelope, rr.filled)
	for i := 0; i < rr.filled; i++ {
		idx := rr.next - rr.filled + i
		if idx < 0 {
			idx += len(rr.entries)
		}
		out[i] = rr.entries[idx]
	}
	return out
}

// Package web serves the latest exported calendar and run status over HTTP.
package web

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"skylightcal/internal/config"
	"skylightcal/internal/export"
	"skylightcal/internal/ics"
	appLog "skylightcal/internal/log"
)

// Server provides the HTTP endpoints of serve mode.
type Server struct {
	cfg     *config.Config
	store   *export.Store
	metrics http.Handler
	mux     *http.ServeMux

	// Cached /api/events response; invalidated when a newer run is stored.
	eventsMu    sync.RWMutex
	eventsCache *eventsCache
}

// NewServer constructs a Server. metricsHandler may be nil, in which case
// /metrics is not registered.
func NewServer(cfg *config.Config, store *export.Store, metricsHandler http.Handler) *Server {
	s := &Server{
		cfg:     cfg,
		store:   store,
		metrics: metricsHandler,
		mux:     http.NewServeMux(),
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// An empty username or password disables auth.
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="skylightcal", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /calendar.ics", s.handleCalendar)
	s.mux.HandleFunc("GET /api/summary", s.handleSummary)
	s.mux.HandleFunc("GET /api/events", s.handleEvents)
	if s.metrics != nil {
		s.mux.Handle("GET /metrics", s.metrics)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleCalendar serves the latest document. A failed refresh keeps the
// previous document; 503 is returned only before the first success.
func (s *Server) handleCalendar(w http.ResponseWriter, r *http.Request) {
	res, body := s.store.Latest()
	if res == nil {
		writeError(w, http.StatusServiceUnavailable, "no calendar exported yet")
		return
	}
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `inline; filename="calendar.ics"`)
	w.Header().Set("Last-Modified", res.FinishedAt.UTC().Format(http.TimeFormat))
	w.Header().Set("ETag", strconv.Quote(res.RunID))
	if match := r.Header.Get("If-None-Match"); match != "" && match == strconv.Quote(res.RunID) {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

// summaryResponse is the JSON response shape for /api/summary.
type summaryResponse struct {
	*export.Summary
	LastAttempt time.Time `json:"last_attempt,omitzero"`
	LastError   string    `json:"last_error,omitempty"`
}

func (s *Server) handleSummary(w http.ResponseWriter, _ *http.Request) {
	var resp summaryResponse
	if res, _ := s.store.Latest(); res != nil {
		sum := res.Summary()
		resp.Summary = &sum
	}
	at, err := s.store.LastRun()
	resp.LastAttempt = at
	if err != nil {
		resp.LastError = err.Error()
	}
	if resp.Summary == nil && at.IsZero() {
		writeError(w, http.StatusServiceUnavailable, "no export run yet")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// eventsResponse is the JSON response shape for /api/events.
type eventsResponse struct {
	Occurrences     []occurrenceDTO `json:"occurrences"`
	TruncatedUIDs   []string        `json:"truncated_uids,omitempty"`
	InvalidRuleUIDs []string        `json:"invalid_rule_uids,omitempty"`
	RangeStart      time.Time       `json:"range_start"`
	RangeEnd        time.Time       `json:"range_end"`
	DisplayTimeZone string          `json:"display_timezone"`
}

// eventsCache holds a cached /api/events response.
type eventsCache struct {
	key       string
	runID     string
	resp      eventsResponse
	updatedAt time.Time
}

// occurrenceDTO is a JSON-friendly view of occurrences.
type occurrenceDTO struct {
	UID         string    `json:"uid"`
	InstanceKey string    `json:"instance_key"`
	Summary     string    `json:"summary"`
	Description string    `json:"description"`
	Location    string    `json:"location"`
	AllDay      bool      `json:"all_day"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
}

// handleEvents returns expanded occurrences of the latest document.
//
// GET /api/events?days=7&backfill=1
//   - days:     how many days ahead to include (default 7)
//   - backfill: how many past days to include (default 1)
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	days := parseIntDefault(q.Get("days"), 7)
	if days <= 0 {
		days = 7
	}
	backfill := parseIntDefault(q.Get("backfill"), 1)
	if backfill < 0 {
		backfill = 0
	}

	res, body := s.store.Latest()
	if res == nil {
		writeError(w, http.StatusServiceUnavailable, "no calendar exported yet")
		return
	}

	const eventsCacheTTL = 30 * time.Second
	key := strconv.Itoa(days) + "/" + strconv.Itoa(backfill)

	s.eventsMu.RLock()
	ec := s.eventsCache
	s.eventsMu.RUnlock()
	if ec != nil && ec.key == key && ec.runID == res.RunID && time.Since(ec.updatedAt) < eventsCacheTTL {
		writeJSON(w, http.StatusOK, ec.resp)
		return
	}

	loc := resolveLocationOrLocal(s.cfg.Timezone)
	now := time.Now().In(loc)
	rangeStart := now.AddDate(0, 0, -backfill)
	rangeEnd := now.AddDate(0, 0, days)

	appLog.Debug("api events request",
		"days", days,
		"backfill", backfill,
		"range_start", rangeStart.Format(time.RFC3339),
		"range_end", rangeEnd.Format(time.RFC3339),
	)

	parsed, err := ics.ParseDocument(res.RunID, body)
	if err != nil {
		appLog.Error("api events: parse failed", err, "run_id", res.RunID)
		writeError(w, http.StatusInternalServerError, "failed to parse calendar")
		return
	}

	expanded, err := ics.ExpandOccurrences(parsed, ics.ExpandConfig{
		DisplayLocation: loc,
		RangeStart:      rangeStart,
		RangeEnd:        rangeEnd,
	})
	if err != nil {
		appLog.Error("api events: expand failed", err)
		writeError(w, http.StatusInternalServerError, "failed to expand events")
		return
	}

	dtos := make([]occurrenceDTO, 0, len(expanded.Occurrences))
	for _, occ := range expanded.Occurrences {
		dtos = append(dtos, occurrenceDTO{
			UID:         occ.UID,
			InstanceKey: occ.InstanceKey,
			Summary:     occ.Summary,
			Description: occ.Description,
			Location:    occ.Location,
			AllDay:      occ.AllDay,
			Start:       occ.Start,
			End:         occ.End,
		})
	}

	resp := eventsResponse{
		Occurrences:     dtos,
		TruncatedUIDs:   expanded.TruncatedEvents,
		InvalidRuleUIDs: expanded.InvalidRules,
		RangeStart:      rangeStart,
		RangeEnd:        rangeEnd,
		DisplayTimeZone: loc.String(),
	}

	s.eventsMu.Lock()
	s.eventsCache = &eventsCache{key: key, runID: res.RunID, resp: resp, updatedAt: time.Now()}
	s.eventsMu.Unlock()

	writeJSON(w, http.StatusOK, resp)
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func resolveLocationOrLocal(name string) *time.Location {
	if name == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		appLog.Error("failed to load timezone; falling back to local", err, "name", name)
		return time.Local
	}
	return loc
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}

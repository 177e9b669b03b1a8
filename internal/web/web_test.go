package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"skylightcal/internal/config"
	"skylightcal/internal/export"
	"skylightcal/internal/ics"
	"skylightcal/internal/model"
	"skylightcal/internal/skylight"
)

func ptr[T any](v T) *T { return &v }

func storeWithResult(t *testing.T) (*export.Store, *export.Result) {
	t.Helper()
	start := time.Now().UTC().Add(48 * time.Hour).Truncate(time.Hour)
	events := []model.Event{{
		ID:       "1",
		UID:      "dentist",
		Summary:  "Dentist",
		StartsAt: ptr(start.Format(skylight.TimeFormat)),
		EndsAt:   ptr(start.Add(time.Hour).Format(skylight.TimeFormat)),
	}}
	doc, diags := (&ics.Builder{Location: time.UTC}).Build(events)
	if len(diags) != 0 {
		t.Fatalf("diagnostics = %v", diags)
	}
	res := &export.Result{
		RunID:           "run-1",
		FinishedAt:      time.Now(),
		Document:        doc,
		Events:          events,
		TotalEventCount: ptr(1),
	}
	store := &export.Store{}
	store.Set(res, nil)
	return store, res
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Timezone = "UTC"
	return cfg
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	h := NewServer(testConfig(), &export.Store{}, nil).Handler()
	rec := serve(h, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "OK" {
		t.Fatalf("health = %d %q", rec.Code, rec.Body.String())
	}
}

func TestCalendar(t *testing.T) {
	t.Run("no run yet", func(t *testing.T) {
		h := NewServer(testConfig(), &export.Store{}, nil).Handler()
		rec := serve(h, httptest.NewRequest(http.MethodGet, "/calendar.ics", nil))
		if rec.Code != http.StatusServiceUnavailable {
			t.Errorf("status = %d, want 503", rec.Code)
		}
	})

	t.Run("latest document", func(t *testing.T) {
		store, res := storeWithResult(t)
		h := NewServer(testConfig(), store, nil).Handler()

		rec := serve(h, httptest.NewRequest(http.MethodGet, "/calendar.ics", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
		if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/calendar") {
			t.Errorf("Content-Type = %q", ct)
		}
		if !strings.Contains(rec.Body.String(), "UID:dentist") {
			t.Errorf("body missing event:\n%s", rec.Body.String())
		}

		req := httptest.NewRequest(http.MethodGet, "/calendar.ics", nil)
		req.Header.Set("If-None-Match", strconv.Quote(res.RunID))
		if rec := serve(h, req); rec.Code != http.StatusNotModified {
			t.Errorf("conditional status = %d, want 304", rec.Code)
		}
	})

	t.Run("failed refresh keeps document", func(t *testing.T) {
		store, _ := storeWithResult(t)
		store.Set(nil, errors.New("upstream down"))
		h := NewServer(testConfig(), store, nil).Handler()
		if rec := serve(h, httptest.NewRequest(http.MethodGet, "/calendar.ics", nil)); rec.Code != http.StatusOK {
			t.Errorf("status = %d, want 200", rec.Code)
		}
	})
}

func TestSummary(t *testing.T) {
	store, _ := storeWithResult(t)
	store.Set(nil, errors.New("upstream down"))
	h := NewServer(testConfig(), store, nil).Handler()

	rec := serve(h, httptest.NewRequest(http.MethodGet, "/api/summary", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var got struct {
		RunID           string `json:"run_id"`
		TotalEventCount *int   `json:"total_event_count"`
		EventsExported  int    `json:"events_exported"`
		LastError       string `json:"last_error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got.RunID != "run-1" || got.TotalEventCount == nil || *got.TotalEventCount != 1 || got.EventsExported != 1 {
		t.Errorf("summary = %+v", got)
	}
	if got.LastError != "upstream down" {
		t.Errorf("last_error = %q", got.LastError)
	}
}

func TestEvents(t *testing.T) {
	store, _ := storeWithResult(t)
	s := NewServer(testConfig(), store, nil)

	rec := serve(s.Handler(), httptest.NewRequest(http.MethodGet, "/api/events?days=3&backfill=0", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var resp eventsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Occurrences) != 1 || resp.Occurrences[0].UID != "dentist" {
		t.Fatalf("occurrences = %+v", resp.Occurrences)
	}
	if resp.DisplayTimeZone != "UTC" {
		t.Errorf("timezone = %q", resp.DisplayTimeZone)
	}
	if s.eventsCache == nil || s.eventsCache.key != "3/0" {
		t.Error("response was not cached")
	}

	rec = serve(s.Handler(), httptest.NewRequest(http.MethodGet, "/api/events?days=1&backfill=0", nil))
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Occurrences) != 0 {
		t.Errorf("days=1 should exclude the event, got %+v", resp.Occurrences)
	}
}

func TestMetricsRoute(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("skylightcal_up 1\n"))
	})
	h := NewServer(testConfig(), &export.Store{}, metrics).Handler()
	rec := serve(h, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "skylightcal_up") {
		t.Errorf("metrics = %d %q", rec.Code, rec.Body.String())
	}
}

func TestBasicAuth(t *testing.T) {
	cfg := testConfig()
	cfg.BasicAuth = &config.BasicAuthConfig{Username: "admin", Password: "s3cret"}
	store, _ := storeWithResult(t)
	h := NewServer(cfg, store, nil).Handler()

	tests := []struct {
		name     string
		path     string
		user     string
		pass     string
		wantCode int
	}{
		{"health is open", "/health", "", "", http.StatusOK},
		{"missing credentials", "/calendar.ics", "", "", http.StatusUnauthorized},
		{"wrong password", "/calendar.ics", "admin", "nope", http.StatusUnauthorized},
		{"valid credentials", "/calendar.ics", "admin", "s3cret", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.user != "" {
				req.SetBasicAuth(tt.user, tt.pass)
			}
			rec := serve(h, req)
			if rec.Code != tt.wantCode {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantCode)
			}
			if tt.wantCode == http.StatusUnauthorized && rec.Header().Get("WWW-Authenticate") == "" {
				t.Error("missing WWW-Authenticate header")
			}
		})
	}
}

func TestParseIntDefault(t *testing.T) {
	tests := []struct {
		in   string
		def  int
		want int
	}{
		{"", 7, 7},
		{"14", 7, 14},
		{"abc", 7, 7},
		{"-2", 1, -2},
	}
	for _, tt := range tests {
		if got := parseIntDefault(tt.in, tt.def); got != tt.want {
			t.Errorf("parseIntDefault(%q, %d) = %d, want %d", tt.in, tt.def, got, tt.want)
		}
	}
}

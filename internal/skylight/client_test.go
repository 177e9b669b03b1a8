package skylight

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

const eventsBody = `{
  "data": [
    {"id": "1", "type": "calendar_event", "attributes": {"uid": "u1", "summary": "Dentist"}},
    {"id": "2", "type": "calendar_event", "attributes": {"uid": "u2", "summary": "Soccer"}}
  ],
  "included": [
    {"id": "c1", "type": "category", "attributes": {"label": "Mom"}}
  ],
  "meta": {"total_event_count": 2}
}`

func testSession() Session {
	return Session{UserID: "42", Token: "tok"}
}

func newTestClient(t *testing.T, srv *httptest.Server, opts ...Option) *Client {
	t.Helper()
	opts = append([]Option{WithHTTPClient(srv.Client())}, opts...)
	c, err := NewClient(context.Background(), srv.URL+"/api/", testSession(), opts...)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

func TestLogin(t *testing.T) {
	var got loginRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/sessions" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":{"id":"42","type":"authenticated_user","attributes":{"token":"tok"}}}`))
	}))
	defer srv.Close()

	sess, err := Login(context.Background(), srv.Client(), srv.URL+"/api", "me@example.com", "pw")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if sess.UserID != "42" || sess.Token != "tok" || sess.Email != "me@example.com" {
		t.Errorf("session = %+v", sess)
	}
	if got.Email != "me@example.com" || got.Password != "pw" || got.ResettingPassword != "false" ||
		got.TextMeTheApp != "true" || got.AgreedToMarketing != "true" {
		t.Errorf("login body = %+v", got)
	}
}

func TestLogin_Rejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := Login(context.Background(), srv.Client(), srv.URL, "me@example.com", "wrong")
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}
}

func TestLogin_MissingCredentials(t *testing.T) {
	if _, err := Login(context.Background(), nil, "http://unused", "", "pw"); err == nil {
		t.Fatal("expected error for empty email")
	}
}

func TestFrames_SendsBasicAuth(t *testing.T) {
	wantAuth := "Basic " + base64.StdEncoding.EncodeToString([]byte("42:tok"))
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != wantAuth {
			t.Errorf("Authorization = %q, want %q", got, wantAuth)
		}
		if r.URL.Path != "/api/frames" || r.URL.Query().Get("show_deleted") != "true" {
			t.Errorf("unexpected url %s", r.URL.String())
		}
		_, _ = w.Write([]byte(`{"data":[{"id":1600234,"type":"frame","attributes":{"name":"Kitchen"},"relationships":{"user":{"data":{"id":"42","type":"user"}}}}]}`))
	}))
	defer srv.Close()

	frames, err := newTestClient(t, srv).Frames(context.Background())
	if err != nil {
		t.Fatalf("Frames: %v", err)
	}
	if len(frames) != 1 {
		t.Fatalf("len(frames) = %d, want 1", len(frames))
	}
	if f := frames[0]; f.ID != "1600234" || f.Name != "Kitchen" || f.UserID != "42" {
		t.Errorf("frame = %+v", f)
	}
}

func TestCalendarEvents_QueryAndDump(t *testing.T) {
	after := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	before := time.Date(2025, 6, 30, 12, 0, 0, 0, time.UTC)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/frames/77/calendar_events" {
			t.Errorf("path = %s", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("after") != "2020-01-01T00:00:00.000Z" || q.Get("before") != "2025-06-30T12:00:00.000Z" {
			t.Errorf("query = %s", r.URL.RawQuery)
		}
		_, _ = w.Write([]byte(eventsBody))
	}))
	defer srv.Close()

	dumpDir := filepath.Join(t.TempDir(), "dump")
	res, err := newTestClient(t, srv, WithDumpDir(dumpDir)).CalendarEvents(context.Background(), "77", after, before)
	if err != nil {
		t.Fatalf("CalendarEvents: %v", err)
	}
	if len(res.Document.Data) != 2 || len(res.Document.Included) != 1 {
		t.Errorf("document = %+v", res.Document)
	}
	if res.Document.Meta.TotalEventCount == nil || *res.Document.Meta.TotalEventCount != 2 {
		t.Errorf("total_event_count = %v", res.Document.Meta.TotalEventCount)
	}

	dumped, err := os.ReadFile(filepath.Join(dumpDir, DumpFile))
	if err != nil {
		t.Fatalf("dump not written: %v", err)
	}
	var doc Document
	if err := json.Unmarshal(dumped, &doc); err != nil || len(doc.Data) != 2 {
		t.Errorf("dump is not the response document: %v", err)
	}
}

func TestCalendarEvents_ConditionalGet(t *testing.T) {
	var hits, notModified atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.Header.Get("If-None-Match") == `"v1"` {
			notModified.Add(1)
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		_, _ = w.Write([]byte(eventsBody))
	}))
	defer srv.Close()

	c := newTestClient(t, srv, WithCacheDir(t.TempDir()))
	after := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	before := after.AddDate(1, 0, 0)

	first, err := c.CalendarEvents(context.Background(), "1", after, before)
	if err != nil {
		t.Fatalf("first fetch: %v", err)
	}
	if first.FromCache {
		t.Error("first fetch reported FromCache")
	}

	second, err := c.CalendarEvents(context.Background(), "1", after, before)
	if err != nil {
		t.Fatalf("second fetch: %v", err)
	}
	if !second.FromCache {
		t.Error("second fetch should be served from cache")
	}
	if len(second.Document.Data) != 2 {
		t.Errorf("cached document has %d records", len(second.Document.Data))
	}
	if hits.Load() != 2 || notModified.Load() != 1 {
		t.Errorf("hits = %d, notModified = %d", hits.Load(), notModified.Load())
	}
}

func TestCalendarEvents_Unauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv).CalendarEvents(context.Background(), "1", time.Unix(0, 0), time.Now())
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}
}

func TestCalendarEvents_ServerErrorWithoutCache(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv).CalendarEvents(context.Background(), "1", time.Unix(0, 0), time.Now())
	if err == nil || !strings.Contains(err.Error(), "500") {
		t.Fatalf("err = %v, want status 500 error", err)
	}
}

func TestCalendarEventsRange_MergesWindows(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		// Every window returns event 1 and the shared category; only the
		// second window adds event 3.
		body := `{"data":[{"id":"1","type":"calendar_event","attributes":{}}`
		if strings.HasPrefix(r.URL.Query().Get("after"), "2024-01-11") {
			body += `,{"id":"3","type":"calendar_event","attributes":{}}`
		}
		body += `],"included":[{"id":"c1","type":"category","attributes":{}}],"meta":{"total_event_count":1}}`
		_, _ = w.Write([]byte(body))
	}))
	defer srv.Close()

	after := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	before := after.AddDate(0, 0, 25)
	doc, err := newTestClient(t, srv).CalendarEventsRange(context.Background(), "1", after, before, 10*24*time.Hour)
	if err != nil {
		t.Fatalf("CalendarEventsRange: %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
	if len(doc.Data) != 2 || len(doc.Included) != 1 {
		t.Errorf("merged data=%d included=%d, want 2/1", len(doc.Data), len(doc.Included))
	}
	if doc.Meta.TotalEventCount == nil || *doc.Meta.TotalEventCount != 2 {
		t.Errorf("total_event_count = %v, want 2", doc.Meta.TotalEventCount)
	}
}

func TestCalendarEventsRange_DumpsMergedDocument(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body := `{"data":[{"id":"1","type":"calendar_event","attributes":{}}`
		if strings.HasPrefix(r.URL.Query().Get("after"), "2024-01-01") {
			body += `,{"id":"2","type":"calendar_event","attributes":{}}`
		}
		body += `],"meta":{"total_event_count":1}}`
		_, _ = w.Write([]byte(body))
	}))
	defer srv.Close()

	dumpDir := t.TempDir()
	after := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	_, err := newTestClient(t, srv, WithDumpDir(dumpDir)).
		CalendarEventsRange(context.Background(), "1", after, after.AddDate(0, 0, 20), 10*24*time.Hour)
	if err != nil {
		t.Fatalf("CalendarEventsRange: %v", err)
	}

	dumped, err := os.ReadFile(filepath.Join(dumpDir, DumpFile))
	if err != nil {
		t.Fatalf("dump not written: %v", err)
	}
	var doc Document
	if err := json.Unmarshal(dumped, &doc); err != nil {
		t.Fatal(err)
	}
	// The last window alone holds one record; the merged document holds both.
	if len(doc.Data) != 2 || doc.Meta.TotalEventCount == nil || *doc.Meta.TotalEventCount != 2 {
		t.Errorf("dump = %d records, count %v; want the merged document", len(doc.Data), doc.Meta.TotalEventCount)
	}
}

func TestCalendarEventsRange_EmptyRange(t *testing.T) {
	c := &Client{}
	now := time.Now()
	if _, err := c.CalendarEventsRange(context.Background(), "1", now, now, 0); err == nil {
		t.Fatal("expected error for empty range")
	}
}

func TestNewClient_RejectsInvalidSession(t *testing.T) {
	if _, err := NewClient(context.Background(), "http://x", Session{UserID: "1"}); err == nil {
		t.Fatal("expected error for session without token")
	}
}

func TestSessionFileLifecycle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "session.json")

	if _, err := LoadSession(path); !errors.Is(err, ErrNoSession) {
		t.Fatalf("LoadSession on missing file: %v", err)
	}

	want := testSession()
	if err := SaveSession(path, want); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("perm = %o, want 600", perm)
	}

	got, err := LoadSession(path)
	if err != nil {
		t.Fatalf("LoadSession: %v", err)
	}
	if got.UserID != want.UserID || got.Token != want.Token {
		t.Errorf("loaded %+v, want %+v", got, want)
	}

	if err := ClearSession(path); err != nil {
		t.Fatalf("ClearSession: %v", err)
	}
	if err := ClearSession(path); err != nil {
		t.Fatalf("ClearSession on missing file: %v", err)
	}
}

func TestRelationshipRef(t *testing.T) {
	tests := []struct {
		name   string
		raw    string
		wantID ID
		wantOK bool
	}{
		{"object", `{"id":"7","type":"category"}`, "7", true},
		{"numeric id", `{"id":7,"type":"category"}`, "7", true},
		{"null", `null`, "", false},
		{"array", `[{"id":"7","type":"category"}]`, "", false},
		{"missing id", `{"type":"category"}`, "", false},
		{"empty", ``, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ref, ok := Relationship{Data: json.RawMessage(tt.raw)}.Ref()
			if ok != tt.wantOK || ref.ID != tt.wantID {
				t.Errorf("Ref() = %q, %v; want %q, %v", ref.ID, ok, tt.wantID, tt.wantOK)
			}
		})
	}
}

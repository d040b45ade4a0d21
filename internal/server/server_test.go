package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/scrumvoice/scrumvoice/internal/speech"
	"github.com/scrumvoice/scrumvoice/internal/tracker"
)

type stubTracker struct {
	todo []tracker.IssueRef
}

func (s *stubTracker) GetIssue(context.Context, string) (*tracker.IssueDetails, error) {
	return nil, nil
}
func (s *stubTracker) IssueExists(context.Context, string) (bool, error) { return false, nil }
func (s *stubTracker) ListTodoIssues(context.Context, string) ([]tracker.IssueRef, error) {
	return s.todo, nil
}
func (s *stubTracker) TransitionIssue(context.Context, string, tracker.Status) error { return nil }
func (s *stubTracker) CreateIssue(context.Context, tracker.CreateRequest) (string, error) {
	return "SCRUM-100", nil
}
func (s *stubTracker) CreateLinkedBlocker(context.Context, string, string) (string, error) {
	return "SCRUM-101", nil
}

func newTestServer(t *testing.T, sp *speech.Client) (*Server, *httptest.Server) {
	t.Helper()
	srv := New(Config{
		Tracker:     &stubTracker{todo: []tracker.IssueRef{{Key: "SCRUM-1", Summary: "Fix login", StatusName: "To Do"}}},
		ProjectKey:  "SCRUM",
		DefaultUser: "dev@example.com",
		Speech:      sp,
	})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return srv, ts
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatal(err)
	}
	return v
}

func TestStartAndChat(t *testing.T) {
	_, ts := newTestServer(t, nil)

	resp := postJSON(t, ts.URL+"/api/start", map[string]string{"user": "dev@example.com"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("start status = %d", resp.StatusCode)
	}
	start := decode[chatResponse](t, resp)
	if start.SessionID == "" || start.Stage != "greeting" {
		t.Fatalf("start = %+v, want session id and greeting stage", start)
	}
	if !strings.Contains(start.Message, "SCRUM-1") {
		t.Errorf("greeting should list To Do tasks, got %q", start.Message)
	}
	if len(start.Segments) < 2 {
		t.Errorf("greeting should split into segments, got %v", start.Segments)
	}

	resp = postJSON(t, ts.URL+"/api/chat", map[string]string{
		"session_id": start.SessionID,
		"message":    "I wrote the import pipeline",
	})
	chat := decode[chatResponse](t, resp)
	if chat.Stage != "today" {
		t.Errorf("stage = %q, want today after first answer", chat.Stage)
	}
}

func TestChatUnknownSession(t *testing.T) {
	_, ts := newTestServer(t, nil)

	resp := postJSON(t, ts.URL+"/api/chat", map[string]string{"session_id": "nope", "message": "hi"})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404 for unknown session", resp.StatusCode)
	}
}

func TestSummary(t *testing.T) {
	_, ts := newTestServer(t, nil)

	start := decode[chatResponse](t, postJSON(t, ts.URL+"/api/start", map[string]string{}))
	postJSON(t, ts.URL+"/api/chat", map[string]string{"session_id": start.SessionID, "message": "shipped the importer"}).Body.Close()

	resp := postJSON(t, ts.URL+"/api/summary", map[string]string{"session_id": start.SessionID})
	summary := decode[chatResponse](t, resp)
	if !strings.Contains(summary.Message, "shipped the importer") {
		t.Errorf("summary = %q, want yesterday's answer included", summary.Message)
	}
	if summary.Stage != "today" {
		t.Errorf("summary stage = %q, want unchanged conversation state", summary.Stage)
	}
}

func TestTasks(t *testing.T) {
	_, ts := newTestServer(t, nil)

	resp, err := http.Get(ts.URL + "/api/tasks?user=dev@example.com")
	if err != nil {
		t.Fatal(err)
	}
	body := decode[struct {
		User  string         `json:"user"`
		Tasks []taskResponse `json:"tasks"`
	}](t, resp)
	if len(body.Tasks) != 1 || body.Tasks[0].Key != "SCRUM-1" {
		t.Errorf("tasks = %+v, want SCRUM-1", body.Tasks)
	}
}

func TestSpeakWithoutSpeechConfigured(t *testing.T) {
	_, ts := newTestServer(t, nil)

	resp := postJSON(t, ts.URL+"/api/speak", map[string]string{"text": "hello"})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503 when speech is off", resp.StatusCode)
	}
}

func TestSpeakProxiesSynthesis(t *testing.T) {
	dg := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "audio/mpeg")
		fmt.Fprint(w, "mp3-bytes")
	}))
	defer dg.Close()

	sp, err := speech.NewClient("dg-key", "", "")
	if err != nil {
		t.Fatal(err)
	}
	sp.BaseURL = dg.URL
	_, ts := newTestServer(t, sp)

	resp := postJSON(t, ts.URL+"/api/speak", map[string]string{"text": "hello"})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if got := resp.Header.Get("Content-Type"); got != "audio/mpeg" {
		t.Errorf("Content-Type = %q, want audio/mpeg", got)
	}
}

func TestTranscribeProxiesRecognition(t *testing.T) {
	dg := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"results":{"channels":[{"alternatives":[{"transcript":"no blockers"}]}]}}`)
	}))
	defer dg.Close()

	sp, err := speech.NewClient("dg-key", "", "")
	if err != nil {
		t.Fatal(err)
	}
	sp.BaseURL = dg.URL
	_, ts := newTestServer(t, sp)

	resp, err := http.Post(ts.URL+"/api/transcribe", "audio/wav", strings.NewReader("fake-audio"))
	if err != nil {
		t.Fatal(err)
	}
	body := decode[map[string]string](t, resp)
	if body["text"] != "no blockers" {
		t.Errorf("text = %q, want transcript", body["text"])
	}
}

func TestTranscribeWithSessionAdvancesConversation(t *testing.T) {
	dg := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"results":{"channels":[{"alternatives":[{"transcript":"I finished the migration"}]}]}}`)
	}))
	defer dg.Close()

	sp, err := speech.NewClient("dg-key", "", "")
	if err != nil {
		t.Fatal(err)
	}
	sp.BaseURL = dg.URL
	_, ts := newTestServer(t, sp)

	start := decode[chatResponse](t, postJSON(t, ts.URL+"/api/start", map[string]string{}))

	resp, err := http.Post(ts.URL+"/api/transcribe?session_id="+start.SessionID, "audio/wav", strings.NewReader("fake-audio"))
	if err != nil {
		t.Fatal(err)
	}
	body := decode[map[string]any](t, resp)
	if body["text"] != "I finished the migration" {
		t.Errorf("text = %v, want transcript", body["text"])
	}
	if body["stage"] != "today" {
		t.Errorf("stage = %v, want today after transcript is fed to the bot", body["stage"])
	}
}

func TestHealth(t *testing.T) {
	_, ts := newTestServer(t, nil)

	resp, err := http.Get(ts.URL + "/api/health")
	if err != nil {
		t.Fatal(err)
	}
	health := decode[healthResponse](t, resp)
	if health.Status != "ok" || health.Speech {
		t.Errorf("health = %+v, want ok and speech off", health)
	}
}

func TestCORSPreflight(t *testing.T) {
	_, ts := newTestServer(t, nil)

	req, _ := http.NewRequest(http.MethodOptions, ts.URL+"/api/chat", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("preflight status = %d, want 204", resp.StatusCode)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Allow-Origin = %q, want *", got)
	}
}

func TestSessionPruning(t *testing.T) {
	m := NewSessionManager(&stubTracker{}, "SCRUM", "dev@example.com")
	s := m.Create("")
	s.mu.Lock()
	s.lastActive = s.lastActive.Add(-2 * sessionTTL)
	s.mu.Unlock()

	m.Create("")
	if _, err := m.Get(s.ID); err == nil {
		t.Error("stale session should be pruned on next create")
	}
}

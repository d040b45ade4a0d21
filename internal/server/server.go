// Package server exposes the standup bot over HTTP. The transport is thin:
// every /api/chat request carries a session id and one utterance, and the
// reply carries the bot's message, the conversation stage, and speakable
// segments. All conversation logic lives in the bot package.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/scrumvoice/scrumvoice/internal/bot"
	"github.com/scrumvoice/scrumvoice/internal/speech"
	"github.com/scrumvoice/scrumvoice/internal/tracker"
)

// maxRequestBody caps JSON request bodies at 1 MB; audio uploads get 25 MB.
const (
	maxRequestBody = 1 << 20
	maxAudioBody   = 25 << 20
)

// Server wires sessions, the tracker, and optional speech into an HTTP
// handler.
type Server struct {
	sessions *SessionManager
	tracker  tracker.Client
	speech   *speech.Client // nil means text-only
	static   string
}

// Config carries the server's dependencies.
type Config struct {
	Tracker     tracker.Client
	ProjectKey  string
	DefaultUser string
	// Speech enables /api/speak and /api/transcribe when non-nil.
	Speech *speech.Client
	// StaticDir, when set, serves files for paths outside /api/.
	StaticDir string
}

// New builds a server.
func New(cfg Config) *Server {
	return &Server{
		sessions: NewSessionManager(cfg.Tracker, cfg.ProjectKey, cfg.DefaultUser),
		tracker:  cfg.Tracker,
		speech:   cfg.Speech,
		static:   cfg.StaticDir,
	}
}

// Handler returns the full HTTP handler with CORS applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/api/start", s.handleStart)
	mux.HandleFunc("/api/chat", s.handleChat)
	mux.HandleFunc("/api/summary", s.handleSummary)
	mux.HandleFunc("/api/tasks", s.handleTasks)
	mux.HandleFunc("/api/speak", s.handleSpeak)
	mux.HandleFunc("/api/transcribe", s.handleTranscribe)

	if s.static != "" {
		mux.Handle("/", http.FileServer(http.Dir(s.static)))
	} else {
		mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/" {
				http.NotFound(w, r)
				return
			}
			fmt.Fprintln(w, "scrumvoice: POST /api/start to begin a standup")
		})
	}

	return withCORS(mux)
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 2 * time.Minute,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Printf("server: listening on %s", addr)
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Println("server: shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// withCORS allows browser clients on any origin; the bot holds no
// credentials of its own and auth is the deployment's concern.
func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type startRequest struct {
	User string `json:"user,omitempty"`
}

type chatRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

type chatResponse struct {
	SessionID string   `json:"session_id"`
	Message   string   `json:"message"`
	Stage     string   `json:"stage"`
	Segments  []string `json:"segments"`
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req startRequest
	if err := readJSON(r, &req); err != nil {
		sendError(w, err.Error(), http.StatusBadRequest)
		return
	}

	session := s.sessions.Create(req.User)
	var reply bot.Reply
	session.WithEngine(func(e *bot.Engine) {
		reply = e.Start(r.Context())
	})
	sendJSON(w, chatResponse{
		SessionID: session.ID,
		Message:   reply.Message,
		Stage:     reply.Stage,
		Segments:  speech.SplitSegments(reply.Message),
	})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req chatRequest
	if err := readJSON(r, &req); err != nil {
		sendError(w, err.Error(), http.StatusBadRequest)
		return
	}
	session, err := s.sessions.Get(req.SessionID)
	if err != nil {
		sendError(w, err.Error(), http.StatusNotFound)
		return
	}

	var reply bot.Reply
	session.WithEngine(func(e *bot.Engine) {
		reply = e.Advance(r.Context(), req.Message)
	})
	sendJSON(w, chatResponse{
		SessionID: session.ID,
		Message:   reply.Message,
		Stage:     reply.Stage,
		Segments:  speech.SplitSegments(reply.Message),
	})
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req chatRequest
	if err := readJSON(r, &req); err != nil {
		sendError(w, err.Error(), http.StatusBadRequest)
		return
	}
	session, err := s.sessions.Get(req.SessionID)
	if err != nil {
		sendError(w, err.Error(), http.StatusNotFound)
		return
	}

	var message, stage string
	session.WithEngine(func(e *bot.Engine) {
		message = e.GenerateSummary(r.Context())
		stage = e.State().Stage()
	})
	sendJSON(w, chatResponse{
		SessionID: session.ID,
		Message:   message,
		Stage:     stage,
		Segments:  speech.SplitSegments(message),
	})
}

type taskResponse struct {
	Key     string `json:"key"`
	Summary string `json:"summary"`
	Status  string `json:"status"`
}

func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	user := r.URL.Query().Get("user")
	if user == "" {
		user = s.sessions.defaultUser
	}
	issues, err := s.tracker.ListTodoIssues(r.Context(), user)
	if err != nil {
		log.Printf("server: list tasks for %q failed: %v", user, err)
		sendError(w, "tracker unavailable", http.StatusBadGateway)
		return
	}

	tasks := make([]taskResponse, 0, len(issues))
	for _, issue := range issues {
		tasks = append(tasks, taskResponse{Key: issue.Key, Summary: issue.Summary, Status: issue.StatusName})
	}
	sendJSON(w, map[string]any{"user": user, "tasks": tasks})
}

func (s *Server) handleSpeak(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.speech == nil {
		sendError(w, "speech is not configured", http.StatusServiceUnavailable)
		return
	}

	var req struct {
		Text string `json:"text"`
	}
	if err := readJSON(r, &req); err != nil {
		sendError(w, err.Error(), http.StatusBadRequest)
		return
	}

	audio, err := s.speech.Synthesize(r.Context(), req.Text)
	if err != nil {
		log.Printf("server: synthesize failed: %v", err)
		sendError(w, "speech synthesis failed", http.StatusBadGateway)
		return
	}
	w.Header().Set("Content-Type", "audio/mpeg")
	_, _ = w.Write(audio)
}

func (s *Server) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.speech == nil {
		sendError(w, "speech is not configured", http.StatusServiceUnavailable)
		return
	}

	audio, err := io.ReadAll(io.LimitReader(r.Body, maxAudioBody))
	if err != nil {
		sendError(w, "failed to read audio", http.StatusBadRequest)
		return
	}
	text, err := s.speech.Transcribe(r.Context(), audio, r.Header.Get("Content-Type"))
	if err != nil {
		log.Printf("server: transcribe failed: %v", err)
		sendError(w, "transcription failed", http.StatusBadGateway)
		return
	}

	// With a session id the transcript is also fed to the bot, so one
	// round trip covers record-then-reply voice clients.
	if sessionID := r.URL.Query().Get("session_id"); sessionID != "" {
		session, err := s.sessions.Get(sessionID)
		if err != nil {
			sendError(w, err.Error(), http.StatusNotFound)
			return
		}
		var reply bot.Reply
		session.WithEngine(func(e *bot.Engine) {
			reply = e.Advance(r.Context(), text)
		})
		sendJSON(w, map[string]any{
			"text":     text,
			"message":  reply.Message,
			"stage":    reply.Stage,
			"segments": speech.SplitSegments(reply.Message),
		})
		return
	}

	sendJSON(w, map[string]string{"text": text})
}

type healthResponse struct {
	Status   string `json:"status"`
	Sessions int    `json:"sessions"`
	Speech   bool   `json:"speech"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	sendJSON(w, healthResponse{
		Status:   "ok",
		Sessions: s.sessions.Len(),
		Speech:   s.speech != nil,
	})
}

func readJSON(r *http.Request, dst any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		return fmt.Errorf("failed to read request body")
	}
	if len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return fmt.Errorf("invalid JSON: %v", err)
	}
	return nil
}

func sendJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func sendError(w http.ResponseWriter, msg string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

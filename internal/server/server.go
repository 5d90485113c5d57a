// Package server exposes the popup routes and the local control API over
// loopback HTTP.
package server

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nexuslearn/nexuslink/internal/history"
	"github.com/nexuslearn/nexuslink/internal/popup"
)

// Internal routes.
const (
	PathPopupSignIn  = "/auth/popup-signin"
	PathPopupClose   = "/auth/popup-close"
	PathPopupMessage = "/auth/popup-message"
)

// maxMessageBytes caps a posted popup message.
const maxMessageBytes = 4 << 10

//go:embed templates/popup_signin.html
var popupSignInHTML string

//go:embed templates/popup_close.html
var popupCloseHTML string

var (
	signInTmpl = template.Must(template.New("signin").Parse(popupSignInHTML))
	closeTmpl  = template.Must(template.New("close").Parse(popupCloseHTML))
)

// Publisher delivers popup messages to the coordinator's listener.
type Publisher interface {
	Publish(msg popup.Message) int
	SetOrigin(origin string)
}

// Linker is the coordinator surface the control API drives.
type Linker interface {
	StartLinking() (popup.Attempt, error)
	Abort() bool
	IsLoading() bool
	Current() (popup.Attempt, bool)
	LastResult() (popup.Result, bool)
}

// HistoryLister reads past attempts.
type HistoryLister interface {
	List(ctx context.Context, limit int) ([]history.Entry, error)
}

// Config configures the server.
type Config struct {
	// Addr is the listen address. Port 0 picks a free port.
	Addr string

	// SignInURL is the identity provider's sign-in endpoint. The popup is
	// redirected there with callbackUrl pointing back at PathPopupClose.
	SignInURL string

	// ProviderName is shown while redirecting.
	ProviderName string

	Logger *slog.Logger
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Addr:         "127.0.0.1:7891",
		SignInURL:    "http://localhost:3000/api/auth/signin/google",
		ProviderName: "Google",
	}
}

// Server serves the popup pages, the message endpoint and the control API.
type Server struct {
	config    Config
	publisher Publisher
	logger    *slog.Logger
	handler   http.Handler

	mu        sync.RWMutex
	linker    Linker
	history   HistoryLister
	classroom ClassroomReader
	origin    string
	server    *http.Server
	listener  net.Listener
}

// New creates a server publishing popup messages to publisher.
func New(config Config, publisher Publisher) *Server {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.ProviderName == "" {
		config.ProviderName = "your identity provider"
	}

	s := &Server{
		config:    config,
		publisher: publisher,
		logger:    config.Logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET "+PathPopupSignIn, s.handlePopupSignIn)
	mux.HandleFunc("GET "+PathPopupClose, s.handlePopupClose)
	mux.HandleFunc("POST "+PathPopupMessage, s.handlePopupMessage)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /link/status", s.handleLinkStatus)
	mux.HandleFunc("POST /link/start", s.handleLinkStart)
	mux.HandleFunc("POST /link/abort", s.handleLinkAbort)
	mux.HandleFunc("GET /link/history", s.handleLinkHistory)
	mux.HandleFunc("GET /classroom/courses", s.handleClassroomCourses)
	mux.HandleFunc("GET /classroom/courses/{id}/{kind}", s.handleClassroomCourseResource)

	s.handler = s.withLogging(mux)
	return s
}

// SetLinker attaches the coordinator driven by the control API.
func (s *Server) SetLinker(l Linker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.linker = l
}

// SetHistory attaches the attempt history.
func (s *Server) SetHistory(h HistoryLister) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = h
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Listen binds the listen address and returns the resulting origin, which
// is also handed to the publisher.
func (s *Server) Listen() (string, error) {
	listener, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return "", fmt.Errorf("listen on %s: %w", s.config.Addr, err)
	}

	port := listener.Addr().(*net.TCPAddr).Port
	host, _, err := net.SplitHostPort(s.config.Addr)
	if err != nil || host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	origin := "http://" + net.JoinHostPort(host, strconv.Itoa(port))

	s.mu.Lock()
	s.listener = listener
	s.origin = origin
	s.server = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
	s.mu.Unlock()

	s.publisher.SetOrigin(origin)
	return origin, nil
}

// Serve serves on the listener created by Listen until Shutdown.
func (s *Server) Serve() error {
	s.mu.RLock()
	server, listener := s.server, s.listener
	s.mu.RUnlock()
	if server == nil || listener == nil {
		return errors.New("server not listening")
	}

	s.logger.Info("starting popup server", "origin", s.Origin())
	if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.RLock()
	server := s.server
	s.mu.RUnlock()
	if server == nil {
		return nil
	}
	return server.Shutdown(ctx)
}

// Origin returns the origin the server listens on, or "" before Listen.
func (s *Server) Origin() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.origin
}

// SetOrigin overrides the origin, for handlers served without Listen.
func (s *Server) SetOrigin(origin string) {
	s.mu.Lock()
	s.origin = origin
	s.mu.Unlock()
	s.publisher.SetOrigin(origin)
}

func (s *Server) originFor(r *http.Request) string {
	if origin := s.Origin(); origin != "" {
		return origin
	}
	return "http://" + r.Host
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start))
	})
}

func setPageHeaders(w http.ResponseWriter) {
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Referrer-Policy", "no-referrer")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
}

// SignInURL returns the provider URL for a popup served at origin.
func SignInURL(providerURL, origin string) (string, error) {
	u, err := url.Parse(providerURL)
	if err != nil {
		return "", fmt.Errorf("invalid sign-in url: %w", err)
	}
	q := u.Query()
	q.Set("callbackUrl", strings.TrimRight(origin, "/")+PathPopupClose)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (s *Server) handlePopupSignIn(w http.ResponseWriter, r *http.Request) {
	// The caller's callbackUrl is never followed: the popup must not
	// navigate to application content.
	if requested := r.URL.Query().Get("callbackUrl"); requested != "" {
		s.logger.Debug("ignoring popup callbackUrl", "requested", requested)
	}

	target, err := SignInURL(s.config.SignInURL, s.originFor(r))
	if err != nil {
		s.logger.Error("build sign-in url", "error", err)
		http.Error(w, "sign-in unavailable", http.StatusInternalServerError)
		return
	}

	setPageHeaders(w)
	data := map[string]any{
		"SignInURL": target,
		"Provider":  s.config.ProviderName,
	}
	if err := signInTmpl.Execute(w, data); err != nil {
		s.logger.Error("render popup sign-in", "error", err)
	}
}

func (s *Server) handlePopupClose(w http.ResponseWriter, r *http.Request) {
	setPageHeaders(w)
	data := map[string]any{
		"Tag":         popup.TagOAuthSuccess,
		"MessagePath": PathPopupMessage,
	}
	if err := closeTmpl.Execute(w, data); err != nil {
		s.logger.Error("render popup close", "error", err)
	}
}

// messageOrigin is the Origin header, or the origin of the Referer when a
// browser omitted Origin.
func messageOrigin(r *http.Request) string {
	if origin := r.Header.Get("Origin"); origin != "" && origin != "null" {
		return origin
	}
	if ref := r.Header.Get("Referer"); ref != "" {
		if u, err := url.Parse(ref); err == nil && u.Scheme != "" && u.Host != "" {
			return u.Scheme + "://" + u.Host
		}
	}
	return ""
}

func (s *Server) handlePopupMessage(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxMessageBytes))
	if err != nil {
		s.logger.Debug("popup message dropped", "origin", messageOrigin(r), "error", err)
		w.WriteHeader(http.StatusAccepted)
		return
	}

	delivered := s.publisher.Publish(popup.Message{
		Origin: messageOrigin(r),
		Data:   json.RawMessage(body),
	})
	s.logger.Debug("popup message",
		"origin", messageOrigin(r),
		"subscribers", delivered)

	// Same answer whatever happened, so the popup learns nothing.
	w.WriteHeader(http.StatusAccepted)
}

// HealthResponse is the response from /health endpoint.
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Origin    string    `json:"origin"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "ok",
		Timestamp: time.Now(),
		Origin:    s.originFor(r),
	})
}

// AttemptResponse describes a pending attempt.
type AttemptResponse struct {
	ID        string    `json:"id"`
	Status    string    `json:"status"`
	StartedAt time.Time `json:"started_at"`
	Deadline  time.Time `json:"deadline"`
}

// ResultResponse describes a terminal result.
type ResultResponse struct {
	AttemptID string    `json:"attempt_id,omitempty"`
	Status    string    `json:"status"`
	Reason    string    `json:"reason"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`
	Retryable bool      `json:"retryable"`
}

// LinkStatusResponse is the response from /link/status endpoint.
type LinkStatusResponse struct {
	Loading    bool             `json:"loading"`
	Attempt    *AttemptResponse `json:"attempt,omitempty"`
	LastResult *ResultResponse  `json:"last_result,omitempty"`
}

func attemptResponse(a popup.Attempt) *AttemptResponse {
	return &AttemptResponse{
		ID:        a.ID,
		Status:    a.Status.String(),
		StartedAt: a.StartedAt,
		Deadline:  a.Deadline,
	}
}

func resultResponse(r popup.Result) *ResultResponse {
	return &ResultResponse{
		AttemptID: r.AttemptID,
		Status:    r.Status.String(),
		Reason:    r.Reason,
		StartedAt: r.StartedAt,
		EndedAt:   r.EndedAt,
		Retryable: r.Status.Retryable(),
	}
}

func (s *Server) currentLinker(w http.ResponseWriter) Linker {
	s.mu.RLock()
	l := s.linker
	s.mu.RUnlock()
	if l == nil {
		writeError(w, http.StatusServiceUnavailable, "linking not available")
	}
	return l
}

func (s *Server) handleLinkStatus(w http.ResponseWriter, r *http.Request) {
	l := s.currentLinker(w)
	if l == nil {
		return
	}

	resp := LinkStatusResponse{Loading: l.IsLoading()}
	if a, ok := l.Current(); ok {
		resp.Attempt = attemptResponse(a)
	}
	if res, ok := l.LastResult(); ok {
		resp.LastResult = resultResponse(res)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleLinkStart(w http.ResponseWriter, r *http.Request) {
	l := s.currentLinker(w)
	if l == nil {
		return
	}

	attempt, err := l.StartLinking()
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, attemptResponse(attempt))
	case errors.Is(err, popup.ErrPopupBlocked):
		writeError(w, http.StatusFailedDependency, err.Error())
	case errors.Is(err, popup.ErrAttemptPending):
		writeJSON(w, http.StatusConflict, attemptResponse(attempt))
	case errors.Is(err, popup.ErrDisposed):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) handleLinkAbort(w http.ResponseWriter, r *http.Request) {
	l := s.currentLinker(w)
	if l == nil {
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"aborted": l.Abort()})
}

func (s *Server) handleLinkHistory(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	h := s.history
	s.mu.RUnlock()
	if h == nil {
		writeError(w, http.StatusServiceUnavailable, "history not available")
		return
	}

	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	entries, err := h.List(r.Context(), limit)
	if err != nil {
		s.logger.Error("list history", "error", err)
		writeError(w, http.StatusInternalServerError, "history unavailable")
		return
	}
	if entries == nil {
		entries = []history.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

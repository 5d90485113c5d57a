package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexuslearn/nexuslink/internal/browser"
	"github.com/nexuslearn/nexuslink/internal/history"
	"github.com/nexuslearn/nexuslink/internal/popup"
	"github.com/nexuslearn/nexuslink/internal/popup/popuptest"
)

const testOrigin = "http://127.0.0.1:7891"

// busPlatform routes popup messages through a real MessageBus while the
// clock and windows stay simulated.
type busPlatform struct {
	sim *popuptest.Platform
	bus *browser.MessageBus
}

func (p busPlatform) Screen() popup.Size { return p.sim.Screen() }
func (p busPlatform) OpenWindow(u, name string, g popup.Geometry) (popup.Window, error) {
	return p.sim.OpenWindow(u, name, g)
}
func (p busPlatform) Now() time.Time                                   { return p.sim.Now() }
func (p busPlatform) AfterFunc(d time.Duration, fn func()) popup.Timer { return p.sim.AfterFunc(d, fn) }
func (p busPlatform) Every(d time.Duration, fn func()) popup.Timer     { return p.sim.Every(d, fn) }
func (p busPlatform) Origin() string                                   { return p.bus.Origin() }
func (p busPlatform) Subscribe(fn func(popup.Message)) func()          { return p.bus.Subscribe(fn) }

type recordingPublisher struct {
	mu     sync.Mutex
	msgs   []popup.Message
	origin string
}

func (p *recordingPublisher) Publish(msg popup.Message) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, msg)
	return 1
}

func (p *recordingPublisher) SetOrigin(origin string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.origin = origin
}

type fakeLinker struct {
	attempt popup.Attempt
	err     error
	loading bool
	last    *popup.Result
	aborted bool
}

func (f *fakeLinker) StartLinking() (popup.Attempt, error) { return f.attempt, f.err }
func (f *fakeLinker) Abort() bool                          { f.aborted = true; return f.loading }
func (f *fakeLinker) IsLoading() bool                      { return f.loading }
func (f *fakeLinker) Current() (popup.Attempt, bool)       { return f.attempt, f.loading }
func (f *fakeLinker) LastResult() (popup.Result, bool) {
	if f.last == nil {
		return popup.Result{}, false
	}
	return *f.last, true
}

type fakeHistory struct {
	entries []history.Entry
	err     error
	limit   int
}

func (f *fakeHistory) List(_ context.Context, limit int) ([]history.Entry, error) {
	f.limit = limit
	return f.entries, f.err
}

func newTestServer(t *testing.T, pub Publisher) *Server {
	t.Helper()
	cfg := DefaultConfig()
	cfg.SignInURL = "https://app.example.com/api/auth/signin/google?prompt=select_account"
	s := New(cfg, pub)
	s.SetOrigin(testOrigin)
	return s
}

func do(t *testing.T, h http.Handler, method, target string, body string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestSignInURL(t *testing.T) {
	got, err := SignInURL("https://app.example.com/api/auth/signin/google?prompt=select_account", testOrigin+"/")
	require.NoError(t, err)

	u, err := url.Parse(got)
	require.NoError(t, err)
	assert.Equal(t, "app.example.com", u.Host)
	assert.Equal(t, "/api/auth/signin/google", u.Path)
	assert.Equal(t, "select_account", u.Query().Get("prompt"))
	assert.Equal(t, testOrigin+PathPopupClose, u.Query().Get("callbackUrl"))

	_, err = SignInURL("://bad", testOrigin)
	assert.Error(t, err)
}

func TestPopupSignInPage(t *testing.T) {
	s := newTestServer(t, &recordingPublisher{})

	rec := do(t, s.Handler(), http.MethodGet, PathPopupSignIn+"?callbackUrl=/dashboard", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))

	body := rec.Body.String()
	assert.Contains(t, body, "Redirecting to Google")
	assert.Contains(t, body, "popup-close")
	assert.NotContains(t, body, "dashboard")
}

func TestPopupClosePage(t *testing.T) {
	s := newTestServer(t, &recordingPublisher{})

	rec := do(t, s.Handler(), http.MethodGet, PathPopupClose, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, popup.TagOAuthSuccess)
	assert.Contains(t, body, "window.close()")
}

func TestPopupMessage_PublishesWithOrigin(t *testing.T) {
	pub := &recordingPublisher{}
	s := newTestServer(t, pub)
	assert.Equal(t, testOrigin, pub.origin)

	rec := do(t, s.Handler(), http.MethodPost, PathPopupMessage, `{"type":"OAUTH_SUCCESS"}`,
		map[string]string{"Origin": testOrigin})
	assert.Equal(t, http.StatusAccepted, rec.Code)

	rec = do(t, s.Handler(), http.MethodPost, PathPopupMessage, `{"type":"OAUTH_SUCCESS"}`,
		map[string]string{"Referer": "https://evil.example.com/page?x=1"})
	assert.Equal(t, http.StatusAccepted, rec.Code)

	rec = do(t, s.Handler(), http.MethodPost, PathPopupMessage, `garbage`, nil)
	assert.Equal(t, http.StatusAccepted, rec.Code)

	require.Len(t, pub.msgs, 3)
	assert.Equal(t, testOrigin, pub.msgs[0].Origin)
	assert.JSONEq(t, `{"type":"OAUTH_SUCCESS"}`, string(pub.msgs[0].Data))
	assert.Equal(t, "https://evil.example.com", pub.msgs[1].Origin)
	assert.Equal(t, "", pub.msgs[2].Origin)
}

func TestPopupMessage_TooLargeDroppedSilently(t *testing.T) {
	pub := &recordingPublisher{}
	s := newTestServer(t, pub)

	rec := do(t, s.Handler(), http.MethodPost, PathPopupMessage, strings.Repeat("x", maxMessageBytes+1), nil)
	assert.Equal(t, http.StatusAccepted, rec.Code, "same answer as a delivered message")
	assert.Empty(t, pub.msgs)
}

func TestPopupMessage_WrongMethod(t *testing.T) {
	s := newTestServer(t, &recordingPublisher{})
	rec := do(t, s.Handler(), http.MethodGet, PathPopupMessage, "", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, &recordingPublisher{})
	rec := do(t, s.Handler(), http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, testOrigin, resp.Origin)
}

func TestLinkEndpoints_NoLinker(t *testing.T) {
	s := newTestServer(t, &recordingPublisher{})
	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/link/status"},
		{http.MethodPost, "/link/start"},
		{http.MethodPost, "/link/abort"},
		{http.MethodGet, "/link/history"},
	} {
		rec := do(t, s.Handler(), tc.method, tc.path, "", nil)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code, tc.path)
	}
}

func TestLinkStart_StatusCodes(t *testing.T) {
	pending := popup.Attempt{ID: "abc", Status: popup.StatusPending}

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"started", nil, http.StatusAccepted},
		{"pending", popup.ErrAttemptPending, http.StatusConflict},
		{"blocked", &popup.LaunchError{URL: "x", Cause: errors.New("nope")}, http.StatusFailedDependency},
		{"disposed", popup.ErrDisposed, http.StatusServiceUnavailable},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, &recordingPublisher{})
			s.SetLinker(&fakeLinker{attempt: pending, err: tt.err})

			rec := do(t, s.Handler(), http.MethodPost, "/link/start", "", nil)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestLinkStatusAndAbort(t *testing.T) {
	s := newTestServer(t, &recordingPublisher{})
	linker := &fakeLinker{
		attempt: popup.Attempt{ID: "abc", Status: popup.StatusPending},
		loading: true,
		last:    &popup.Result{AttemptID: "old", Status: popup.StatusTimedOut, Reason: popup.ReasonDeadline},
	}
	s.SetLinker(linker)

	rec := do(t, s.Handler(), http.MethodGet, "/link/status", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var status LinkStatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.True(t, status.Loading)
	require.NotNil(t, status.Attempt)
	assert.Equal(t, "abc", status.Attempt.ID)
	assert.Equal(t, "PENDING", status.Attempt.Status)
	require.NotNil(t, status.LastResult)
	assert.Equal(t, "TIMED_OUT", status.LastResult.Status)
	assert.True(t, status.LastResult.Retryable)

	rec = do(t, s.Handler(), http.MethodPost, "/link/abort", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, linker.aborted)
	assert.JSONEq(t, `{"aborted":true}`, rec.Body.String())
}

func TestLinkHistory(t *testing.T) {
	s := newTestServer(t, &recordingPublisher{})
	h := &fakeHistory{entries: []history.Entry{{ID: 1, StatusName: "SUCCEEDED", Reason: "message"}}}
	s.SetHistory(h)

	rec := do(t, s.Handler(), http.MethodGet, "/link/history?limit=5", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5, h.limit)

	var entries []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "SUCCEEDED", entries[0]["status"])

	rec = do(t, s.Handler(), http.MethodGet, "/link/history?limit=abc", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	h.entries = nil
	rec = do(t, s.Handler(), http.MethodGet, "/link/history", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 20, h.limit)
	assert.JSONEq(t, `[]`, rec.Body.String())

	h.err = errors.New("disk gone")
	rec = do(t, s.Handler(), http.MethodGet, "/link/history", "", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestPopupMessage_CompletesAttempt(t *testing.T) {
	bus := browser.NewMessageBus("")
	s := newTestServer(t, bus)
	platform := busPlatform{sim: popuptest.New(), bus: bus}

	var results []popup.Result
	c := popup.New(platform, popup.DefaultConfig())
	c.OnResult = func(r popup.Result) { results = append(results, r) }
	s.SetLinker(c)

	rec := do(t, s.Handler(), http.MethodPost, "/link/start", "", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.True(t, c.IsLoading())
	assert.Equal(t, testOrigin+PathPopupSignIn, platform.sim.LastWindow().URL)

	// A forged post from another origin is accepted but changes nothing.
	rec = do(t, s.Handler(), http.MethodPost, PathPopupMessage, `{"type":"OAUTH_SUCCESS"}`,
		map[string]string{"Origin": "https://evil.example.com"})
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.True(t, c.IsLoading())

	rec = do(t, s.Handler(), http.MethodPost, PathPopupMessage, `{"type":"OAUTH_SUCCESS"}`,
		map[string]string{"Origin": testOrigin})
	assert.Equal(t, http.StatusAccepted, rec.Code)

	assert.False(t, c.IsLoading())
	require.Len(t, results, 1)
	assert.Equal(t, popup.StatusSucceeded, results[0].Status)
	assert.Equal(t, 0, bus.Subscribers())
	assert.True(t, platform.sim.LastWindow().Closed())
}

func TestListenAndShutdown(t *testing.T) {
	bus := browser.NewMessageBus("")
	cfg := DefaultConfig()
	cfg.Addr = "127.0.0.1:0"
	s := New(cfg, bus)

	origin, err := s.Listen()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(origin, "http://127.0.0.1:"))
	assert.Equal(t, origin, bus.Origin())
	assert.Equal(t, origin, s.Origin())

	errCh := make(chan error, 1)
	go func() { errCh <- s.Serve() }()

	var resp *http.Response
	require.Eventually(t, func() bool {
		r, err := http.Get(origin + "/health")
		if err != nil {
			return false
		}
		resp = r
		return true
	}, 2*time.Second, 20*time.Millisecond)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))
	require.NoError(t, <-errCh)
}

func TestServe_NotListening(t *testing.T) {
	s := New(DefaultConfig(), &recordingPublisher{})
	assert.Error(t, s.Serve())
	assert.NoError(t, s.Shutdown(context.Background()))
}

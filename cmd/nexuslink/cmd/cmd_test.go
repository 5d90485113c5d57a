package cmd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexuslearn/nexuslink/internal/classroom"
	"github.com/nexuslearn/nexuslink/internal/config"
	"github.com/nexuslearn/nexuslink/internal/popup"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// runRoot executes the CLI with args and returns its output.
func runRoot(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetArgs(args)
	defer func() {
		// Flag values outlive Execute.
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
		configPath = ""
		coursesToken, coursesFilter, coursesKind, coursesJSON = "", "", "coursework", false
		configInitForce = false
	}()
	err := rootCmd.Execute()
	return out.String(), err
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, ExitCodeSuccess, exitCode(nil))
	assert.Equal(t, ExitCodeError, exitCode(errors.New("boom")))
	assert.Equal(t, ExitCodeLinkFailed, exitCode(&LinkFailedError{Result: popup.Result{Status: popup.StatusTimedOut}}))
	assert.Equal(t, ExitCodeLinkFailed, exitCode(fmt.Errorf("start: %w", &popup.LaunchError{URL: "x"})))
	assert.Equal(t, ExitCodeNotLinked, exitCode(classroom.ErrNotLinked))
	assert.Equal(t, ExitCodeNotLinked, exitCode(&classroom.APIError{StatusCode: http.StatusUnauthorized}))
	assert.Equal(t, ExitCodeError, exitCode(&classroom.APIError{StatusCode: http.StatusBadGateway}))
}

func TestLinkFailedError(t *testing.T) {
	err := &LinkFailedError{Result: popup.Result{Status: popup.StatusCancelled, Reason: popup.ReasonWindowClosed}}
	assert.Equal(t, "linking CANCELLED (window_closed)", err.Error())
}

func TestApplyLinkFlags(t *testing.T) {
	t.Cleanup(func() {
		linkTimeout, linkBrowser = 0, ""
		_ = linkCmd.Flags().Set("timeout", "0s")
		_ = linkCmd.Flags().Set("browser", "")
		linkCmd.Flags().Lookup("timeout").Changed = false
		linkCmd.Flags().Lookup("browser").Changed = false
	})

	cfg := config.DefaultConfig()
	require.NoError(t, applyLinkFlags(linkCmd, cfg))
	assert.Equal(t, "5m", cfg.Popup.Timeout)

	require.NoError(t, linkCmd.Flags().Set("timeout", "90s"))
	require.NoError(t, linkCmd.Flags().Set("browser", "system"))
	require.NoError(t, applyLinkFlags(linkCmd, cfg))
	assert.Equal(t, 90*time.Second, cfg.ToPopupConfig().Timeout)
	assert.Equal(t, "system", cfg.Browser.Mode)

	require.NoError(t, linkCmd.Flags().Set("browser", "lynx"))
	assert.Error(t, applyLinkFlags(linkCmd, cfg))
}

func TestDescribeResult(t *testing.T) {
	start := time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)
	assert.Equal(t, "Account linked in 12s.", describeResult(popup.Result{
		Status: popup.StatusSucceeded, StartedAt: start, EndedAt: start.Add(12 * time.Second),
	}))
	assert.Equal(t, "Sign-in cancelled (window_closed).", describeResult(popup.Result{
		Status: popup.StatusCancelled, Reason: popup.ReasonWindowClosed,
	}))
	assert.Contains(t, describeResult(popup.Result{Status: popup.StatusTimedOut}), "timed out")
	assert.Contains(t, describeResult(popup.Result{Status: popup.StatusPopupBlocked}), "Allow popups")
}

func TestFirstLine(t *testing.T) {
	assert.Equal(t, "hello", firstLine("hello\nworld", 60))
	assert.Equal(t, "abcdefg...", firstLine("abcdefghijklmnop", 10))
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Server.Port = 0
	cfg.Browser.Mode = "system"
	cfg.History.Path = filepath.Join(t.TempDir(), "history.db")
	return cfg
}

func TestNewApp_WiresServerHistoryAndHooks(t *testing.T) {
	cfg := testConfig(t)

	rt, err := newApp(cfg, discardLogger())
	require.NoError(t, err)
	t.Cleanup(rt.close)

	errCh := rt.serve()
	select {
	case err := <-errCh:
		t.Fatalf("serve exited early: %v", err)
	default:
	}

	require.Eventually(t, func() bool {
		resp, err := http.Get(rt.origin + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)
	assert.Equal(t, rt.origin, rt.bus.Origin())

	var forwarded []popup.Result
	rt.onResult = func(res popup.Result) { forwarded = append(forwarded, res) }

	start := time.Now()
	res := popup.Result{
		AttemptID: "a1",
		Status:    popup.StatusSucceeded,
		Reason:    popup.ReasonMessage,
		StartedAt: start,
		EndedAt:   start.Add(3 * time.Second),
	}
	rt.handleResult(res)
	rt.handleSucceeded(res)

	require.Len(t, forwarded, 1)
	entries, err := rt.history.List(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "a1", entries[0].AttemptID)

	resp, err := http.Get(rt.origin + "/link/history")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestNewApp_SuccessReloadsClassroom(t *testing.T) {
	var calls atomic.Int32
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		fmt.Fprint(w, `{"courses":[{"id":"1","name":"Algebra I"}]}`)
	}))
	t.Cleanup(api.Close)

	cfg := testConfig(t)
	cfg.Classroom.BaseURL = api.URL + "/v1"
	rt, err := newApp(cfg, discardLogger())
	require.NoError(t, err)
	t.Cleanup(rt.close)
	rt.serve()

	getCourses := func() {
		t.Helper()
		req, err := http.NewRequest(http.MethodGet, rt.origin+"/classroom/courses", nil)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer tok")
		var resp *http.Response
		require.Eventually(t, func() bool {
			resp, err = http.DefaultClient.Do(req)
			return err == nil
		}, 2*time.Second, 20*time.Millisecond)
		resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}

	getCourses()
	getCourses()
	assert.EqualValues(t, 1, calls.Load(), "second read cached")

	rt.handleSucceeded(popup.Result{AttemptID: "a1", Status: popup.StatusSucceeded})

	getCourses()
	assert.EqualValues(t, 2, calls.Load(), "read after linking goes upstream")
}

func TestNewApp_HistoryDisabled(t *testing.T) {
	cfg := testConfig(t)
	cfg.History.Disabled = true

	rt, err := newApp(cfg, discardLogger())
	require.NoError(t, err)
	t.Cleanup(rt.close)

	assert.Nil(t, rt.history)
	rt.handleResult(popup.Result{Status: popup.StatusCancelled})
}

func TestNewApp_InvalidMode(t *testing.T) {
	cfg := testConfig(t)
	cfg.Browser.Mode = "lynx"
	_, err := newApp(cfg, discardLogger())
	assert.Error(t, err)
}

func TestConfigCommands(t *testing.T) {
	t.Setenv("NEXUSLINK_PORT", "")
	t.Setenv("NEXUSLINK_SIGNIN_URL", "")
	path := filepath.Join(t.TempDir(), "config.yaml")

	out, err := runRoot(t, "--config", path, "config", "path")
	require.NoError(t, err)
	assert.Equal(t, path+"\n", out)

	out, err = runRoot(t, "--config", path, "config", "init")
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote")
	_, err = os.Stat(path)
	require.NoError(t, err)

	_, err = runRoot(t, "--config", path, "config", "init")
	assert.Error(t, err)

	out, err = runRoot(t, "--config", path, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "poll_interval: 1s")
	assert.Contains(t, out, "policy: supersede")
}

func TestCoursesCommand(t *testing.T) {
	t.Setenv("NEXUSLINK_PORT", "")
	t.Setenv("NEXUSLINK_SIGNIN_URL", "")
	t.Setenv("NEXUSLINK_ACCESS_TOKEN", "")

	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch r.URL.Path {
		case "/v1/courses":
			fmt.Fprint(w, `{"courses":[{"id":"1","name":"Algebra I"},{"id":"2","name":"Biology"}]}`)
		case "/v1/courses/1/announcements":
			fmt.Fprint(w, `{"announcements":[{"id":"a1","courseId":"1","text":"Quiz Friday\nBring a pencil"}]}`)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(api.Close)

	cfg := config.DefaultConfig()
	cfg.Classroom.BaseURL = api.URL + "/v1"
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, cfg.Save(path))

	out, err := runRoot(t, "--config", path, "courses", "--token", "tok", "--filter", "alg")
	require.NoError(t, err)
	assert.Contains(t, out, "Algebra I")
	assert.NotContains(t, out, "Biology")

	out, err = runRoot(t, "--config", path, "courses", "1", "--token", "tok", "--kind", "announcements")
	require.NoError(t, err)
	assert.Contains(t, out, "Quiz Friday")
	assert.NotContains(t, out, "pencil")

	_, err = runRoot(t, "--config", path, "courses")
	assert.ErrorIs(t, err, classroom.ErrNotLinked)

	_, err = runRoot(t, "--config", path, "courses", "1", "--token", "tok", "--kind", "grades")
	assert.Error(t, err)
}

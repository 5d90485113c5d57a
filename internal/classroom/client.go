// Package classroom reads a linked user's Google Classroom data.
package classroom

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/oauth2"
)

// ProviderGoogle is the only provider whose sessions can read Classroom.
const ProviderGoogle = "google"

// Session is the credential handed over by the sign-in flow.
type Session struct {
	AccessToken string
	Provider    string
	Email       string
}

// HasAccess reports whether s can be used against the Classroom API.
func HasAccess(s Session) bool {
	return s.Provider == ProviderGoogle && strings.TrimSpace(s.AccessToken) != ""
}

// Config configures the client.
type Config struct {
	// BaseURL is the API root, without trailing slash.
	BaseURL string

	// CacheTTL is how long a fetched list stays fresh.
	CacheTTL time.Duration

	// CacheSize bounds the number of cached lists.
	CacheSize int

	// MaxRetries is the number of extra attempts for retryable failures.
	MaxRetries int

	// RetryBackoff is multiplied by the attempt number between retries.
	RetryBackoff time.Duration

	// PageSize is sent as pageSize on list requests.
	PageSize int

	// HTTPClient is the base transport; the bearer token is layered on top.
	HTTPClient *http.Client

	Logger *slog.Logger
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		BaseURL:      "https://classroom.googleapis.com/v1",
		CacheTTL:     5 * time.Minute,
		CacheSize:    256,
		MaxRetries:   2,
		RetryBackoff: 500 * time.Millisecond,
		PageSize:     100,
	}
}

// Client fetches Classroom resources with caching and retries.
type Client struct {
	config Config
	logger *slog.Logger
	cache  *expirable.LRU[string, any]
}

// New creates a client. Zero fields in config take their defaults.
func New(config Config) *Client {
	def := DefaultConfig()
	if config.BaseURL == "" {
		config.BaseURL = def.BaseURL
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	if config.CacheTTL <= 0 {
		config.CacheTTL = def.CacheTTL
	}
	if config.CacheSize <= 0 {
		config.CacheSize = def.CacheSize
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	if config.PageSize <= 0 {
		config.PageSize = def.PageSize
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	return &Client{
		config: config,
		logger: config.Logger,
		cache:  expirable.NewLRU[string, any](config.CacheSize, nil, config.CacheTTL),
	}
}

// Invalidate drops every cached list. Called after a successful link so
// the next read reflects the new account.
func (c *Client) Invalidate() {
	n := c.cache.Len()
	c.cache.Purge()
	c.logger.Debug("classroom cache purged", "entries", n)
}

// ListCourses returns every course visible to the session.
func (c *Client) ListCourses(ctx context.Context, s Session) ([]Course, error) {
	return list[Course](ctx, c, s, "courses", "", "courses", "courses")
}

// ListCourseWork returns the coursework of a course.
func (c *Client) ListCourseWork(ctx context.Context, s Session, courseID string) ([]CourseWork, error) {
	return list[CourseWork](ctx, c, s, "coursework", courseID, "courseWork", "courseWork")
}

// ListAnnouncements returns the announcements of a course.
func (c *Client) ListAnnouncements(ctx context.Context, s Session, courseID string) ([]Announcement, error) {
	return list[Announcement](ctx, c, s, "announcements", courseID, "announcements", "announcements")
}

// ListMaterials returns the course materials of a course.
func (c *Client) ListMaterials(ctx context.Context, s Session, courseID string) ([]Material, error) {
	return list[Material](ctx, c, s, "materials", courseID, "courseWorkMaterials", "courseWorkMaterial")
}

// sessionKey scopes cache entries to one credential without keeping the
// token itself in the cache.
func sessionKey(s Session) string {
	sum := sha256.Sum256([]byte(s.Provider + "\x00" + s.AccessToken))
	return hex.EncodeToString(sum[:8])
}

// list fetches every page of a collection. resource is the cache kind;
// path is the collection path below the course (or the root when
// courseID is empty); field is the JSON array holding the items.
func list[T any](ctx context.Context, c *Client, s Session, resource, courseID, path, field string) ([]T, error) {
	if !HasAccess(s) {
		return nil, ErrNotLinked
	}

	endpoint := c.config.BaseURL + "/" + path
	key := sessionKey(s) + "/" + resource
	if resource != "courses" {
		if courseID == "" {
			return nil, ErrMissingCourseID
		}
		endpoint = c.config.BaseURL + "/courses/" + url.PathEscape(courseID) + "/" + path
		key += ":" + courseID
	}

	if cached, ok := c.cache.Get(key); ok {
		if items, ok := cached.([]T); ok {
			return items, nil
		}
	}

	httpClient := c.httpClient(ctx, s)

	var (
		items     []T
		pageToken string
		pages     int
	)
	for {
		raw, next, err := c.fetchPage(ctx, httpClient, resource, endpoint, field, pageToken)
		if err != nil {
			return nil, err
		}
		for _, item := range raw {
			var v T
			if err := json.Unmarshal(item, &v); err != nil {
				return nil, fmt.Errorf("decode %s: %w", resource, err)
			}
			items = append(items, v)
		}
		pages++
		if next == "" {
			break
		}
		pageToken = next
	}

	if items == nil {
		items = []T{}
	}
	c.cache.Add(key, items)
	c.logger.Debug("classroom fetched",
		"resource", resource,
		"course_id", courseID,
		"items", len(items),
		"pages", pages)
	return items, nil
}

func (c *Client) httpClient(ctx context.Context, s Session) *http.Client {
	if c.config.HTTPClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, c.config.HTTPClient)
	}
	ts := oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: s.AccessToken,
		TokenType:   "Bearer",
	})
	return oauth2.NewClient(ctx, ts)
}

// fetchPage fetches one page, retrying retryable failures with linear
// backoff.
func (c *Client) fetchPage(ctx context.Context, hc *http.Client, resource, endpoint, field, pageToken string) ([]json.RawMessage, string, error) {
	var lastErr error
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			wait := time.Duration(attempt) * c.config.RetryBackoff
			c.logger.Debug("classroom retry",
				"resource", resource,
				"attempt", attempt,
				"wait", wait,
				"error", lastErr)
			select {
			case <-ctx.Done():
				return nil, "", ctx.Err()
			case <-time.After(wait):
			}
		}

		items, next, err := c.doPage(ctx, hc, resource, endpoint, field, pageToken)
		if err == nil {
			return items, next, nil
		}
		lastErr = err

		var apiErr *APIError
		if errors.As(err, &apiErr) && !apiErr.Retryable() {
			return nil, "", err
		}
		if ctx.Err() != nil {
			return nil, "", ctx.Err()
		}
	}
	return nil, "", lastErr
}

func (c *Client) doPage(ctx context.Context, hc *http.Client, resource, endpoint, field, pageToken string) ([]json.RawMessage, string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, "", fmt.Errorf("invalid endpoint: %w", err)
	}
	q := u.Query()
	q.Set("pageSize", fmt.Sprint(c.config.PageSize))
	if pageToken != "" {
		q.Set("pageToken", pageToken)
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, "", err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := hc.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("fetch %s: %w", resource, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, "", fmt.Errorf("read %s: %w", resource, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, "", &APIError{
			StatusCode: resp.StatusCode,
			Resource:   resource,
			Message:    errorMessage(body),
		}
	}

	var page map[string]json.RawMessage
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, "", fmt.Errorf("decode %s page: %w", resource, err)
	}

	var items []json.RawMessage
	if raw, ok := page[field]; ok {
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, "", fmt.Errorf("decode %s items: %w", resource, err)
		}
	}
	var next string
	if raw, ok := page["nextPageToken"]; ok {
		_ = json.Unmarshal(raw, &next)
	}
	return items, next, nil
}

// errorMessage extracts error.message from a Google API error body.
func errorMessage(body []byte) string {
	var envelope struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return ""
	}
	return envelope.Error.Message
}

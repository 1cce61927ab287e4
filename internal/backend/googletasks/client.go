// Package googletasks implements remote.Gateway using the Google Tasks API.
package googletasks

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	tasks "google.golang.org/api/tasks/v1"

	"gtodo/internal/config"
	"gtodo/internal/remote"
)

const (
	// DefaultListID is the special ID for the default list.
	DefaultListID = "@default"

	// PageSize is the number of tasks per page.
	PageSize = 100

	// APITimeout is the default timeout for API calls.
	APITimeout = 10 * time.Second

	// IdempotencyHeader carries the action id of a push.
	IdempotencyHeader = "X-Idempotency-Key"

	// OAuth scope for Google Tasks
	tasksScope = "https://www.googleapis.com/auth/tasks"

	statusCompleted   = "completed"
	statusNeedsAction = "needsAction"
)

// Client implements remote.Gateway for one task list.
type Client struct {
	svc     *tasks.Service
	list    string
	timeout time.Duration
	now     func() time.Time
	loc     *time.Location

	mu     sync.Mutex
	listID string
}

// Option configures a Client.
type Option func(*Client)

// WithClock sets the clock and location used to find local midnight.
func WithClock(now func() time.Time, loc *time.Location) Option {
	return func(c *Client) {
		c.now = now
		c.loc = loc
	}
}

// WithTimeout sets the per-call timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// OAuthConfig loads the OAuth client credentials from the config dir.
func OAuthConfig(cfg *config.Config) (*oauth2.Config, error) {
	clientJSON, err := os.ReadFile(cfg.OAuthClientPath())
	if err != nil {
		return nil, fmt.Errorf("failed to read oauth_client.json: %w", err)
	}
	oauthConfig, err := google.ConfigFromJSON(clientJSON, tasksScope)
	if err != nil {
		return nil, fmt.Errorf("invalid oauth_client.json: %w", err)
	}
	return oauthConfig, nil
}

// New creates a new Google Tasks client for the list named in cfg.Settings.
// Requires oauth_client.json and token.json to exist.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Client, error) {
	oauthConfig, err := OAuthConfig(cfg)
	if err != nil {
		return nil, err
	}

	token, err := LoadToken(cfg.TokenPath())
	if err != nil {
		return nil, err
	}

	// Refreshes automatically.
	httpClient := oauth2.NewClient(ctx, oauthConfig.TokenSource(ctx, token))

	opts = append([]Option{WithTimeout(cfg.Settings.CallTimeout)}, opts...)
	return NewWithHTTPClient(ctx, httpClient, cfg.Settings.List, nil, opts...)
}

// NewWithHTTPClient creates a client with a custom HTTP client. Extra client
// options (an endpoint override in tests) are passed to the Tasks service.
func NewWithHTTPClient(ctx context.Context, httpClient *http.Client, list string, svcOpts []option.ClientOption, opts ...Option) (*Client, error) {
	svcOpts = append([]option.ClientOption{option.WithHTTPClient(httpClient)}, svcOpts...)
	svc, err := tasks.NewService(ctx, svcOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create tasks service: %w", err)
	}
	if list == "" {
		list = DefaultListID
	}
	c := &Client{
		svc:     svc,
		list:    list,
		timeout: APITimeout,
		now:     time.Now,
		loc:     time.Local,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// FetchTasks returns every open task of the list plus the tasks completed
// since local midnight.
func (c *Client) FetchTasks(ctx context.Context) ([]remote.Task, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	listID, err := c.resolveList(ctx)
	if err != nil {
		return nil, err
	}

	var result []remote.Task
	seen := make(map[string]bool)
	collect := func(completedOnly bool) func(*tasks.Tasks) error {
		return func(resp *tasks.Tasks) error {
			for _, t := range resp.Items {
				if t.Deleted || seen[t.Id] {
					continue
				}
				if completedOnly && t.Status != statusCompleted {
					continue
				}
				seen[t.Id] = true
				result = append(result, toRemote(t))
			}
			return nil
		}
	}

	err = c.svc.Tasks.List(listID).
		MaxResults(PageSize).
		ShowCompleted(false).
		ShowDeleted(false).
		ShowHidden(false).
		Pages(ctx, collect(false))
	if err != nil {
		return nil, classify("fetch", err)
	}

	now := c.now().In(c.loc)
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, c.loc)
	err = c.svc.Tasks.List(listID).
		MaxResults(PageSize).
		ShowCompleted(true).
		ShowHidden(true).
		ShowDeleted(false).
		CompletedMin(midnight.Format(time.RFC3339)).
		Pages(ctx, collect(true))
	if err != nil {
		return nil, classify("fetch", err)
	}

	return result, nil
}

// CompleteTask marks a task as completed.
func (c *Client) CompleteTask(ctx context.Context, taskID, actionID string) error {
	return c.patchStatus(ctx, "complete", taskID, actionID, &tasks.Task{Status: statusCompleted})
}

// UncompleteTask reopens a completed task.
func (c *Client) UncompleteTask(ctx context.Context, taskID, actionID string) error {
	return c.patchStatus(ctx, "uncomplete", taskID, actionID, &tasks.Task{
		Status:     statusNeedsAction,
		NullFields: []string{"Completed"},
	})
}

// patchStatus sends the status change. A repeated patch to the same status is
// a no-op server side, so retries with the same action id are safe.
func (c *Client) patchStatus(ctx context.Context, op, taskID, actionID string, patch *tasks.Task) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	listID, err := c.resolveList(ctx)
	if err != nil {
		return err
	}

	call := c.svc.Tasks.Patch(listID, taskID, patch).Context(ctx)
	call.Header().Set(IdempotencyHeader, actionID)
	if _, err := call.Do(); err != nil {
		return classify(op, err)
	}
	return nil
}

// resolveList maps the configured list name to an ID once. Names are
// matched case-insensitively after trimming; IDs are accepted as-is.
func (c *Client) resolveList(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.listID != "" {
		return c.listID, nil
	}
	if c.list == DefaultListID {
		c.listID = DefaultListID
		return c.listID, nil
	}

	want := strings.ToLower(strings.TrimSpace(c.list))
	var matches []string
	err := c.svc.Tasklists.List().MaxResults(100).Pages(ctx, func(resp *tasks.TaskLists) error {
		for _, list := range resp.Items {
			if list.Id == c.list || strings.ToLower(strings.TrimSpace(list.Title)) == want {
				matches = append(matches, list.Id)
			}
		}
		return nil
	})
	if err != nil {
		return "", classify("resolve list", err)
	}

	switch len(matches) {
	case 0:
		return "", &remote.RejectedError{Op: "resolve list", Reason: remote.ReasonNotFound, Err: fmt.Errorf("list not found: %s", c.list)}
	case 1:
		c.listID = matches[0]
		return c.listID, nil
	default:
		return "", &remote.RejectedError{Op: "resolve list", Reason: remote.ReasonInvalid, Err: fmt.Errorf("ambiguous list name: %s", c.list)}
	}
}

func toRemote(t *tasks.Task) remote.Task {
	rt := remote.Task{
		ID:        t.Id,
		Title:     t.Title,
		Notes:     t.Notes,
		Completed: t.Status == statusCompleted,
		Due:       normalizeDue(t.Due),
		Position:  t.Position,
	}
	if t.Completed != nil {
		if at, err := time.Parse(time.RFC3339, *t.Completed); err == nil {
			rt.CompletedAt = &at
		}
	}
	if at, err := time.Parse(time.RFC3339, t.Updated); err == nil {
		rt.Updated = at
	}
	return rt
}

// normalizeDue turns the API's midnight-UTC timestamp into a calendar date.
// The API discards the time portion of due dates.
func normalizeDue(due string) string {
	if len(due) >= len(time.DateOnly) {
		if _, err := time.Parse(time.DateOnly, due[:len(time.DateOnly)]); err == nil {
			return due[:len(time.DateOnly)]
		}
	}
	return ""
}

// classify maps API errors onto the remote error taxonomy.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}

	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch {
		case gerr.Code == http.StatusNotFound || gerr.Code == http.StatusGone:
			return &remote.RejectedError{Op: op, Reason: remote.ReasonNotFound, StatusCode: gerr.Code, Err: err}
		case gerr.Code == http.StatusUnauthorized || gerr.Code == http.StatusForbidden:
			return &remote.RejectedError{Op: op, Reason: remote.ReasonPermission, StatusCode: gerr.Code, Err: err}
		case gerr.Code == http.StatusRequestTimeout || gerr.Code == http.StatusTooManyRequests || gerr.Code >= 500:
			return &remote.NetworkError{Op: op, StatusCode: gerr.Code, Err: err}
		case gerr.Code >= 400:
			return &remote.RejectedError{Op: op, Reason: remote.ReasonInvalid, StatusCode: gerr.Code, Err: err}
		}
		return &remote.NetworkError{Op: op, StatusCode: gerr.Code, Err: err}
	}

	// Token refresh failures: the grant was revoked or expired.
	var rerr *oauth2.RetrieveError
	if errors.As(err, &rerr) && rerr.Response != nil && rerr.Response.StatusCode < 500 {
		return &remote.RejectedError{Op: op, Reason: remote.ReasonPermission, StatusCode: rerr.Response.StatusCode, Err: err}
	}

	// Timeouts, connection failures and anything unrecognised are retried.
	return &remote.NetworkError{Op: op, Err: err}
}

// Package client is the client side of notification delivery: a REST client
// for the pull API, a reconnecting push session, and the local cache both
// feed.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/louisbranch/taskhub/internal/platform/timeouts"
	"github.com/louisbranch/taskhub/internal/services/notifications/client/offline"
	"github.com/louisbranch/taskhub/internal/services/notifications/domain"
)

// Doer issues HTTP requests. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// StatusError is a non-2xx API response.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("notifications api: status %d", e.StatusCode)
	}
	return fmt.Sprintf("notifications api: status %d: %s", e.StatusCode, e.Message)
}

// TransportError wraps a failure to reach the server at all. It marks the
// client as offline.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string { return "notifications transport: " + e.Err.Error() }

func (e *TransportError) Unwrap() error { return e.Err }

// IsOffline reports whether err came from an unreachable server.
func IsOffline(err error) bool {
	var transportErr *TransportError
	return errors.As(err, &transportErr)
}

// ListOptions selects one page of the pull API.
type ListOptions struct {
	Page   int
	Limit  int
	Filter Filter
}

// API is a client for the notifications pull API.
type API struct {
	baseURL string
	token   string
	doer    Doer
}

// NewAPI builds a client for baseURL authenticating with token.
func NewAPI(baseURL string, token string, doer Doer) *API {
	if doer == nil {
		doer = http.DefaultClient
	}
	return &API{baseURL: strings.TrimRight(baseURL, "/"), token: token, doer: doer}
}

// Authorize attaches the bearer token to req.
func (a *API) Authorize(req *http.Request) {
	if a.token != "" {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}
}

// List pulls one page of the caller's notifications.
func (a *API) List(ctx context.Context, opts ListOptions) (PullPage, error) {
	query := url.Values{}
	if opts.Page > 0 {
		query.Set("page", strconv.Itoa(opts.Page))
	}
	if opts.Limit > 0 {
		query.Set("limit", strconv.Itoa(opts.Limit))
	}
	if read := opts.Filter.readParam(); read != nil {
		query.Set("read", strconv.FormatBool(*read))
	}
	path := "/api/notifications"
	if encoded := query.Encode(); encoded != "" {
		path += "?" + encoded
	}
	var resp struct {
		Total       int                   `json:"total"`
		TotalPages  int                   `json:"totalPages"`
		CurrentPage int                   `json:"currentPage"`
		UnreadCount int                   `json:"unreadCount"`
		Data        []domain.Notification `json:"data"`
	}
	if err := a.do(ctx, http.MethodGet, path, &resp); err != nil {
		return PullPage{}, err
	}
	return PullPage{
		Notifications: resp.Data,
		Total:         resp.Total,
		TotalPages:    resp.TotalPages,
		CurrentPage:   resp.CurrentPage,
		UnreadCount:   resp.UnreadCount,
	}, nil
}

// UnreadCount returns the caller's unread badge count.
func (a *API) UnreadCount(ctx context.Context) (int, error) {
	var resp struct {
		Count int `json:"count"`
	}
	if err := a.do(ctx, http.MethodGet, "/api/notifications/unread-count", &resp); err != nil {
		return 0, err
	}
	return resp.Count, nil
}

// MarkRead marks one notification read.
func (a *API) MarkRead(ctx context.Context, notificationID string) (domain.Notification, error) {
	var resp struct {
		Data domain.Notification `json:"data"`
	}
	if err := a.do(ctx, http.MethodPut, markReadPath(notificationID), &resp); err != nil {
		return domain.Notification{}, err
	}
	return resp.Data, nil
}

// MarkAllRead marks every notification read and returns how many changed.
func (a *API) MarkAllRead(ctx context.Context) (int, error) {
	var resp struct {
		Count int `json:"count"`
	}
	if err := a.do(ctx, http.MethodPut, markAllReadPath, &resp); err != nil {
		return 0, err
	}
	return resp.Count, nil
}

// Delete removes one notification.
func (a *API) Delete(ctx context.Context, notificationID string) error {
	return a.do(ctx, http.MethodDelete, deletePath(notificationID), nil)
}

// Action describes method and path as a replayable offline action.
func (a *API) Action(method string, path string) offline.Action {
	return offline.Action{URL: a.baseURL + path, Method: method}
}

const markAllReadPath = "/api/notifications/read-all"

func markReadPath(notificationID string) string {
	return "/api/notifications/" + url.PathEscape(notificationID) + "/read"
}

func deletePath(notificationID string) string {
	return "/api/notifications/" + url.PathEscape(notificationID)
}

func (a *API) do(ctx context.Context, method string, path string, out any) error {
	ctx, cancel := context.WithTimeout(ctx, timeouts.HTTPRequest)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	a.Authorize(req)
	resp, err := a.doer.Do(req)
	if err != nil {
		return &TransportError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return &TransportError{Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var failure struct {
			Message string `json:"message"`
		}
		_ = json.Unmarshal(body, &failure)
		return &StatusError{StatusCode: resp.StatusCode, Message: failure.Message}
	}
	if out == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

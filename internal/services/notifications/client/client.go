package client

import (
	"context"
	"net/http"

	"github.com/louisbranch/taskhub/internal/platform/logging"
	"github.com/louisbranch/taskhub/internal/services/notifications/client/offline"
	"github.com/louisbranch/taskhub/internal/services/notifications/domain"
	"github.com/sirupsen/logrus"
)

const defaultPageLimit = 10

// Hooks observe client activity. Every field is optional.
type Hooks struct {
	// OnAlert fires for each newly pushed notification, for platform alerts.
	OnAlert func(domain.Notification)
	// OnError surfaces failed user actions. The optimistic local change is
	// kept.
	OnError func(error)
	// OnChange fires after any cache change.
	OnChange func(View)
}

// Client ties the pull API, the local cache, and the offline queue together.
type Client struct {
	api   *API
	cache *Cache
	queue *offline.Queue
	hooks Hooks
	limit int
	log   logrus.FieldLogger
}

// Option configures a Client.
type Option func(*Client)

// WithHooks installs hooks.
func WithHooks(hooks Hooks) Option {
	return func(c *Client) { c.hooks = hooks }
}

// WithPageLimit sets the pull page size.
func WithPageLimit(limit int) Option {
	return func(c *Client) {
		if limit > 0 {
			c.limit = limit
		}
	}
}

// WithLogger sets the client logger.
func WithLogger(log logrus.FieldLogger) Option {
	return func(c *Client) {
		if log != nil {
			c.log = log
		}
	}
}

// New builds a client. queue may be nil, in which case offline actions fail
// through OnError instead of being queued.
func New(api *API, queue *offline.Queue, opts ...Option) *Client {
	c := &Client{
		api:   api,
		cache: NewCache(),
		queue: queue,
		limit: defaultPageLimit,
		log:   logging.Discard(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// View returns the cached state.
func (c *Client) View() View {
	return c.cache.Snapshot()
}

// NewSession builds a push session feeding this client.
func (c *Client) NewSession(cfg SessionConfig) *Session {
	return NewSession(cfg, SessionHandlers{
		OnPush:       c.HandlePush,
		OnSubscribed: c.HandleSubscribed,
	}, c.log)
}

// HandlePush applies one pushed record.
func (c *Client) HandlePush(n domain.Notification) {
	if !c.cache.OnPush(n) {
		return
	}
	if c.hooks.OnAlert != nil {
		c.hooks.OnAlert(n)
	}
	c.changed()
}

// HandleSubscribed runs on every (re)subscribe: queued offline actions are
// replayed first, then a full pull reconciles anything missed while away.
func (c *Client) HandleSubscribed(ctx context.Context) {
	if c.queue != nil {
		result, err := c.queue.ReplayAll(ctx)
		if err != nil {
			c.log.WithError(err).WithField("remaining", result.Remaining).Info("offline replay incomplete")
		}
	}
	if err := c.Refresh(ctx); err != nil {
		c.reportError(err)
	}
}

// Refresh pulls the first page for the active filter.
func (c *Client) Refresh(ctx context.Context) error {
	return c.pull(ctx, 1)
}

// LoadMore pulls the next page, if any.
func (c *Client) LoadMore(ctx context.Context) error {
	view := c.cache.Snapshot()
	if !view.HasMore() {
		return nil
	}
	return c.pull(ctx, view.CurrentPage+1)
}

// SetFilter switches the read filter and pulls its first page.
func (c *Client) SetFilter(ctx context.Context, f Filter) error {
	c.cache.SetFilter(f)
	return c.Refresh(ctx)
}

// MarkRead optimistically marks one notification read.
func (c *Client) MarkRead(ctx context.Context, notificationID string) error {
	c.cache.OnLocalMutate(Mutation{Kind: MutationMarkRead, NotificationID: notificationID})
	c.changed()
	_, err := c.api.MarkRead(ctx, notificationID)
	return c.settle(ctx, err, http.MethodPut, markReadPath(notificationID))
}

// MarkAllRead optimistically marks everything read.
func (c *Client) MarkAllRead(ctx context.Context) error {
	c.cache.OnLocalMutate(Mutation{Kind: MutationMarkAllRead})
	c.changed()
	_, err := c.api.MarkAllRead(ctx)
	return c.settle(ctx, err, http.MethodPut, markAllReadPath)
}

// Delete optimistically removes one notification.
func (c *Client) Delete(ctx context.Context, notificationID string) error {
	c.cache.OnLocalMutate(Mutation{Kind: MutationDelete, NotificationID: notificationID})
	c.changed()
	err := c.api.Delete(ctx, notificationID)
	return c.settle(ctx, err, http.MethodDelete, deletePath(notificationID))
}

// settle queues the action when the server was unreachable and otherwise
// surfaces err.
func (c *Client) settle(ctx context.Context, err error, method string, path string) error {
	if err == nil {
		return nil
	}
	if IsOffline(err) && c.queue != nil {
		if queueErr := c.queue.Enqueue(ctx, c.api.Action(method, path)); queueErr != nil {
			c.reportError(queueErr)
			return queueErr
		}
		c.log.WithField("path", path).Debug("queued offline action")
		return nil
	}
	c.reportError(err)
	return err
}

func (c *Client) pull(ctx context.Context, page int) error {
	result, err := c.api.List(ctx, ListOptions{Page: page, Limit: c.limit, Filter: c.cache.Filter()})
	if err != nil {
		return err
	}
	c.cache.OnPull(result)
	c.changed()
	return nil
}

func (c *Client) reportError(err error) {
	c.log.WithError(err).Warn("notification action failed")
	if c.hooks.OnError != nil {
		c.hooks.OnError(err)
	}
}

func (c *Client) changed() {
	if c.hooks.OnChange != nil {
		c.hooks.OnChange(c.cache.Snapshot())
	}
}

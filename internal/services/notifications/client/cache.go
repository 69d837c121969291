package client

import (
	"sync"

	"github.com/louisbranch/taskhub/internal/services/notifications/domain"
)

// Filter selects which read state the cached list shows.
type Filter string

const (
	FilterAll    Filter = "all"
	FilterUnread Filter = "unread"
	FilterRead   Filter = "read"
)

// readParam converts the filter into the API's tri-state read parameter.
func (f Filter) readParam() *bool {
	switch f {
	case FilterUnread:
		read := false
		return &read
	case FilterRead:
		read := true
		return &read
	default:
		return nil
	}
}

func (f Filter) accepts(n domain.Notification) bool {
	switch f {
	case FilterUnread:
		return !n.IsRead
	case FilterRead:
		return n.IsRead
	default:
		return true
	}
}

// MutationKind names a local user action.
type MutationKind int

const (
	MutationMarkRead MutationKind = iota
	MutationMarkAllRead
	MutationDelete
)

// Mutation is one optimistic local change.
type Mutation struct {
	Kind           MutationKind
	NotificationID string
}

// PullPage is one page returned by the pull API.
type PullPage struct {
	Notifications []domain.Notification
	Total         int
	TotalPages    int
	CurrentPage   int
	UnreadCount   int
}

// View is a point-in-time copy of the cache.
type View struct {
	Notifications []domain.Notification
	UnreadCount   int
	Filter        Filter
	CurrentPage   int
	TotalPages    int
	Total         int
}

// HasMore reports whether another page can be loaded.
func (v View) HasMore() bool {
	return v.CurrentPage < v.TotalPages
}

// Cache mirrors the recipient's notifications. The unread counter is kept
// incrementally between pulls and may drift from the server until the next
// OnPull; all drift enters through OnPush and OnLocalMutate.
type Cache struct {
	mu          sync.RWMutex
	items       []domain.Notification
	unread      int
	filter      Filter
	currentPage int
	totalPages  int
	total       int
}

// NewCache returns an empty cache showing every notification.
func NewCache() *Cache {
	return &Cache{filter: FilterAll}
}

// OnPush applies a pushed record. It reports false when the id is already
// cached, in which case nothing changes.
func (c *Cache) OnPush(n domain.Notification) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.indexLocked(n.ID) >= 0 {
		return false
	}
	if !n.IsRead {
		c.unread++
	}
	if c.filter.accepts(n) {
		c.items = append([]domain.Notification{n}, c.items...)
		c.total++
	}
	return true
}

// OnPull reconciles a pulled page. Page one replaces the list; later pages
// append, skipping ids already cached. The unread counter resets to the
// server value.
func (c *Cache) OnPull(page PullPage) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if page.CurrentPage <= 1 {
		c.items = c.items[:0]
	}
	for _, n := range page.Notifications {
		if c.indexLocked(n.ID) >= 0 {
			continue
		}
		c.items = append(c.items, n)
	}
	c.unread = page.UnreadCount
	c.currentPage = page.CurrentPage
	c.totalPages = page.TotalPages
	c.total = page.Total
}

// OnLocalMutate applies an optimistic user action.
func (c *Cache) OnLocalMutate(m Mutation) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch m.Kind {
	case MutationMarkRead:
		i := c.indexLocked(m.NotificationID)
		if i < 0 || c.items[i].IsRead {
			return
		}
		c.items[i].IsRead = true
		c.decrementUnreadLocked()
		if !c.filter.accepts(c.items[i]) {
			c.removeLocked(i)
		}
	case MutationMarkAllRead:
		kept := c.items[:0]
		for _, n := range c.items {
			n.IsRead = true
			if c.filter.accepts(n) {
				kept = append(kept, n)
			} else {
				c.total--
			}
		}
		c.items = kept
		c.unread = 0
	case MutationDelete:
		i := c.indexLocked(m.NotificationID)
		if i < 0 {
			return
		}
		if !c.items[i].IsRead {
			c.decrementUnreadLocked()
		}
		c.removeLocked(i)
	}
}

// SetFilter switches the filter and clears the list for a fresh pull.
func (c *Cache) SetFilter(f Filter) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if f == "" {
		f = FilterAll
	}
	c.filter = f
	c.items = nil
	c.currentPage = 0
	c.totalPages = 0
	c.total = 0
}

// Filter returns the active filter.
func (c *Cache) Filter() Filter {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.filter
}

// Snapshot returns a copy of the cache.
func (c *Cache) Snapshot() View {
	c.mu.RLock()
	defer c.mu.RUnlock()

	items := make([]domain.Notification, len(c.items))
	copy(items, c.items)
	return View{
		Notifications: items,
		UnreadCount:   c.unread,
		Filter:        c.filter,
		CurrentPage:   c.currentPage,
		TotalPages:    c.totalPages,
		Total:         c.total,
	}
}

func (c *Cache) indexLocked(id string) int {
	for i, n := range c.items {
		if n.ID == id {
			return i
		}
	}
	return -1
}

func (c *Cache) removeLocked(i int) {
	c.items = append(c.items[:i], c.items[i+1:]...)
	if c.total > 0 {
		c.total--
	}
}

func (c *Cache) decrementUnreadLocked() {
	if c.unread > 0 {
		c.unread--
	}
}

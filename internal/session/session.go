// Package session holds the authenticated user and the cache store that
// operations, requests and the synchronizer share. A Context is created once
// at process start and passed to every constructor that needs it.
package session

import (
	"log/slog"
	"sync"

	"github.com/marcus/offsync/internal/cache"
	"github.com/marcus/offsync/internal/remote"
)

// Session is an authenticated connection to one remote server.
type Session struct {
	ServerURL    string `json:"server_url"`
	APIKey       string `json:"api_key"`
	UserID       int64  `json:"user_id"`
	CompanyID    int64  `json:"company_id,omitempty"`
	GroupID      int64  `json:"group_id,omitempty"`
	EmailAddress string `json:"email,omitempty"`
	ScreenName   string `json:"screen_name,omitempty"`
}

// Client returns a remote client bound to this session.
func (s *Session) Client() *remote.Client {
	return remote.New(s.ServerURL, s.APIKey)
}

// Context is the process-wide state. Safe for concurrent use.
type Context struct {
	mu      sync.RWMutex
	current *Session
	store   *cache.Store
	logger  *slog.Logger
}

// NewContext returns a logged-out context over store. A nil logger means
// slog.Default().
func NewContext(store *cache.Store, logger *slog.Logger) *Context {
	if logger == nil {
		logger = slog.Default()
	}
	return &Context{store: store, logger: logger}
}

// Login replaces the current session.
func (c *Context) Login(s *Session) {
	c.mu.Lock()
	c.current = s
	c.mu.Unlock()
	c.logger.Debug("session: login", "server", s.ServerURL, "user", s.UserID)
}

// Logout drops the current session. Cached data is kept.
func (c *Context) Logout() {
	c.mu.Lock()
	c.current = nil
	c.mu.Unlock()
}

// Current returns a copy of the current session.
func (c *Context) Current() (*Session, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.current == nil {
		return nil, false
	}
	s := *c.current
	return &s, true
}

// IsLoggedIn reports whether a session is set.
func (c *Context) IsLoggedIn() bool {
	_, ok := c.Current()
	return ok
}

// Cache returns the shared store.
func (c *Context) Cache() *cache.Store {
	return c.store
}

// Logger returns the shared logger.
func (c *Context) Logger() *slog.Logger {
	return c.logger
}

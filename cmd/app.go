package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/marcus/offsync/internal/cache"
	"github.com/marcus/offsync/internal/config"
	"github.com/marcus/offsync/internal/operation"
	"github.com/marcus/offsync/internal/session"
	"github.com/marcus/offsync/internal/strategy"
	"github.com/marcus/offsync/internal/sync"
	"github.com/marcus/offsync/internal/webhook"
	"github.com/spf13/cobra"

	// cgo driver, selected with cache.driver = "sqlite3"
	_ "github.com/mattn/go-sqlite3"
)

// app holds the process-wide pieces a command works with.
type app struct {
	store   *cache.Store
	session *session.Context
	queue   *operation.Queue
	engine  *strategy.Engine
}

// openApp opens the cache and logs in from the saved credentials. A
// missing login leaves the context logged out; remote calls then fail with
// AbortedDueToPreconditions.
func openApp() (*app, error) {
	dir, err := config.CacheDir()
	if err != nil {
		return nil, fmt.Errorf("cache dir: %w", err)
	}
	logger := slog.Default()
	store, err := cache.Open(cache.Options{Dir: dir, Driver: config.SQLiteDriver(), Logger: logger})
	if err != nil {
		return nil, err
	}

	sc := session.NewContext(store, logger)
	if s, err := savedSession(); err != nil {
		store.Close()
		return nil, err
	} else if s != nil {
		sc.Login(s)
	}

	q := operation.NewQueue(sc, logger)
	return &app{
		store:   store,
		session: sc,
		queue:   q,
		engine:  strategy.NewEngine(q, logger),
	}, nil
}

// savedSession builds a session from auth.json and the env overrides.
// It returns nil when no API key is configured.
func savedSession() (*session.Session, error) {
	key := config.APIKey()
	if key == "" {
		return nil, nil
	}
	s := &session.Session{ServerURL: config.ServerURL(), APIKey: key}
	creds, err := config.LoadAuth()
	if err != nil {
		return nil, fmt.Errorf("load auth: %w", err)
	}
	if creds != nil {
		s.UserID = creds.UserID
		s.CompanyID = creds.CompanyID
		s.GroupID = creds.GroupID
		s.EmailAddress = creds.Email
		s.ScreenName = creds.ScreenName
	}
	return s, nil
}

// Close waits for background cache writes, stops the queue and closes the
// store.
func (a *app) Close() {
	if err := a.engine.Flush(); err != nil {
		slog.Warn("cmd: background cache write", "err", err)
	}
	a.queue.Close()
	a.store.Close()
}

// syncManager returns a manager reporting to delegate.
func (a *app) syncManager(delegate sync.Delegate) *sync.Manager {
	return sync.NewManager(a.session, a.engine, delegate, slog.Default())
}

// notify posts rep to the configured webhook. Failures are logged only.
func (a *app) notify(ctx context.Context, rep sync.Report) {
	url := config.WebhookURL()
	if url == "" {
		return
	}
	var server string
	var userID int64
	if s, ok := a.session.Current(); ok {
		server, userID = s.ServerURL, s.UserID
	}
	pending, err := a.store.PendingByCollection(ctx)
	if err != nil {
		slog.Debug("webhook: pending counts", "err", err)
	}
	payload := webhook.BuildPayload(server, userID, rep, pending)
	if err := webhook.Dispatch(ctx, url, config.WebhookSecret(), payload); err != nil {
		slog.Warn("webhook: dispatch", "url", url, "err", err)
		return
	}
	slog.Debug("webhook: dispatched", "url", url, "count", rep.Count)
}

// withApp opens the app for the duration of fn.
func withApp(fn func(ctx context.Context, a *app) error) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()
		return fn(cmd.Context(), a)
	}
}

// addPolicyFlag registers --policy on c.
func addPolicyFlag(c *cobra.Command) {
	p := new(strategy.Policy)
	c.Flags().Var(p, "policy", "cache policy: remote-only, remote-first, cache-only, cache-first (default from config)")
}

// policyFlag returns --policy when given, otherwise the configured default.
func policyFlag(c *cobra.Command) (strategy.Policy, error) {
	if f := c.Flags().Lookup("policy"); f != nil && f.Changed {
		return *f.Value.(*strategy.Policy), nil
	}
	return strategy.ParsePolicy(config.DefaultPolicy())
}

// parseID parses a positive numeric id argument.
func parseID(what, s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s %q", what, s)
	}
	return id, nil
}

// parseAssignments turns ["a=1", "b=x"] into a value map. Values that parse
// as JSON numbers, booleans or null keep that type; everything else is a
// string.
func parseAssignments(pairs []string) (map[string]any, error) {
	out := make(map[string]any, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid assignment %q (want key=value)", p)
		}
		out[k] = scalar(v)
	}
	return out, nil
}

func scalar(v string) any {
	switch v {
	case "true":
		return true
	case "false":
		return false
	case "null":
		return nil
	}
	if n, err := strconv.ParseInt(v, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return f
	}
	return v
}

package api

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/marcus/offsync/internal/serverdb"
)

type contextKey int

const (
	ctxKeyAuthUser contextKey = iota
	ctxKeyLogger
)

// AuthUser is the caller behind a verified API key.
type AuthUser struct {
	serverdb.User
	KeyID string
}

func getUserFromContext(ctx context.Context) *AuthUser {
	u, _ := ctx.Value(ctxKeyAuthUser).(*AuthUser)
	return u
}

// logFor returns the request logger, or the default logger outside a request.
func logFor(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(ctxKeyLogger).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}

type statusCapture struct {
	http.ResponseWriter
	code int
}

func (sc *statusCapture) WriteHeader(code int) {
	sc.code = code
	sc.ResponseWriter.WriteHeader(code)
}

// observe tags each request with an X-Request-ID and a logger carrying it,
// recovers panics as 500s, and records the outcome in m and the log.
func observe(m *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rid := uuid.NewString()
			w.Header().Set("X-Request-ID", rid)
			l := slog.Default().With("rid", rid)
			r = r.WithContext(context.WithValue(r.Context(), ctxKeyLogger, l))

			start := time.Now()
			sc := &statusCapture{ResponseWriter: w, code: http.StatusOK}
			defer func() {
				if rec := recover(); rec != nil {
					l.Error("panic recovered", "panic", rec, "path", r.URL.Path)
					writeError(sc, http.StatusInternalServerError, ErrCodeInternal, "internal server error")
				}
				m.RecordRequest()
				switch {
				case sc.code >= 500:
					m.RecordError()
				case sc.code >= 400:
					m.RecordClientError()
				}
				l.Info("req", "method", r.Method, "path", r.URL.Path, "status", sc.code, "dur", time.Since(start).String())
			}()
			next.ServeHTTP(sc, r)
		})
	}
}

// requireAuth resolves the Bearer token to an AuthUser before calling handler.
func (s *Server) requireAuth(handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || token == "" {
			writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, "missing bearer token")
			return
		}
		ak, user, err := s.store.VerifyAPIKey(token)
		if err != nil {
			logFor(r.Context()).Error("verify api key", "err", err)
			writeError(w, http.StatusInternalServerError, ErrCodeInternal, "failed to verify key")
			return
		}
		if ak == nil {
			writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, "invalid or expired api key")
			return
		}

		ctx := context.WithValue(r.Context(), ctxKeyAuthUser, &AuthUser{User: *user, KeyID: ak.ID})
		ctx = context.WithValue(ctx, ctxKeyLogger, logFor(ctx).With("uid", user.ID))
		handler(w, r.WithContext(ctx))
	}
}

func limitBody(n int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, n)
			next.ServeHTTP(w, r)
		})
	}
}

// chain wraps h so the first middleware is outermost.
func chain(h http.Handler, mws ...func(http.Handler) http.Handler) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"

	"github.com/veranemoloko/offline-downloader/internal/auth"
	"github.com/veranemoloko/offline-downloader/internal/metrics"
)

// TokenVerifier resolves a bearer token to an identity.
type TokenVerifier interface {
	Verify(raw string) (*auth.Identity, error)
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			next.ServeHTTP(ww, r)

			logger.Info("request completed",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"remote_addr", r.RemoteAddr,
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}

// authenticate rejects requests without a valid "Bearer" or "Token"
// Authorization header and stores the caller's identity in the context.
func authenticate(verifier TokenVerifier, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				writeError(w, http.StatusUnauthorized, "Authentication credentials were not provided.")
				return
			}

			raw, err := auth.TokenFromHeader(header)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "Invalid token header.")
				return
			}

			id, err := verifier.Verify(raw)
			if err != nil {
				logger.Debug("token rejected", "error", err, "request_id", middleware.GetReqID(r.Context()))
				writeError(w, http.StatusUnauthorized, "Invalid token.")
				return
			}

			next.ServeHTTP(w, r.WithContext(auth.WithIdentity(r.Context(), id)))
		})
	}
}

func requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := auth.FromContext(r.Context())
		if !ok || !id.IsAdmin {
			writeError(w, http.StatusForbidden, "Permission denied.")
			return
		}
		next.ServeHTTP(w, r)
	})
}

const throttleCacheSize = 10000

// userThrottle is a token bucket per authenticated user. The least recently
// seen users are forgotten once the cache is full.
type userThrottle struct {
	limit    rate.Limit
	burst    int
	limiters *lru.Cache[string, *rate.Limiter]
}

// newUserThrottle returns nil when perSecond is not positive.
func newUserThrottle(perSecond float64, burst int) *userThrottle {
	if perSecond <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	limiters, err := lru.New[string, *rate.Limiter](throttleCacheSize)
	if err != nil {
		panic(err)
	}
	return &userThrottle{
		limit:    rate.Limit(perSecond),
		burst:    burst,
		limiters: limiters,
	}
}

func (t *userThrottle) limiter(user string) *rate.Limiter {
	if lim, ok := t.limiters.Get(user); ok {
		return lim
	}
	lim := rate.NewLimiter(t.limit, t.burst)
	if prev, found, _ := t.limiters.PeekOrAdd(user, lim); found {
		return prev
	}
	return lim
}

func (t *userThrottle) Middleware(next http.Handler) http.Handler {
	if t == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := auth.FromContext(r.Context())
		if ok && !t.limiter(id.Username).Allow() {
			metrics.RequestsThrottled.Inc()
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, "Request was throttled.")
			return
		}
		next.ServeHTTP(w, r)
	})
}

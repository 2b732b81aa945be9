package router

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/response"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/session"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/user"
	"github.com/ovaphlow/pitchfork/service-auth-go/pkg/utilities"
)

const (
	serviceName   = "pitchfork-auth"
	healthTimeout = 2 * time.Second
)

// loggingResponseWriter wraps http.ResponseWriter to capture status and size.
type loggingResponseWriter struct {
	http.ResponseWriter
	status int
	size   int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	if lrw.status == 0 {
		lrw.status = code
	}
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Write(b []byte) (int, error) {
	if lrw.status == 0 {
		lrw.status = http.StatusOK
	}
	n, err := lrw.ResponseWriter.Write(b)
	lrw.size += n
	return n, err
}

func (lrw *loggingResponseWriter) statusCode() int {
	if lrw.status == 0 {
		return http.StatusOK
	}
	return lrw.status
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (lrw *loggingResponseWriter) Unwrap() http.ResponseWriter { return lrw.ResponseWriter }

type requestIDKey struct{}

// RequestIDFromContext returns the id assigned by RequestIDMiddleware.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// RequestIDMiddleware propagates X-Request-ID, generating one when the client sent none.
func RequestIDMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get("X-Request-ID")
			if id == "" || len(id) > 128 {
				id = utilities.NewRequestID()
			}
			w.Header().Set("X-Request-ID", id)
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
		})
	}
}

// LoggingMiddleware returns a middleware that logs requests at debug level using the provided sugared logger.
func LoggingMiddleware(logger *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			lrw := &loggingResponseWriter{ResponseWriter: w}
			next.ServeHTTP(lrw, r)
			dur := time.Since(start)
			logger.Debugw("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"remote", r.RemoteAddr,
				"status", lrw.statusCode(),
				"duration_ms", float64(dur.Microseconds())/1000.0,
				"size", lrw.size,
				"request_id", RequestIDFromContext(r.Context()),
			)
		})
	}
}

// RecoverMiddleware turns a handler panic into a 500 envelope.
func RecoverMiddleware(logger *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				logger.Errorw("panic serving request",
					"method", r.Method,
					"path", r.URL.Path,
					"request_id", RequestIDFromContext(r.Context()),
					"panic", rec,
					zap.StackSkip("stack", 2),
				)
				response.Error(w, http.StatusInternalServerError, response.CodeInternal, "Internal server error")
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// SecurityHeadersMiddleware returns a middleware that sets common HTTP security headers.
func SecurityHeadersMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("X-Frame-Options", "DENY")
			w.Header().Set("Referrer-Policy", "no-referrer")
			w.Header().Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")
			// responses are JSON only
			w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
			w.Header().Set("Cache-Control", "no-store")
			if r.TLS != nil {
				w.Header().Set("Strict-Transport-Security", "max-age=2592000; includeSubDomains")
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Deps are the collaborators the router mounts.
type Deps struct {
	Logger  *zap.SugaredLogger
	Auth    *user.AuthService
	Codec   *session.Codec
	Metrics *Metrics
}

type endpoint struct {
	Method string `json:"method"`
	Path   string `json:"path"`
	Auth   bool   `json:"auth"`
}

type serviceInfo struct {
	Service   string     `json:"service"`
	Endpoints []endpoint `json:"endpoints"`
}

type healthStatus struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Database  string    `json:"database"`
}

// RegisterRoutes mounts HTTP handlers using the standard library's http.ServeMux.
func RegisterRoutes(d Deps) http.Handler {
	mux := http.NewServeMux()
	guard := session.RequireBearer(d.Codec, d.Logger)
	h := user.NewHandler(d.Auth, d.Logger)

	routes := []struct {
		endpoint
		handler http.HandlerFunc
	}{
		{endpoint{http.MethodPost, "/auth/register", false}, h.Register},
		{endpoint{http.MethodPost, "/auth/login", false}, h.Login},
		{endpoint{http.MethodGet, "/auth/me", true}, h.Me},
		{endpoint{http.MethodPut, "/auth/profile", true}, h.UpdateProfile},
		{endpoint{http.MethodPut, "/auth/change-password", true}, h.ChangePassword},
		{endpoint{http.MethodPost, "/auth/refresh", true}, h.Refresh},
		{endpoint{http.MethodPost, "/auth/logout", true}, h.Logout},
	}

	info := serviceInfo{Service: serviceName}
	for _, rt := range routes {
		var handler http.Handler = rt.handler
		if rt.Auth {
			handler = guard(handler)
		}
		mux.Handle(rt.Method+" "+rt.Path, handler)
		info.Endpoints = append(info.Endpoints, rt.endpoint)
	}

	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		response.OK(w, http.StatusOK, "Auth service is running", info)
	})

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()
		st := healthStatus{Status: "ok", Timestamp: time.Now().UTC(), Database: "up"}
		code := http.StatusOK
		if err := d.Auth.Ping(ctx); err != nil {
			d.Logger.Warnw("health check: store unreachable", "err", err)
			st.Status, st.Database = "degraded", "down"
			code = http.StatusServiceUnavailable
		}
		response.JSON(w, code, response.Success{Success: code == http.StatusOK, Data: st})
	})

	mux.Handle("GET /metrics", d.Metrics.Handler())

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotFound, response.CodeNotFound, "Endpoint not found")
	})

	// outermost first: request id, logging, recover, security headers, metrics
	var handler http.Handler = d.Metrics.Middleware(mux)
	handler = SecurityHeadersMiddleware()(handler)
	handler = RecoverMiddleware(d.Logger)(handler)
	handler = LoggingMiddleware(d.Logger)(handler)
	handler = RequestIDMiddleware()(handler)
	return handler
}

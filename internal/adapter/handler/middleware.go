package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/rl1809/checkout/internal/logger"
)

type userIDKey struct{}

func userIDFrom(ctx context.Context) int64 {
	id, _ := ctx.Value(userIDKey{}).(int64)
	return id
}

// requestLogger tags the request context with the chi request id and logs
// the request once it completes.
func (h *HTTPHandler) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx := logger.WithFields(r.Context(), zap.String("request_id", middleware.GetReqID(r.Context())))
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r.WithContext(ctx))

		logger.FromContext(ctx, h.log).Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", statusOf(ww)),
			zap.Duration("elapsed", time.Since(start)))
	})
}

// requireUser resolves the caller from the X-User-ID header.
func (h *HTTPHandler) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(r.Header.Get(headerUserID), 10, 64)
		if err != nil || id <= 0 {
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "missing or invalid " + headerUserID + " header"})
			return
		}

		ctx := context.WithValue(r.Context(), userIDKey{}, id)
		ctx = logger.WithFields(ctx, zap.Int64("user_id", id))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (h *HTTPHandler) instrument(name string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if h.metrics == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			h.metrics.Requests.WithLabelValues(name, strconv.Itoa(statusOf(ww))).Inc()
			h.metrics.LatencyMS.WithLabelValues(name).Observe(float64(time.Since(start).Milliseconds()))
		})
	}
}

func statusOf(ww middleware.WrapResponseWriter) int {
	if ww.Status() == 0 {
		return http.StatusOK
	}
	return ww.Status()
}

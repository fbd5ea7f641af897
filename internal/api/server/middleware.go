package server

import (
	"fmt"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/xela07ax/obsidian-remote-cli/internal/api/respond"
	"github.com/xela07ax/obsidian-remote-cli/internal/domain"
	"github.com/xela07ax/obsidian-remote-cli/internal/engine"
)

// AccessLog - аналог middleware.Logger из chi, но через zap.
func AccessLog(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				logger.Info("request",
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Int("status", ww.Status()),
					zap.Int("bytes", ww.BytesWritten()),
					zap.Duration("duration", time.Since(start)),
					zap.String("remote", r.RemoteAddr),
					zap.String("request_id", middleware.GetReqID(r.Context())),
					zap.String("trace_id", engine.ExtractTraceID(r.Context())))
			}()

			next.ServeHTTP(ww, r)
		})
	}
}

// Recoverer - как middleware.Recoverer, но отвечает JSON и пишет стек в zap.
func Recoverer(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rvr := recover()
				if rvr == nil {
					return
				}
				if rvr == http.ErrAbortHandler {
					panic(rvr)
				}

				logger.Error("panic recovered",
					zap.Any("panic", rvr),
					zap.String("path", r.URL.Path),
					zap.ByteString("stack", debug.Stack()))

				msg := fmt.Sprint(rvr)
				respond.JSON(w, http.StatusInternalServerError, domain.FailureResponse{
					Status:  domain.StatusError,
					Message: "Unexpected error: " + msg,
					Error:   msg,
				})
			}()

			next.ServeHTTP(w, r)
		})
	}
}

package server

import (
	"net/http"
	"strings"
	"time"

	applog "github.com/pinapelz/rasis/internal/logger"

	"github.com/go-chi/chi/middleware"
	"go.uber.org/zap"
)

// middlewareLogger is used for request logging. Only Zap logger is supported now, or dummy.
func middlewareLogger(logger applog.Logger) func(next http.Handler) http.Handler {
	l, ok := logger.(*zap.SugaredLogger)
	if ok {
		log := l.Desugar()
		return func(next http.Handler) http.Handler {
			fn := func(w http.ResponseWriter, r *http.Request) {
				ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

				t := time.Now()
				defer func() {
					// Do not log kube-probe healtchecks
					if !strings.HasPrefix(r.UserAgent(), "kube-probe") {
						log.Info("Served",
							zap.String("method", r.Method),
							zap.String("RemoteAddr", r.RemoteAddr),
							zap.String("Proto", r.Proto),
							zap.String("Path", r.URL.Path),
							zap.String("reqID", middleware.GetReqID(r.Context())),
							zap.Duration("Duration", time.Since(t)),
							zap.Int("size", ww.BytesWritten()),
							zap.Int("status", ww.Status()),
						)
					}
				}()

				next.ServeHTTP(ww, r)
			}
			return http.HandlerFunc(fn)
		}
	}
	// if not zap.SugaredLogger, return dummy middleware
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { next.ServeHTTP(w, r) })
	}
}

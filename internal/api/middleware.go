package api

import (
	"net/http"
	"runtime/debug"
	"time"

	perr "github.com/ginjaninja78/payment-import/internal/errors"
	"github.com/ginjaninja78/payment-import/internal/logger"
	"github.com/go-chi/chi/v5/middleware"
)

// statusWriter records the status code and body size of a response.
type statusWriter struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (sw *statusWriter) WriteHeader(code int) {
	sw.status = code
	sw.ResponseWriter.WriteHeader(code)
}

func (sw *statusWriter) Write(b []byte) (int, error) {
	n, err := sw.ResponseWriter.Write(b)
	sw.bytes += n
	return n, err
}

// accessLog logs one line per request. Requests slower than slow are logged
// at warn level; 0 disables that.
func accessLog(slow time.Duration) func(http.Handler) http.Handler {
	log := logger.Named("http")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			start := time.Now()

			next.ServeHTTP(sw, r)

			elapsed := time.Since(start)
			evt := log.Info()
			if slow > 0 && elapsed >= slow {
				evt = log.Warn()
			}
			evt.Str("request_id", middleware.GetReqID(r.Context())).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", sw.status).
				Int("bytes", sw.bytes).
				Dur("elapsed", elapsed).
				Msg("request done")
		})
	}
}

// recoverJSON turns a panic into a JSON 500 and logs the stack.
func recoverJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				if v == http.ErrAbortHandler {
					panic(v)
				}
				logger.Named("http").Error().
					Str("request_id", middleware.GetReqID(r.Context())).
					Interface("panic", v).
					Msgf("panic recovered\n%s", debug.Stack())
				writeError(w, perr.New(perr.ErrorCodeUnknown, "internal error"))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// Package httpapi содержит HTTP-интерфейсы сервисов заказов, склада и платежей.
package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"
)

// BasePath задаёт общий префикс API всех сервисов.
const BasePath = "/api/v1"

const defaultRequestTimeout = 15 * time.Second

// Routes регистрирует обработчики сервиса на роутере.
type Routes interface {
	Register(r chi.Router)
}

// NewRouter собирает chi-роутер с общими middleware и монтирует routes под BasePath.
func NewRouter(logger *log.Entry, timeout time.Duration, routes ...Routes) *chi.Mux {
	if logger == nil {
		logger = log.New().WithField("component", "http-api")
	}
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)
	r.Use(middleware.Timeout(timeout))
	r.Use(requestLogger(logger))

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, ErrorBody{Error: "route not found"})
	})

	r.Route(BasePath, func(api chi.Router) {
		for _, rt := range routes {
			rt.Register(api)
		}
	})
	return r
}

func requestLogger(logger *log.Entry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.WithFields(log.Fields{
				"method":      r.Method,
				"path":        r.URL.Path,
				"status":      ww.Status(),
				"duration_ms": time.Since(start).Milliseconds(),
				"request_id":  middleware.GetReqID(r.Context()),
			}).Debug("http request")
		})
	}
}

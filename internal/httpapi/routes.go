package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/DoyleJ11/storefront-realtime/internal/backend"
	"github.com/DoyleJ11/storefront-realtime/internal/hub"
	"github.com/DoyleJ11/storefront-realtime/internal/ws"
)

const (
	RestPrefix   = "/rest/v1"
	RealtimePath = "/realtime/v1"
)

func SetupRoutes(b backend.Backend, h *hub.Hub, log *zap.Logger) http.Handler {
	log = log.Named("http")
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestLog(log))

	r.Get("/healthz", Healthz(h, log))

	r.Route(RestPrefix+"/{table}", func(r chi.Router) {
		r.Get("/", ListRows(b, log))
		r.Post("/", InsertRow(b, log))
		r.Patch("/{id}", UpdateRow(b, log))
		r.Delete("/{id}", DeleteRow(b, log))
	})

	r.Get(RealtimePath, ws.Handler(b, log))
	return r
}

func requestLog(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Debug("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("took", time.Since(start)),
			)
		})
	}
}

// Package adminapi implements the admin HTTP interface described as an
// external collaborator in §6: POST /login, POST /group_list, and
// POST /group_info, Bearer-token authorized against the session cache's
// auth-token map.
package adminapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/ziyouwa/vnts/internal/logger"
	"github.com/ziyouwa/vnts/pkg/adminapi/handlers"
	adminmw "github.com/ziyouwa/vnts/pkg/adminapi/middleware"
)

// NewRouter wires the chi router with the middleware stack the teacher's
// own admin API uses (request id, real IP, recovery, timeout, request
// logging) and the three admin endpoints.
func NewRouter(authHandler *handlers.AuthHandler, groupHandler *handlers.GroupHandler, tokens adminmw.TokenValidator) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Second))

	r.Post("/login", authHandler.Login)

	r.Group(func(r chi.Router) {
		r.Use(adminmw.RequireToken(tokens))
		r.Post("/group_list", groupHandler.List)
		r.Post("/group_info", groupHandler.Info)
	})

	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := middleware.GetReqID(r.Context())

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		logger.Info("admin api request",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start).String(),
		)
	})
}

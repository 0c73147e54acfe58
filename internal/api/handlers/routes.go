// routes.go - таблица маршрутов API (соответствует openapi.yaml).
package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/bigkaa/goartstore/vault-module/internal/api/middleware"
	"github.com/bigkaa/goartstore/vault-module/internal/domain/model"
)

// HandlerFromMux регистрирует все маршруты API на роутере r.
func HandlerFromMux(h *APIHandler, r chi.Router) http.Handler {
	r.Get("/health/live", h.HealthLive)
	r.Get("/health/ready", h.HealthReady)
	r.Get("/metrics", h.GetMetrics)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/me", h.GetMe)

		r.Route("/files", func(r chi.Router) {
			r.Post("/", h.UploadFile)
			r.Get("/", h.ListFiles)
			r.Get("/public", h.ListPublicFiles)
			r.Get("/stats", h.GetOwnStats)

			r.Route("/{fileId}", func(r chi.Router) {
				r.Get("/", h.GetFile)
				r.Patch("/", h.UpdateFile)
				r.Delete("/", h.DeleteFile)
				r.Get("/download", h.DownloadFile)
				r.Get("/content", h.GetFileContent)
			})
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.RequireRole(model.RoleAdmin))

			r.Get("/stats", h.GetStorageStats)
			r.Get("/files", h.AdminListFiles)
			r.Get("/users", h.AdminListUsers)
			r.Get("/users/{userId}", h.AdminGetUser)
			r.Get("/users/{userId}/files", h.AdminListUserFiles)
			r.Get("/users/{userId}/stats", h.AdminUserStats)
		})
	})

	return r
}

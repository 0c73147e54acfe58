// admin.go - обработчики /api/v1/me и /api/v1/admin endpoints.
// Маршруты /admin защищены RequireRole(admin) на уровне роутера.
package handlers

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/oapi-codegen/runtime"

	apierrors "github.com/bigkaa/goartstore/vault-module/internal/api/errors"
	"github.com/bigkaa/goartstore/vault-module/internal/service"
)

// bindUserID извлекает path-параметр userId (subject пользователя).
func bindUserID(w http.ResponseWriter, r *http.Request) (string, bool) {
	var userID string

	err := runtime.BindStyledParameterWithOptions("simple", "userId", chi.URLParam(r, "userId"), &userID,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Explode: false, Required: true})
	if err != nil || userID == "" {
		apierrors.ValidationError(w, fmt.Sprintf("Некорректный параметр userId: %v", err))
		return "", false
	}
	return userID, true
}

// GetMe - GET /api/v1/me. Запись каталога текущего пользователя.
// Если синхронизация ещё не прошла, профиль берётся из claims.
func (h *APIHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireClaims(w, r)
	if !ok {
		return
	}

	u, err := h.users.Get(r.Context(), claims.Subject)
	if err != nil {
		if !errors.Is(err, service.ErrNotFound) {
			h.writeServiceError(w, err, "get_me")
			return
		}
		fallback := claims.User()
		u = &fallback
	}

	writeJSON(w, http.StatusOK, toUserDTO(u))
}

// GetStorageStats - GET /api/v1/admin/stats. Аналитика по всему реестру.
func (h *APIHandler) GetStorageStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.stats.StorageStats(r.Context())
	if err != nil {
		h.writeServiceError(w, err, "storage_stats")
		return
	}
	writeJSON(w, http.StatusOK, toStatsDTO(stats))
}

// AdminListFiles - GET /api/v1/admin/files. Все записи реестра без locator.
func (h *APIHandler) AdminListFiles(w http.ResponseWriter, r *http.Request) {
	limit, offset, ok := bindPagination(w, r)
	if !ok {
		return
	}

	files, total, err := h.files.ListAll(r.Context(), limit, offset)
	if err != nil {
		h.writeServiceError(w, err, "admin_list_files")
		return
	}
	writeJSON(w, http.StatusOK, toFileList(files, total, limit, offset, false))
}

// AdminListUsers - GET /api/v1/admin/users.
func (h *APIHandler) AdminListUsers(w http.ResponseWriter, r *http.Request) {
	limit, offset, ok := bindPagination(w, r)
	if !ok {
		return
	}

	users, total, err := h.users.List(r.Context(), limit, offset)
	if err != nil {
		h.writeServiceError(w, err, "admin_list_users")
		return
	}

	items := make([]userDTO, 0, len(users))
	for _, u := range users {
		items = append(items, toUserDTO(u))
	}
	writeJSON(w, http.StatusOK, userListDTO{Items: items, Total: total, Limit: limit, Offset: offset})
}

// AdminGetUser - GET /api/v1/admin/users/{userId}.
func (h *APIHandler) AdminGetUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := bindUserID(w, r)
	if !ok {
		return
	}

	u, err := h.users.Get(r.Context(), userID)
	if err != nil {
		h.writeServiceError(w, err, "admin_get_user")
		return
	}
	writeJSON(w, http.StatusOK, toUserDTO(u))
}

// AdminListUserFiles - GET /api/v1/admin/users/{userId}/files.
func (h *APIHandler) AdminListUserFiles(w http.ResponseWriter, r *http.Request) {
	userID, ok := bindUserID(w, r)
	if !ok {
		return
	}
	limit, offset, ok := bindPagination(w, r)
	if !ok {
		return
	}

	files, total, err := h.files.ListOwned(r.Context(), userID, limit, offset)
	if err != nil {
		h.writeServiceError(w, err, "admin_list_user_files")
		return
	}
	writeJSON(w, http.StatusOK, toFileList(files, total, limit, offset, false))
}

// AdminUserStats - GET /api/v1/admin/users/{userId}/stats.
func (h *APIHandler) AdminUserStats(w http.ResponseWriter, r *http.Request) {
	userID, ok := bindUserID(w, r)
	if !ok {
		return
	}

	stats, err := h.stats.UserStats(r.Context(), userID)
	if err != nil {
		h.writeServiceError(w, err, "admin_user_stats")
		return
	}
	writeJSON(w, http.StatusOK, userStatsDTO{User: toUserDTO(stats.User), Usage: toUsageDTO(stats.Usage)})
}

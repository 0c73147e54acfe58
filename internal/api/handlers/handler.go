// handler.go - основной обработчик API Vault Module.
// Объединяет доменные обработчики и делегирует запросы в сервисный слой.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/oapi-codegen/runtime"
	openapi_types "github.com/oapi-codegen/runtime/types"

	apierrors "github.com/bigkaa/goartstore/vault-module/internal/api/errors"
	"github.com/bigkaa/goartstore/vault-module/internal/api/middleware"
	"github.com/bigkaa/goartstore/vault-module/internal/service"
)

// APIHandler - основной обработчик API Vault Module.
type APIHandler struct {
	health   *HealthHandler
	upload   *service.UploadService
	deleter  *service.DeletionReconciler
	files    *service.FileService
	stats    *service.AnalyticsService
	users    *service.UserDirectory
	maxBytes int64
	logger   *slog.Logger
}

// NewAPIHandler создаёт основной обработчик API.
// maxUploadSize - лимит тела multipart-запроса (0 - без лимита).
func NewAPIHandler(
	health *HealthHandler,
	upload *service.UploadService,
	deleter *service.DeletionReconciler,
	files *service.FileService,
	stats *service.AnalyticsService,
	users *service.UserDirectory,
	maxUploadSize int64,
	logger *slog.Logger,
) *APIHandler {
	return &APIHandler{
		health:   health,
		upload:   upload,
		deleter:  deleter,
		files:    files,
		stats:    stats,
		users:    users,
		maxBytes: maxUploadSize,
		logger:   logger.With(slog.String("component", "api_handler")),
	}
}

// HealthLive - liveness-проверка (делегируется в HealthHandler).
func (h *APIHandler) HealthLive(w http.ResponseWriter, r *http.Request) {
	h.health.HealthLive(w, r)
}

// HealthReady - readiness-проверка (делегируется в HealthHandler).
func (h *APIHandler) HealthReady(w http.ResponseWriter, r *http.Request) {
	h.health.HealthReady(w, r)
}

// GetMetrics - Prometheus метрики (делегируется в HealthHandler).
func (h *APIHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	h.health.GetMetrics(w, r)
}

// --- Вспомогательные функции ---

// writeJSON записывает JSON-ответ с указанным статусом.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// paginationDefaults нормализует параметры пагинации.
// Возвращает корректные limit и offset.
func paginationDefaults(limit *int, offset *int) (int, int) {
	l := 100
	o := 0

	if limit != nil {
		l = *limit
		if l < 1 {
			l = 1
		}
		if l > 1000 {
			l = 1000
		}
	}

	if offset != nil {
		o = *offset
		if o < 0 {
			o = 0
		}
	}

	return l, o
}

// bindPagination разбирает query-параметры limit и offset.
// Возвращает false, если ответ с ошибкой уже записан.
func bindPagination(w http.ResponseWriter, r *http.Request) (int, int, bool) {
	var limit, offset *int
	query := r.URL.Query()

	if err := runtime.BindQueryParameter("form", true, false, "limit", query, &limit); err != nil {
		apierrors.ValidationError(w, fmt.Sprintf("Некорректный параметр limit: %s", err))
		return 0, 0, false
	}
	if err := runtime.BindQueryParameter("form", true, false, "offset", query, &offset); err != nil {
		apierrors.ValidationError(w, fmt.Sprintf("Некорректный параметр offset: %s", err))
		return 0, 0, false
	}

	l, o := paginationDefaults(limit, offset)
	return l, o, true
}

// bindFileID извлекает path-параметр fileId (UUID).
// Возвращает false, если ответ с ошибкой уже записан.
func bindFileID(w http.ResponseWriter, r *http.Request) (string, bool) {
	var fileID openapi_types.UUID

	err := runtime.BindStyledParameterWithOptions("simple", "fileId", chi.URLParam(r, "fileId"), &fileID,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Explode: false, Required: true})
	if err != nil {
		apierrors.ValidationError(w, fmt.Sprintf("Некорректный параметр fileId: %s", err))
		return "", false
	}
	return fileID.String(), true
}

// requireClaims возвращает claims аутентифицированного субъекта.
func requireClaims(w http.ResponseWriter, r *http.Request) (*middleware.AuthClaims, bool) {
	claims := middleware.ClaimsFromContext(r.Context())
	if claims == nil {
		apierrors.Unauthorized(w, "Отсутствуют claims")
		return nil, false
	}
	return claims, true
}

// writeServiceError преобразует ошибку сервисного слоя в HTTP-ответ.
// Неожиданные ошибки логируются с контекстом op.
func (h *APIHandler) writeServiceError(w http.ResponseWriter, err error, op string) {
	var maxBytesErr *http.MaxBytesError

	switch {
	case errors.As(err, &maxBytesErr):
		apierrors.PayloadTooLarge(w, fmt.Sprintf("Размер запроса превышает %d байт", maxBytesErr.Limit))
	case errors.Is(err, service.ErrValidation):
		apierrors.ValidationError(w, err.Error())
	case errors.Is(err, service.ErrForbidden):
		apierrors.Forbidden(w, "Недостаточно прав")
	case errors.Is(err, service.ErrNotFound):
		apierrors.NotFound(w, err.Error())
	case errors.Is(err, service.ErrBlobStoreUnavailable):
		h.logger.Warn("Хранилище объектов недоступно", slog.String("op", op), slog.String("error", err.Error()))
		apierrors.BlobStoreUnavailable(w, "Хранилище объектов временно недоступно")
	case errors.Is(err, service.ErrPersistence):
		h.logger.Error("Ошибка реестра", slog.String("op", op), slog.String("error", err.Error()))
		apierrors.PersistenceError(w, "Ошибка сохранения в реестре")
	default:
		h.logger.Error("Внутренняя ошибка", slog.String("op", op), slog.String("error", err.Error()))
		apierrors.InternalError(w, "Внутренняя ошибка сервера")
	}
}

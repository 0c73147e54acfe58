// files.go - обработчики /api/v1/files endpoints.
// Загрузка, просмотр, скачивание, изменение и удаление файлов.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	apierrors "github.com/bigkaa/goartstore/vault-module/internal/api/errors"
	"github.com/bigkaa/goartstore/vault-module/internal/service"
)

// multipartOverhead - запас на заголовки и служебные поля multipart-запроса.
const multipartOverhead = 1 << 20

// UploadFile - POST /api/v1/files.
// Multipart form: file (обязательно), displayName, isPublic (опционально).
func (h *APIHandler) UploadFile(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireClaims(w, r)
	if !ok {
		return
	}

	if h.maxBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes+multipartOverhead)
	}

	if err := r.ParseMultipartForm(32 << 20); err != nil { // 32 MB buffer
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) || strings.Contains(err.Error(), "request body too large") {
			apierrors.PayloadTooLarge(w, fmt.Sprintf("Размер файла превышает %d байт", h.maxBytes))
			return
		}
		apierrors.ValidationError(w, fmt.Sprintf("Ошибка парсинга multipart: %s", err.Error()))
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile("file")
	if err != nil {
		apierrors.ValidationError(w, "Поле 'file' обязательно")
		return
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	displayName := r.FormValue("displayName")
	if strings.TrimSpace(displayName) == "" {
		displayName = header.Filename
	}

	isPublic := false
	if raw := r.FormValue("isPublic"); raw != "" {
		isPublic, err = strconv.ParseBool(raw)
		if err != nil {
			apierrors.ValidationError(w, "Поле 'isPublic' должно быть true или false")
			return
		}
	}

	rec, err := h.upload.Upload(r.Context(), service.UploadParams{
		OwnerID:     claims.Subject,
		DisplayName: displayName,
		MimeType:    contentType,
		IsPublic:    isPublic,
		Reader:      file,
	})
	if err != nil {
		h.writeServiceError(w, err, "upload")
		return
	}

	writeJSON(w, http.StatusCreated, toFileDTO(rec, true))
}

// ListFiles - GET /api/v1/files. Файлы текущего пользователя.
func (h *APIHandler) ListFiles(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireClaims(w, r)
	if !ok {
		return
	}
	limit, offset, ok := bindPagination(w, r)
	if !ok {
		return
	}

	files, total, err := h.files.ListOwned(r.Context(), claims.Subject, limit, offset)
	if err != nil {
		h.writeServiceError(w, err, "list_files")
		return
	}

	writeJSON(w, http.StatusOK, toFileList(files, total, limit, offset, true))
}

// ListPublicFiles - GET /api/v1/files/public.
// Адрес объекта в хранилище чужим пользователям не раскрывается.
func (h *APIHandler) ListPublicFiles(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireClaims(w, r); !ok {
		return
	}
	limit, offset, ok := bindPagination(w, r)
	if !ok {
		return
	}

	files, total, err := h.files.ListPublic(r.Context(), limit, offset)
	if err != nil {
		h.writeServiceError(w, err, "list_public_files")
		return
	}

	writeJSON(w, http.StatusOK, toFileList(files, total, limit, offset, false))
}

// GetOwnStats - GET /api/v1/files/stats. Потребление текущего пользователя.
func (h *APIHandler) GetOwnStats(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireClaims(w, r)
	if !ok {
		return
	}

	usage, err := h.stats.OwnerUsage(r.Context(), claims.Subject)
	if err != nil {
		h.writeServiceError(w, err, "own_stats")
		return
	}

	writeJSON(w, http.StatusOK, toUsageDTO(*usage))
}

// GetFile - GET /api/v1/files/{fileId}. Метаданные без учёта скачивания.
func (h *APIHandler) GetFile(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireClaims(w, r)
	if !ok {
		return
	}
	fileID, ok := bindFileID(w, r)
	if !ok {
		return
	}

	rec, err := h.files.Get(r.Context(), claims.Principal(), fileID)
	if err != nil {
		h.writeServiceError(w, err, "get_file")
		return
	}

	writeJSON(w, http.StatusOK, toFileDTO(rec, rec.OwnerID == claims.Subject))
}

// UpdateFile - PATCH /api/v1/files/{fileId}. Только владелец.
func (h *APIHandler) UpdateFile(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireClaims(w, r)
	if !ok {
		return
	}
	fileID, ok := bindFileID(w, r)
	if !ok {
		return
	}

	var req fileUpdateDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.ValidationError(w, "Некорректный JSON: "+err.Error())
		return
	}
	if req.DisplayName == nil || req.IsPublic == nil {
		apierrors.ValidationError(w, "Поля displayName и isPublic обязательны")
		return
	}

	rec, err := h.files.Update(r.Context(), claims.Principal(), fileID, service.UpdateParams{
		DisplayName: *req.DisplayName,
		IsPublic:    *req.IsPublic,
	})
	if err != nil {
		h.writeServiceError(w, err, "update_file")
		return
	}

	writeJSON(w, http.StatusOK, toFileDTO(rec, true))
}

// DeleteFile - DELETE /api/v1/files/{fileId}. Только владелец.
// Физический объект удаляется, когда на содержимое не осталось ссылок.
func (h *APIHandler) DeleteFile(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireClaims(w, r)
	if !ok {
		return
	}
	fileID, ok := bindFileID(w, r)
	if !ok {
		return
	}

	res, err := h.deleter.Delete(r.Context(), claims.Principal(), fileID)
	if err != nil {
		h.writeServiceError(w, err, "delete_file")
		return
	}

	dto := deleteResultDTO{RemainingReferences: res.Remaining, Reclaimed: res.Reclaimed}
	_ = dto.ID.UnmarshalText([]byte(res.Record.ID))
	writeJSON(w, http.StatusOK, dto)
}

// DownloadFile - GET /api/v1/files/{fileId}/download.
// Увеличивает счётчик скачиваний и возвращает ссылку на содержимое.
func (h *APIHandler) DownloadFile(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireClaims(w, r)
	if !ok {
		return
	}
	fileID, ok := bindFileID(w, r)
	if !ok {
		return
	}

	info, err := h.files.Download(r.Context(), claims.Principal(), fileID)
	if err != nil {
		h.writeServiceError(w, err, "download_file")
		return
	}

	url := info.URL
	if url == "" {
		url = "/api/v1/files/" + fileID + "/content"
	}

	writeJSON(w, http.StatusOK, downloadLinkDTO{
		URL:           url,
		Filename:      info.Record.DisplayName,
		MimeType:      info.Record.MimeType,
		DownloadCount: info.Record.DownloadCount,
	})
}

// GetFileContent - GET /api/v1/files/{fileId}/content.
// Отдаёт байты содержимого через сервис. Счётчик не меняется.
func (h *APIHandler) GetFileContent(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireClaims(w, r)
	if !ok {
		return
	}
	fileID, ok := bindFileID(w, r)
	if !ok {
		return
	}

	rec, body, err := h.files.OpenContent(r.Context(), claims.Principal(), fileID)
	if err != nil {
		h.writeServiceError(w, err, "file_content")
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", rec.MimeType)
	w.Header().Set("Content-Length", strconv.FormatInt(rec.ByteSize, 10))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", rec.DisplayName))
	w.Header().Set("ETag", `"`+rec.ContentID+`"`)
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, body); err != nil {
		h.logger.Warn("Передача содержимого прервана",
			slog.String("file_id", fileID),
			slog.String("error", err.Error()),
		)
	}
}

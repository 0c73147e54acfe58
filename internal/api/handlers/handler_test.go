package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/bigkaa/goartstore/vault-module/internal/api/middleware"
	"github.com/bigkaa/goartstore/vault-module/internal/domain/model"
	"github.com/bigkaa/goartstore/vault-module/internal/lock"
	"github.com/bigkaa/goartstore/vault-module/internal/repository/kv"
	"github.com/bigkaa/goartstore/vault-module/internal/service"
	"github.com/bigkaa/goartstore/vault-module/internal/storage/blobstore"
)

var (
	aliceClaims = &middleware.AuthClaims{Subject: "alice", Name: "Alice", Role: model.RoleUser}
	bobClaims   = &middleware.AuthClaims{Subject: "bob", Name: "Bob", Role: model.RoleUser}
	adminClaims = &middleware.AuthClaims{Subject: "root", Name: "Root", Role: model.RoleAdmin}
)

// stubChecker - ReadinessChecker с фиксированным ответом.
type stubChecker struct {
	status  string
	message string
}

func (s stubChecker) CheckReady() (string, string) { return s.status, s.message }

// newTestHandler собирает APIHandler поверх badger in-memory и файлового хранилища.
func newTestHandler(t *testing.T, maxUpload int64) (*APIHandler, *service.UserDirectory) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	store, err := kv.OpenInMemory(logger)
	if err != nil {
		t.Fatalf("OpenInMemory() ошибка: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	blobs, err := blobstore.NewFilesystemStore(filepath.Join(t.TempDir(), "blobs"))
	if err != nil {
		t.Fatalf("NewFilesystemStore() ошибка: %v", err)
	}

	files := kv.NewFileRepository(store)
	users := kv.NewUserRepository(store)
	locker := lock.NewLocal()

	upload := service.NewUploadService(files, blobs, locker, service.UploadConfig{
		MaxSize:          maxUpload,
		AllowedMimeTypes: []string{"text/plain", "image/png"},
		SpoolDir:         t.TempDir(),
		BlobTimeout:      5 * time.Second,
	}, logger)
	userDir := service.NewUserDirectory(users, 16, time.Minute, logger)

	h := NewAPIHandler(
		NewHealthHandler(store, NewBlobReadinessChecker(blobs, time.Second)),
		upload,
		service.NewDeletionReconciler(files, blobs, locker, 5*time.Second, logger),
		service.NewFileService(files, blobs, time.Minute, 5*time.Second, logger),
		service.NewAnalyticsService(files, users, logger),
		userDir,
		maxUpload,
		logger,
	)
	return h, userDir
}

// serve выполняет запрос через роутер от имени claims (nil - без аутентификации).
func serve(h *APIHandler, claims *middleware.AuthClaims, req *http.Request) *httptest.ResponseRecorder {
	if claims != nil {
		req = req.WithContext(middleware.WithClaims(req.Context(), claims))
	}
	router := chi.NewRouter()
	HandlerFromMux(h, router)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

// uploadRequest формирует multipart-запрос загрузки.
func uploadRequest(t *testing.T, filename, contentType, body string, fields map[string]string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("WriteField() ошибка: %v", err)
		}
	}
	if filename != "" {
		hdr := make(textproto.MIMEHeader)
		hdr.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
		hdr.Set("Content-Type", contentType)
		part, err := mw.CreatePart(hdr)
		if err != nil {
			t.Fatalf("CreatePart() ошибка: %v", err)
		}
		_, _ = part.Write([]byte(body))
	}
	_ = mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/files", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

// mustUpload загружает текстовый файл и возвращает созданную запись.
func mustUpload(t *testing.T, h *APIHandler, claims *middleware.AuthClaims, name, body string, public bool) fileRecordDTO {
	t.Helper()
	req := uploadRequest(t, name, "text/plain", body, map[string]string{"isPublic": fmt.Sprint(public)})
	rec := serve(h, claims, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("upload %s: статус %d, тело %s", name, rec.Code, rec.Body.String())
	}
	var dto fileRecordDTO
	decode(t, rec, &dto)
	return dto
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(v); err != nil {
		t.Fatalf("декодирование ответа: %v", err)
	}
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	decode(t, rec, &body)
	return body.Error.Code
}

func TestPaginationDefaults(t *testing.T) {
	intPtr := func(v int) *int { return &v }

	tests := []struct {
		name       string
		limit      *int
		offset     *int
		wantLimit  int
		wantOffset int
	}{
		{"по умолчанию", nil, nil, 100, 0},
		{"обычные значения", intPtr(20), intPtr(40), 20, 40},
		{"limit меньше 1", intPtr(0), nil, 1, 0},
		{"limit больше 1000", intPtr(5000), nil, 1000, 0},
		{"отрицательный offset", nil, intPtr(-5), 100, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, o := paginationDefaults(tt.limit, tt.offset)
			if l != tt.wantLimit || o != tt.wantOffset {
				t.Errorf("paginationDefaults() = (%d, %d), ожидается (%d, %d)", l, o, tt.wantLimit, tt.wantOffset)
			}
		})
	}
}

func TestBindPagination_Invalid(t *testing.T) {
	h, _ := newTestHandler(t, 1024)

	rec := serve(h, aliceClaims, httptest.NewRequest(http.MethodGet, "/api/v1/files?limit=abc", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("статус = %d, ожидается 400", rec.Code)
	}
	if code := errorCode(t, rec); code != "VALIDATION_ERROR" {
		t.Errorf("code = %q, ожидается VALIDATION_ERROR", code)
	}
}

func TestWriteServiceError(t *testing.T) {
	h, _ := newTestHandler(t, 1024)

	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"валидация", fmt.Errorf("%w: пусто", service.ErrValidation), http.StatusBadRequest, "VALIDATION_ERROR"},
		{"доступ", fmt.Errorf("%w: чужой файл", service.ErrForbidden), http.StatusForbidden, "FORBIDDEN"},
		{"не найдено", fmt.Errorf("%w: файл x", service.ErrNotFound), http.StatusNotFound, "NOT_FOUND"},
		{"хранилище", fmt.Errorf("%w: timeout", service.ErrBlobStoreUnavailable), http.StatusServiceUnavailable, "BLOBSTORE_UNAVAILABLE"},
		{"реестр", fmt.Errorf("%w: conn reset", service.ErrPersistence), http.StatusInternalServerError, "PERSISTENCE_ERROR"},
		{"размер тела", fmt.Errorf("чтение: %w", &http.MaxBytesError{Limit: 10}), http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE"},
		{"прочее", errors.New("boom"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.writeServiceError(rec, tt.err, "test")
			if rec.Code != tt.wantStatus {
				t.Errorf("статус = %d, ожидается %d", rec.Code, tt.wantStatus)
			}
			if code := errorCode(t, rec); code != tt.wantCode {
				t.Errorf("code = %q, ожидается %q", code, tt.wantCode)
			}
		})
	}
}

func TestOverallStatus(t *testing.T) {
	tests := []struct {
		statuses []string
		want     string
	}{
		{[]string{"ok", "ok"}, "ok"},
		{[]string{"ok", "degraded"}, "degraded"},
		{[]string{"degraded", "fail"}, "fail"},
		{nil, "ok"},
	}
	for _, tt := range tests {
		if got := overallStatus(tt.statuses...); got != tt.want {
			t.Errorf("overallStatus(%v) = %q, ожидается %q", tt.statuses, got, tt.want)
		}
	}
}

func TestHealthReady(t *testing.T) {
	tests := []struct {
		name       string
		ledger     ReadinessChecker
		blob       ReadinessChecker
		wantStatus int
		wantBody   string
	}{
		{"всё доступно", stubChecker{"ok", ""}, stubChecker{"ok", ""}, http.StatusOK, "ok"},
		{"хранилище недоступно", stubChecker{"ok", ""}, stubChecker{"fail", "timeout"}, http.StatusServiceUnavailable, "fail"},
		{"checker не задан", nil, stubChecker{"ok", ""}, http.StatusServiceUnavailable, "fail"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hh := NewHealthHandler(tt.ledger, tt.blob)
			rec := httptest.NewRecorder()
			hh.HealthReady(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

			if rec.Code != tt.wantStatus {
				t.Errorf("статус = %d, ожидается %d", rec.Code, tt.wantStatus)
			}
			var resp healthReadyResponse
			decode(t, rec, &resp)
			if resp.Status != tt.wantBody {
				t.Errorf("status = %q, ожидается %q", resp.Status, tt.wantBody)
			}
		})
	}
}

func TestHealthReady_IdPOnlyDegrades(t *testing.T) {
	hh := NewHealthHandler(stubChecker{"ok", ""}, stubChecker{"ok", ""}).
		WithIdPChecker(stubChecker{"fail", "connection refused"})

	rec := httptest.NewRecorder()
	hh.HealthReady(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("статус = %d, ожидается 200", rec.Code)
	}
	var resp healthReadyResponse
	decode(t, rec, &resp)
	if resp.Status != "degraded" {
		t.Errorf("status = %q, ожидается degraded", resp.Status)
	}
	if resp.Checks.IdP == nil || resp.Checks.IdP.Status != "fail" {
		t.Errorf("checks.idp = %+v", resp.Checks.IdP)
	}
}

func TestHealthLive(t *testing.T) {
	h, _ := newTestHandler(t, 1024)

	rec := serve(h, nil, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("статус = %d, ожидается 200", rec.Code)
	}
	var resp healthLiveResponse
	decode(t, rec, &resp)
	if resp.Service != "vault-module" {
		t.Errorf("service = %q", resp.Service)
	}
}

func TestBlobReadinessChecker(t *testing.T) {
	blobs, err := blobstore.NewFilesystemStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFilesystemStore() ошибка: %v", err)
	}
	if status, msg := NewBlobReadinessChecker(blobs, 0).CheckReady(); status != "ok" {
		t.Errorf("CheckReady() = (%q, %q), ожидается ok", status, msg)
	}
}

func TestRequireClaims_Unauthorized(t *testing.T) {
	h, _ := newTestHandler(t, 1024)

	rec := serve(h, nil, httptest.NewRequest(http.MethodGet, "/api/v1/files", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("статус = %d, ожидается 401", rec.Code)
	}
}

// bigBody возвращает строку заданного размера.
func bigBody(n int) string {
	return strings.Repeat("x", n)
}

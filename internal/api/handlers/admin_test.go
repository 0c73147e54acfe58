package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bigkaa/goartstore/vault-module/internal/api/middleware"
)

func TestAdminRoutes_RequireAdmin(t *testing.T) {
	h, _ := newTestHandler(t, 1024)

	paths := []string{
		"/api/v1/admin/stats",
		"/api/v1/admin/files",
		"/api/v1/admin/users",
		"/api/v1/admin/users/alice",
		"/api/v1/admin/users/alice/files",
		"/api/v1/admin/users/alice/stats",
	}
	for _, path := range paths {
		t.Run(path, func(t *testing.T) {
			rec := serve(h, aliceClaims, httptest.NewRequest(http.MethodGet, path, nil))
			if rec.Code != http.StatusForbidden {
				t.Errorf("статус = %d, ожидается 403", rec.Code)
			}
			rec = serve(h, nil, httptest.NewRequest(http.MethodGet, path, nil))
			if rec.Code != http.StatusUnauthorized {
				t.Errorf("без claims: статус = %d, ожидается 401", rec.Code)
			}
		})
	}
}

func TestGetStorageStats(t *testing.T) {
	h, users := newTestHandler(t, 1024)
	if err := users.Sync(context.Background(), aliceClaims.User()); err != nil {
		t.Fatalf("Sync() ошибка: %v", err)
	}
	mustUpload(t, h, aliceClaims, "a.txt", "hello", false)
	mustUpload(t, h, aliceClaims, "b.txt", "hello", false)

	rec := serve(h, adminClaims, httptest.NewRequest(http.MethodGet, "/api/v1/admin/stats", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("статус = %d, ожидается 200", rec.Code)
	}
	var stats storageStatsDTO
	decode(t, rec, &stats)

	if stats.TotalLogicalSize != 10 || stats.TotalPhysicalSize != 5 || stats.StorageSaved != 5 {
		t.Errorf("размеры = %d/%d/%d, ожидается 10/5/5", stats.TotalLogicalSize, stats.TotalPhysicalSize, stats.StorageSaved)
	}
	if stats.Efficiency != 0.5 {
		t.Errorf("efficiency = %v, ожидается 0.5", stats.Efficiency)
	}
	if stats.TotalFilesUploaded != 2 || stats.UniqueFilesStored != 1 || stats.TotalUsers != 1 {
		t.Errorf("счётчики = %+v", stats)
	}
	if stats.MostDuplicatedContent == nil || stats.MostDuplicatedContent.Count != 2 {
		t.Errorf("mostDuplicatedContent = %+v", stats.MostDuplicatedContent)
	}
	if stats.TopUploader == nil || stats.TopUploader.UserID != "alice" || stats.TopUploader.Uploads != 2 {
		t.Errorf("topUploader = %+v", stats.TopUploader)
	}
}

func TestGetStorageStats_EmptyLedgerNulls(t *testing.T) {
	h, _ := newTestHandler(t, 1024)

	rec := serve(h, adminClaims, httptest.NewRequest(http.MethodGet, "/api/v1/admin/stats", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("статус = %d, ожидается 200", rec.Code)
	}
	var raw map[string]any
	decode(t, rec, &raw)
	for _, key := range []string{"mostDuplicatedContent", "topUploader"} {
		v, ok := raw[key]
		if !ok || v != nil {
			t.Errorf("%s = %v, ожидается null", key, v)
		}
	}
	if raw["efficiency"] != float64(0) {
		t.Errorf("efficiency = %v, ожидается 0", raw["efficiency"])
	}
}

func TestAdminUsers(t *testing.T) {
	h, users := newTestHandler(t, 1024)
	ctx := context.Background()
	for _, c := range []*middleware.AuthClaims{aliceClaims, bobClaims} {
		if err := users.Sync(ctx, c.User()); err != nil {
			t.Fatalf("Sync(%s) ошибка: %v", c.Subject, err)
		}
	}
	mustUpload(t, h, aliceClaims, "a.txt", "hello", true)

	rec := serve(h, adminClaims, httptest.NewRequest(http.MethodGet, "/api/v1/admin/users", nil))
	var list userListDTO
	decode(t, rec, &list)
	if list.Total != 2 || len(list.Items) != 2 {
		t.Errorf("пользователей = %d (%d), ожидается 2", list.Total, len(list.Items))
	}

	rec = serve(h, adminClaims, httptest.NewRequest(http.MethodGet, "/api/v1/admin/users/alice", nil))
	var u userDTO
	decode(t, rec, &u)
	if u.ID != "alice" || u.Name != "Alice" || u.Role != "user" {
		t.Errorf("пользователь = %+v", u)
	}

	rec = serve(h, adminClaims, httptest.NewRequest(http.MethodGet, "/api/v1/admin/users/nobody", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("неизвестный пользователь: статус = %d, ожидается 404", rec.Code)
	}

	rec = serve(h, adminClaims, httptest.NewRequest(http.MethodGet, "/api/v1/admin/users/alice/files", nil))
	var files fileListDTO
	decode(t, rec, &files)
	if files.Total != 1 || files.Items[0].Locator != "" {
		t.Errorf("файлы пользователя = %+v, ожидается 1 без locator", files)
	}

	rec = serve(h, adminClaims, httptest.NewRequest(http.MethodGet, "/api/v1/admin/users/alice/stats", nil))
	var stats userStatsDTO
	decode(t, rec, &stats)
	if stats.User.ID != "alice" || stats.Usage.TotalFiles != 1 || stats.Usage.TotalPublicFiles != 1 {
		t.Errorf("статистика пользователя = %+v", stats)
	}
}

func TestAdminListFiles_HidesLocator(t *testing.T) {
	h, _ := newTestHandler(t, 1024)
	mustUpload(t, h, aliceClaims, "a.txt", "hello", false)
	mustUpload(t, h, bobClaims, "b.txt", "world", false)

	rec := serve(h, adminClaims, httptest.NewRequest(http.MethodGet, "/api/v1/admin/files?limit=10&offset=0", nil))
	var list fileListDTO
	decode(t, rec, &list)
	if list.Total != 2 {
		t.Fatalf("total = %d, ожидается 2", list.Total)
	}
	for _, item := range list.Items {
		if item.Locator != "" {
			t.Errorf("locator = %q раскрыт в админском списке", item.Locator)
		}
	}
}

func TestGetMe(t *testing.T) {
	h, users := newTestHandler(t, 1024)

	// до синхронизации профиль берётся из claims
	rec := serve(h, bobClaims, httptest.NewRequest(http.MethodGet, "/api/v1/me", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("статус = %d, ожидается 200", rec.Code)
	}
	var u userDTO
	decode(t, rec, &u)
	if u.ID != "bob" || u.Name != "Bob" {
		t.Errorf("me = %+v", u)
	}

	if err := users.Sync(context.Background(), bobClaims.User()); err != nil {
		t.Fatalf("Sync() ошибка: %v", err)
	}
	rec = serve(h, bobClaims, httptest.NewRequest(http.MethodGet, "/api/v1/me", nil))
	decode(t, rec, &u)
	if u.CreatedAt.IsZero() {
		t.Errorf("createdAt пуст после синхронизации")
	}
}

package service

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"
)

// presigningBlobs добавляет выдачу ссылок к тестовому хранилищу.
type presigningBlobs struct {
	*faultyBlobs
	failPresign bool
}

func (p *presigningBlobs) PresignGet(_ context.Context, contentID, filename string, ttl time.Duration) (string, error) {
	if p.failPresign {
		return "", errInjected
	}
	return "https://blobs.example/" + contentID + "?filename=" + filename + "&ttl=" + ttl.String(), nil
}

func TestFileService_ReadAccess(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	rec := env.mustUpload(t, alice, "private.txt", "hello", false)

	if _, err := env.fileSvc.Get(ctx, alice, rec.ID); err != nil {
		t.Errorf("владелец: %v", err)
	}
	if _, err := env.fileSvc.Get(ctx, admin, rec.ID); err != nil {
		t.Errorf("admin: %v", err)
	}
	if _, err := env.fileSvc.Get(ctx, bob, rec.ID); !errors.Is(err, ErrForbidden) {
		t.Errorf("чужой приватный файл: ожидается ErrForbidden, получено %v", err)
	}

	// После публикации файл доступен всем
	if _, err := env.fileSvc.Update(ctx, alice, rec.ID, UpdateParams{DisplayName: "public.txt", IsPublic: true}); err != nil {
		t.Fatalf("Update() ошибка: %v", err)
	}
	if _, err := env.fileSvc.Get(ctx, bob, rec.ID); err != nil {
		t.Errorf("публичный файл: %v", err)
	}
}

func TestFileService_DownloadIncrements(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	rec := env.mustUpload(t, alice, "a.txt", "hello", true)

	const n = 10
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := env.fileSvc.Download(ctx, bob, rec.ID); err != nil {
				t.Errorf("Download() ошибка: %v", err)
			}
		}()
	}
	wg.Wait()

	got, err := env.fileSvc.Get(ctx, alice, rec.ID)
	if err != nil {
		t.Fatalf("Get() ошибка: %v", err)
	}
	if got.DownloadCount != n {
		t.Errorf("DownloadCount = %d, ожидается %d", got.DownloadCount, n)
	}
}

func TestFileService_DownloadDeniedDoesNotCount(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	rec := env.mustUpload(t, alice, "a.txt", "hello", false)

	if _, err := env.fileSvc.Download(ctx, bob, rec.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("ожидается ErrForbidden, получено %v", err)
	}
	got, _ := env.fileSvc.Get(ctx, alice, rec.ID)
	if got.DownloadCount != 0 {
		t.Errorf("DownloadCount = %d, ожидается 0", got.DownloadCount)
	}
}

func TestFileService_DownloadPresigned(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	rec := env.mustUpload(t, alice, "a.txt", "hello", false)

	blobs := &presigningBlobs{faultyBlobs: env.blobs}
	svc := NewFileService(env.files, blobs, 10*time.Minute, time.Second, testLogger())

	info, err := svc.Download(ctx, alice, rec.ID)
	if err != nil {
		t.Fatalf("Download() ошибка: %v", err)
	}
	if !strings.HasPrefix(info.URL, "https://blobs.example/"+helloID) {
		t.Errorf("URL = %q", info.URL)
	}
	if info.Record.DownloadCount != 1 {
		t.Errorf("DownloadCount = %d, ожидается 1", info.Record.DownloadCount)
	}

	// Ошибка выдачи ссылки не увеличивает счётчик
	blobs.failPresign = true
	if _, err := svc.Download(ctx, alice, rec.ID); !errors.Is(err, ErrBlobStoreUnavailable) {
		t.Fatalf("ожидается ErrBlobStoreUnavailable, получено %v", err)
	}
	got, _ := svc.Get(ctx, alice, rec.ID)
	if got.DownloadCount != 1 {
		t.Errorf("DownloadCount = %d, ожидается 1", got.DownloadCount)
	}
}

func TestFileService_DownloadMissingBlob(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	rec := env.mustUpload(t, alice, "a.txt", "hello", false)

	blobs := &presigningBlobs{faultyBlobs: env.blobs}
	svc := NewFileService(env.files, blobs, 10*time.Minute, time.Second, testLogger())

	// Объект пропал из хранилища: ссылка не выдаётся, счётчик не растёт
	if err := env.blobs.Store.Delete(ctx, helloID); err != nil {
		t.Fatalf("Delete() ошибка: %v", err)
	}
	for _, s := range []*FileService{env.fileSvc, svc} {
		if _, err := s.Download(ctx, alice, rec.ID); !errors.Is(err, ErrNotFound) {
			t.Errorf("ожидается ErrNotFound, получено %v", err)
		}
	}
	got, _ := env.fileSvc.Get(ctx, alice, rec.ID)
	if got.DownloadCount != 0 {
		t.Errorf("DownloadCount = %d, ожидается 0", got.DownloadCount)
	}
}

func TestFileService_OpenContent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	rec := env.mustUpload(t, alice, "a.txt", "hello", false)

	_, body, err := env.fileSvc.OpenContent(ctx, alice, rec.ID)
	if err != nil {
		t.Fatalf("OpenContent() ошибка: %v", err)
	}
	data, _ := io.ReadAll(body)
	body.Close()
	if string(data) != "hello" {
		t.Errorf("содержимое = %q", data)
	}

	// Объект пропал из хранилища
	if err := env.blobs.Store.Delete(ctx, helloID); err != nil {
		t.Fatalf("Delete() ошибка: %v", err)
	}
	if _, _, err := env.fileSvc.OpenContent(ctx, alice, rec.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("ожидается ErrNotFound, получено %v", err)
	}
}

func TestFileService_Update(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	rec := env.mustUpload(t, alice, "a.txt", "hello", false)

	updated, err := env.fileSvc.Update(ctx, alice, rec.ID, UpdateParams{DisplayName: " renamed.txt ", IsPublic: true})
	if err != nil {
		t.Fatalf("Update() ошибка: %v", err)
	}
	if updated.DisplayName != "renamed.txt" || !updated.IsPublic {
		t.Errorf("Update() = %+v", updated)
	}
	if updated.ContentID != rec.ContentID || updated.OwnerID != rec.OwnerID || updated.ByteSize != rec.ByteSize {
		t.Error("неизменяемые поля изменились")
	}

	if _, err := env.fileSvc.Update(ctx, admin, rec.ID, UpdateParams{DisplayName: "x"}); !errors.Is(err, ErrForbidden) {
		t.Errorf("admin: ожидается ErrForbidden, получено %v", err)
	}
	if _, err := env.fileSvc.Update(ctx, alice, rec.ID, UpdateParams{DisplayName: ""}); !errors.Is(err, ErrValidation) {
		t.Errorf("пустое имя: ожидается ErrValidation, получено %v", err)
	}
	if _, err := env.fileSvc.Update(ctx, alice, "missing", UpdateParams{DisplayName: "x"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("нет записи: ожидается ErrNotFound, получено %v", err)
	}
}

func TestFileService_Lists(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.mustUpload(t, alice, "a1.txt", "one", false)
	env.mustUpload(t, alice, "a2.txt", "two", true)
	env.mustUpload(t, bob, "b1.txt", "three", true)

	own, total, err := env.fileSvc.ListOwned(ctx, "alice", 10, 0)
	if err != nil {
		t.Fatalf("ListOwned() ошибка: %v", err)
	}
	if total != 2 || len(own) != 2 {
		t.Errorf("ListOwned = %d/%d, ожидается 2/2", len(own), total)
	}

	pub, total, err := env.fileSvc.ListPublic(ctx, 1, 0)
	if err != nil {
		t.Fatalf("ListPublic() ошибка: %v", err)
	}
	if total != 2 || len(pub) != 1 {
		t.Errorf("ListPublic = %d/%d, ожидается 1/2", len(pub), total)
	}

	all, total, err := env.fileSvc.ListAll(ctx, 10, 0)
	if err != nil {
		t.Fatalf("ListAll() ошибка: %v", err)
	}
	if total != 3 || len(all) != 3 {
		t.Errorf("ListAll = %d/%d, ожидается 3/3", len(all), total)
	}
}

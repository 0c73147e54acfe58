package kv

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/bigkaa/goartstore/vault-module/internal/repository"
	"github.com/bigkaa/goartstore/vault-module/internal/repository/repotest"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := OpenInMemory(testLogger())
	if err != nil {
		t.Fatalf("OpenInMemory() ошибка: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestFileRepository_Badger(t *testing.T) {
	repotest.RunFileRepository(t, func(t *testing.T) repository.FileRepository {
		return NewFileRepository(newTestStore(t))
	})
}

func TestUserRepository_Badger(t *testing.T) {
	repotest.RunUserRepository(t, NewUserRepository(newTestStore(t)))
}

func TestOpen_Persistent(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	store, err := Open(dir, testLogger())
	if err != nil {
		t.Fatalf("Open() ошибка: %v", err)
	}
	rec := repotest.NewRecord(repotest.ContentA, "alice", 5)
	repotest.MustCreate(t, NewFileRepository(store), rec)
	if err := store.Close(); err != nil {
		t.Fatalf("Close() ошибка: %v", err)
	}

	// После переоткрытия запись и индекс ссылок на месте
	store, err = Open(dir, testLogger())
	if err != nil {
		t.Fatalf("повторный Open() ошибка: %v", err)
	}
	defer store.Close()

	repo := NewFileRepository(store)
	got, err := repo.GetByID(ctx, rec.ID)
	if err != nil {
		t.Fatalf("GetByID() ошибка: %v", err)
	}
	if got.DisplayName != rec.DisplayName {
		t.Errorf("DisplayName = %q, ожидалось %q", got.DisplayName, rec.DisplayName)
	}
	refs, err := repo.CountReferences(ctx, repotest.ContentA, "")
	if err != nil || refs != 1 {
		t.Errorf("CountReferences() = %d, %v; ожидалась 1", refs, err)
	}
}

func TestStore_CheckReady(t *testing.T) {
	store, err := OpenInMemory(testLogger())
	if err != nil {
		t.Fatalf("OpenInMemory() ошибка: %v", err)
	}
	if status, _ := store.CheckReady(); status != "ok" {
		t.Errorf("CheckReady() = %q, ожидался ok", status)
	}
	_ = store.Close()
	if status, _ := store.CheckReady(); status != "fail" {
		t.Errorf("CheckReady() после Close = %q, ожидался fail", status)
	}
}

func TestStore_CanceledContext(t *testing.T) {
	repo := NewFileRepository(newTestStore(t))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := repo.Create(ctx, repotest.NewRecord(repotest.ContentA, "alice", 1)); err == nil {
		t.Error("Create() с отменённым контекстом должен вернуть ошибку")
	}
}

func TestStore_RunGCStops(t *testing.T) {
	store := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		store.RunGC(ctx, 10*time.Millisecond)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RunGC не завершился после отмены контекста")
	}
}

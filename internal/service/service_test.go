package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bigkaa/goartstore/vault-module/internal/domain/model"
	"github.com/bigkaa/goartstore/vault-module/internal/domain/rbac"
	"github.com/bigkaa/goartstore/vault-module/internal/lock"
	"github.com/bigkaa/goartstore/vault-module/internal/repository"
	"github.com/bigkaa/goartstore/vault-module/internal/repository/kv"
	"github.com/bigkaa/goartstore/vault-module/internal/storage/blobstore"
)

// sha256("hello")
const helloID = "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"

var (
	alice = rbac.Principal{ID: "alice", Role: model.RoleUser}
	bob   = rbac.Principal{ID: "bob", Role: model.RoleUser}
	admin = rbac.Principal{ID: "root", Role: model.RoleAdmin}
)

var errInjected = errors.New("injected failure")

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// faultyBlobs - хранилище с управляемыми сбоями поверх настоящего.
type faultyBlobs struct {
	blobstore.Store
	failPut    atomic.Bool
	failDelete atomic.Bool
	deletes    atomic.Int32
}

func (f *faultyBlobs) Put(ctx context.Context, in blobstore.PutInput) (*blobstore.PutResult, error) {
	if f.failPut.Load() {
		return nil, errInjected
	}
	return f.Store.Put(ctx, in)
}

func (f *faultyBlobs) Delete(ctx context.Context, contentID string) error {
	f.deletes.Add(1)
	if f.failDelete.Load() {
		return errInjected
	}
	return f.Store.Delete(ctx, contentID)
}

// faultyFiles - реестр с управляемым сбоем Create.
type faultyFiles struct {
	repository.FileRepository
	failCreate atomic.Bool
}

func (f *faultyFiles) Create(ctx context.Context, rec *model.FileRecord) error {
	if f.failCreate.Load() {
		return errInjected
	}
	return f.FileRepository.Create(ctx, rec)
}

// testEnv - сервисы поверх badger in-memory и файлового хранилища.
type testEnv struct {
	files   *faultyFiles
	users   repository.UserRepository
	blobs   *faultyBlobs
	upload  *UploadService
	deleter *DeletionReconciler
	fileSvc *FileService
	stats   *AnalyticsService
	userDir *UserDirectory
	locker  lock.ContentLocker
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := testLogger()

	store, err := kv.OpenInMemory(logger)
	if err != nil {
		t.Fatalf("OpenInMemory() ошибка: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	fsStore, err := blobstore.NewFilesystemStore(filepath.Join(t.TempDir(), "blobs"))
	if err != nil {
		t.Fatalf("NewFilesystemStore() ошибка: %v", err)
	}

	env := &testEnv{
		files:  &faultyFiles{FileRepository: kv.NewFileRepository(store)},
		users:  kv.NewUserRepository(store),
		blobs:  &faultyBlobs{Store: fsStore},
		locker: lock.NewLocal(),
	}
	env.upload = NewUploadService(env.files, env.blobs, env.locker, UploadConfig{
		MaxSize:          1024,
		AllowedMimeTypes: []string{"text/plain", "image/png"},
		SpoolDir:         t.TempDir(),
		BlobTimeout:      5 * time.Second,
	}, logger)
	env.deleter = NewDeletionReconciler(env.files, env.blobs, env.locker, 5*time.Second, logger)
	env.fileSvc = NewFileService(env.files, env.blobs, 10*time.Minute, 5*time.Second, logger)
	env.stats = NewAnalyticsService(env.files, env.users, logger)
	env.userDir = NewUserDirectory(env.users, 16, time.Minute, logger)
	return env
}

// mustUpload загружает текст от имени владельца.
func (e *testEnv) mustUpload(t *testing.T, owner rbac.Principal, name, body string, public bool) *model.FileRecord {
	t.Helper()
	rec, err := e.upload.Upload(context.Background(), UploadParams{
		OwnerID:     owner.ID,
		DisplayName: name,
		MimeType:    "text/plain",
		IsPublic:    public,
		Reader:      strings.NewReader(body),
	})
	if err != nil {
		t.Fatalf("Upload(%s) ошибка: %v", name, err)
	}
	return rec
}

func (e *testEnv) blobExists(t *testing.T, contentID string) bool {
	t.Helper()
	ok, err := e.blobs.Exists(context.Background(), contentID)
	if err != nil {
		t.Fatalf("Exists() ошибка: %v", err)
	}
	return ok
}

// repositoryAll - фильтр без ограничений.
var repositoryAll = repository.FileFilter{}

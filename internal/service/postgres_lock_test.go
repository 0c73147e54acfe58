package service

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"golang.org/x/sync/errgroup"

	"github.com/bigkaa/goartstore/vault-module/internal/config"
	"github.com/bigkaa/goartstore/vault-module/internal/database"
	"github.com/bigkaa/goartstore/vault-module/internal/domain/model"
	"github.com/bigkaa/goartstore/vault-module/internal/lock"
	"github.com/bigkaa/goartstore/vault-module/internal/repository"
	"github.com/bigkaa/goartstore/vault-module/internal/storage/blobstore"
)

// setupPostgresEnv поднимает PostgreSQL, применяет миграции и собирает
// сервисы загрузки и удаления так же, как main: ledger и блокировки
// на разных пулах, оба по два соединения.
func setupPostgresEnv(t *testing.T) (*UploadService, *DeletionReconciler) {
	t.Helper()

	if os.Getenv("TEST_INTEGRATION") == "" {
		t.Skip("Пропуск интеграционного теста: TEST_INTEGRATION не установлена")
	}

	ctx := context.Background()
	container, err := postgres.Run(ctx,
		"docker.io/postgres:17-alpine",
		postgres.WithDatabase("vault_test"),
		postgres.WithUsername("vault"),
		postgres.WithPassword("test-password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("Не удалось запустить PostgreSQL контейнер: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("Ошибка остановки контейнера: %v", err)
		}
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Не удалось получить host контейнера: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Не удалось получить port контейнера: %v", err)
	}

	t.Setenv("VM_DB_HOST", host)
	t.Setenv("VM_DB_PORT", port.Port())
	t.Setenv("VM_DB_NAME", "vault_test")
	t.Setenv("VM_DB_USER", "vault")
	t.Setenv("VM_DB_PASSWORD", "test-password")
	t.Setenv("VM_DB_MAX_CONNS", "2")
	t.Setenv("VM_LOCK_MAX_CONNS", "2")
	t.Setenv("VM_LOCK_TIMEOUT", "10s")
	t.Setenv("VM_S3_BUCKET", "vault-test")
	t.Setenv("VM_JWT_JWKS_URL", "http://localhost:8080/certs")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Ошибка загрузки конфигурации: %v", err)
	}
	logger := testLogger()

	if err := database.Migrate(cfg, logger); err != nil {
		t.Fatalf("Ошибка миграций: %v", err)
	}
	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		t.Fatalf("Ошибка подключения ledger: %v", err)
	}
	t.Cleanup(pool.Close)
	lockPool, err := database.ConnectLockPool(ctx, cfg, logger)
	if err != nil {
		t.Fatalf("Ошибка подключения пула блокировок: %v", err)
	}
	t.Cleanup(lockPool.Close)

	blobs, err := blobstore.NewFilesystemStore(filepath.Join(t.TempDir(), "blobs"))
	if err != nil {
		t.Fatalf("NewFilesystemStore() ошибка: %v", err)
	}

	files := repository.NewFileRepository(pool)
	locker := lock.NewPostgres(lockPool, cfg.LockTimeout, logger)
	upload := NewUploadService(files, blobs, locker, UploadConfig{
		MaxSize:          1024,
		AllowedMimeTypes: []string{"text/plain"},
		SpoolDir:         t.TempDir(),
		BlobTimeout:      5 * time.Second,
	}, logger)
	deleter := NewDeletionReconciler(files, blobs, locker, 5*time.Second, logger)
	return upload, deleter
}

// Загрузки и удаления держат соединение блокировки и одновременно
// пишут в ledger. При пулах по два соединения всё должно завершиться.
func TestPostgresLock_ConcurrentUploadsAndDeletes(t *testing.T) {
	upload, deleter := setupPostgresEnv(t)

	const workers = 6
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	records := make([]*model.FileRecord, workers)
	g, gctx := errgroup.WithContext(ctx)
	for i := range workers {
		g.Go(func() error {
			rec, err := upload.Upload(gctx, UploadParams{
				OwnerID:     alice.ID,
				DisplayName: fmt.Sprintf("file-%d.txt", i),
				MimeType:    "text/plain",
				Reader:      strings.NewReader(fmt.Sprintf("content %d", i)),
			})
			if err != nil {
				return fmt.Errorf("загрузка %d: %w", i, err)
			}
			records[i] = rec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("конкурентные загрузки: %v", err)
	}

	g, gctx = errgroup.WithContext(ctx)
	for _, rec := range records {
		g.Go(func() error {
			res, err := deleter.Delete(gctx, alice, rec.ID)
			if err != nil {
				return fmt.Errorf("удаление %s: %w", rec.ID, err)
			}
			if res.Remaining != 0 {
				return fmt.Errorf("удаление %s: осталось %d ссылок", rec.ID, res.Remaining)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("конкурентные удаления: %v", err)
	}
	if ctx.Err() != nil {
		t.Fatalf("операции не уложились в отведённое время: %v", ctx.Err())
	}
}

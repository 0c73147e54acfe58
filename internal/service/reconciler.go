// reconciler.go - удаление записи файла с подсчётом ссылок и
// физическим удалением объекта после удаления последней ссылки.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bigkaa/goartstore/vault-module/internal/domain/model"
	"github.com/bigkaa/goartstore/vault-module/internal/domain/rbac"
	"github.com/bigkaa/goartstore/vault-module/internal/lock"
	"github.com/bigkaa/goartstore/vault-module/internal/repository"
	"github.com/bigkaa/goartstore/vault-module/internal/storage/blobstore"
)

// DeleteResult - результат удаления записи.
type DeleteResult struct {
	// Record - удалённая запись
	Record *model.FileRecord
	// Remaining - ссылки на содержимое, оставшиеся после удаления
	Remaining int
	// Reclaimed - физический объект удалён
	Reclaimed bool
}

// DeletionReconciler удаляет записи и освобождает объекты без ссылок.
type DeletionReconciler struct {
	files       repository.FileRepository
	blobs       blobstore.Store
	locker      lock.ContentLocker
	blobTimeout time.Duration
	logger      *slog.Logger
}

// NewDeletionReconciler создаёт DeletionReconciler.
func NewDeletionReconciler(
	files repository.FileRepository,
	blobs blobstore.Store,
	locker lock.ContentLocker,
	blobTimeout time.Duration,
	logger *slog.Logger,
) *DeletionReconciler {
	return &DeletionReconciler{
		files:       files,
		blobs:       blobs,
		locker:      locker,
		blobTimeout: blobTimeout,
		logger:      logger.With(slog.String("component", "deletion_reconciler")),
	}
}

// Delete удаляет запись fileID от имени владельца.
//
// Порядок:
//  1. Проверка доступа (удаляет только владелец)
//  2. Блокировка content id
//  3. RemoveAndCount: удаление и подсчёт оставшихся ссылок одним шагом
//  4. Ссылок не осталось → BlobStore.Delete
//
// Ошибка физического удаления логируется и не возвращается:
// логическое удаление уже зафиксировано.
func (r *DeletionReconciler) Delete(ctx context.Context, p rbac.Principal, fileID string) (*DeleteResult, error) {
	rec, err := r.files.GetByID(ctx, fileID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: файл %s", ErrNotFound, fileID)
		}
		return nil, fmt.Errorf("получение записи файла: %w", err)
	}

	if err := rbac.Authorize(p, rec, rbac.ActionDelete); err != nil {
		return nil, err
	}

	unlock, err := r.locker.Lock(ctx, rec.ContentID)
	if err != nil {
		return nil, fmt.Errorf("%w: блокировка содержимого: %v", ErrPersistence, err)
	}
	defer unlock()

	removed, remaining, err := r.files.RemoveAndCount(ctx, rec.ID, p.ID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			// Удалена конкурентным запросом
			return nil, fmt.Errorf("%w: файл %s", ErrNotFound, fileID)
		}
		return nil, fmt.Errorf("%w: удаление записи: %v", ErrPersistence, err)
	}
	deletesTotal.Inc()

	result := &DeleteResult{Record: removed, Remaining: remaining}
	if remaining == 0 {
		result.Reclaimed = r.reclaim(ctx, removed)
	}

	r.logger.Info("Файл удалён",
		slog.String("file_id", removed.ID),
		slog.String("content_id", removed.ContentID),
		slog.String("owner_id", removed.OwnerID),
		slog.Int("remaining_refs", remaining),
		slog.Bool("reclaimed", result.Reclaimed),
	)
	return result, nil
}

// reclaim удаляет физический объект. Отмена запроса клиентом не прерывает
// удаление: логическая часть уже выполнена.
func (r *DeletionReconciler) reclaim(ctx context.Context, rec *model.FileRecord) bool {
	ctx = context.WithoutCancel(ctx)
	if r.blobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.blobTimeout)
		defer cancel()
	}

	if err := r.blobs.Delete(ctx, rec.ContentID); err != nil {
		reclaimFailuresTotal.Inc()
		r.logger.Error("Не удалось удалить объект без ссылок, требуется ручная очистка",
			slog.String("content_id", rec.ContentID),
			slog.String("locator", rec.Locator),
			slog.String("error", err.Error()),
		)
		return false
	}

	reclaimedBlobsTotal.Inc()
	return true
}

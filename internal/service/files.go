// files.go - чтение, скачивание и изменение записей файлов с проверкой доступа.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/bigkaa/goartstore/vault-module/internal/domain/model"
	"github.com/bigkaa/goartstore/vault-module/internal/domain/rbac"
	"github.com/bigkaa/goartstore/vault-module/internal/repository"
	"github.com/bigkaa/goartstore/vault-module/internal/storage/blobstore"
)

// UpdateParams - изменяемые поля записи файла.
type UpdateParams struct {
	DisplayName string `validate:"required,max=255"`
	IsPublic    bool
}

// DownloadInfo - результат авторизованного скачивания.
type DownloadInfo struct {
	Record *model.FileRecord
	// URL - временная ссылка хранилища; пусто, если хранилище не выдаёт
	// ссылок и байты отдаются через сервис
	URL string
}

// FileService - операции над записями файлов.
type FileService struct {
	files       repository.FileRepository
	blobs       blobstore.Store
	presignTTL  time.Duration
	blobTimeout time.Duration
	logger      *slog.Logger
}

// NewFileService создаёт сервис записей файлов.
func NewFileService(
	files repository.FileRepository,
	blobs blobstore.Store,
	presignTTL time.Duration,
	blobTimeout time.Duration,
	logger *slog.Logger,
) *FileService {
	return &FileService{
		files:       files,
		blobs:       blobs,
		presignTTL:  presignTTL,
		blobTimeout: blobTimeout,
		logger:      logger.With(slog.String("component", "file_service")),
	}
}

// getAuthorized загружает запись и проверяет доступ.
func (s *FileService) getAuthorized(ctx context.Context, p rbac.Principal, id string, action rbac.Action) (*model.FileRecord, error) {
	rec, err := s.files.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: файл %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("получение записи файла: %w", err)
	}
	if err := rbac.Authorize(p, rec, action); err != nil {
		return nil, err
	}
	return rec, nil
}

// Get возвращает метаданные файла. Счётчик скачиваний не меняется.
func (s *FileService) Get(ctx context.Context, p rbac.Principal, id string) (*model.FileRecord, error) {
	return s.getAuthorized(ctx, p, id, rbac.ActionRead)
}

// Download авторизует скачивание и увеличивает счётчик на 1.
// Для хранилищ с presigned URL возвращает временную ссылку.
func (s *FileService) Download(ctx context.Context, p rbac.Principal, id string) (*DownloadInfo, error) {
	rec, err := s.getAuthorized(ctx, p, id, rbac.ActionDownload)
	if err != nil {
		return nil, err
	}

	// Ссылка на отсутствующий объект бесполезна: счётчик не меняется
	if err := s.ensureBlob(ctx, rec); err != nil {
		return nil, err
	}

	var url string
	if presigner, ok := s.blobs.(blobstore.Presigner); ok {
		url, err = presigner.PresignGet(ctx, rec.ContentID, rec.DisplayName, s.presignTTL)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBlobStoreUnavailable, err)
		}
	}

	updated, err := s.files.IncrementDownloads(ctx, rec.ID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: файл %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("%w: счётчик скачиваний: %v", ErrPersistence, err)
	}
	downloadsTotal.Inc()

	s.logger.Debug("Скачивание файла",
		slog.String("file_id", updated.ID),
		slog.String("principal", p.ID),
		slog.Int64("download_count", updated.DownloadCount),
	)
	return &DownloadInfo{Record: updated, URL: url}, nil
}

// ensureBlob проверяет, что объект живой записи есть в хранилище.
func (s *FileService) ensureBlob(ctx context.Context, rec *model.FileRecord) error {
	if s.blobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.blobTimeout)
		defer cancel()
	}

	ok, err := s.blobs.Exists(ctx, rec.ContentID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBlobStoreUnavailable, err)
	}
	if !ok {
		s.logger.Error("Объект отсутствует для живой записи",
			slog.String("file_id", rec.ID),
			slog.String("content_id", rec.ContentID),
		)
		return fmt.Errorf("%w: содержимое файла %s", ErrNotFound, rec.ID)
	}
	return nil
}

// OpenContent открывает байты файла для потоковой отдачи.
// Счётчик не меняется: его увеличивает Download.
func (s *FileService) OpenContent(ctx context.Context, p rbac.Principal, id string) (*model.FileRecord, io.ReadCloser, error) {
	rec, err := s.getAuthorized(ctx, p, id, rbac.ActionDownload)
	if err != nil {
		return nil, nil, err
	}

	body, err := s.blobs.Open(ctx, rec.ContentID)
	if err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			// Запись есть, объекта нет: нарушение инварианта хранилища
			s.logger.Error("Объект отсутствует для живой записи",
				slog.String("file_id", rec.ID),
				slog.String("content_id", rec.ContentID),
			)
			return nil, nil, fmt.Errorf("%w: содержимое файла %s", ErrNotFound, id)
		}
		return nil, nil, fmt.Errorf("%w: %v", ErrBlobStoreUnavailable, err)
	}
	return rec, body, nil
}

// Update меняет displayName и isPublic. Только владелец.
func (s *FileService) Update(ctx context.Context, p rbac.Principal, id string, params UpdateParams) (*model.FileRecord, error) {
	params.DisplayName = strings.TrimSpace(params.DisplayName)
	if err := validateStruct(params); err != nil {
		return nil, err
	}

	if _, err := s.getAuthorized(ctx, p, id, rbac.ActionUpdate); err != nil {
		return nil, err
	}

	updated, err := s.files.UpdateMetadata(ctx, id, params.DisplayName, params.IsPublic)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: файл %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("%w: обновление записи: %v", ErrPersistence, err)
	}

	s.logger.Info("Метаданные файла обновлены",
		slog.String("file_id", id),
		slog.String("owner_id", p.ID),
		slog.Bool("is_public", updated.IsPublic),
	)
	return updated, nil
}

// List возвращает страницу записей по фильтру и общее количество.
func (s *FileService) List(ctx context.Context, filter repository.FileFilter, limit, offset int) ([]*model.FileRecord, int, error) {
	files, err := s.files.List(ctx, filter, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("список файлов: %w", err)
	}
	total, err := s.files.Count(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("подсчёт файлов: %w", err)
	}
	return files, total, nil
}

// ListOwned - файлы владельца, новые первыми.
func (s *FileService) ListOwned(ctx context.Context, ownerID string, limit, offset int) ([]*model.FileRecord, int, error) {
	return s.List(ctx, repository.FileFilter{OwnerID: ownerID}, limit, offset)
}

// ListPublic - публичные файлы всех владельцев.
func (s *FileService) ListPublic(ctx context.Context, limit, offset int) ([]*model.FileRecord, int, error) {
	return s.List(ctx, repository.FileFilter{PublicOnly: true}, limit, offset)
}

// ListAll - все файлы реестра. Доступ проверяет вызывающий (роль admin).
func (s *FileService) ListAll(ctx context.Context, limit, offset int) ([]*model.FileRecord, int, error) {
	return s.List(ctx, repository.FileFilter{}, limit, offset)
}

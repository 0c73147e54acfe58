// upload.go - загрузка файла: хэширование → put (идемпотентный) → запись в реестр.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bigkaa/goartstore/vault-module/internal/domain/model"
	"github.com/bigkaa/goartstore/vault-module/internal/lock"
	"github.com/bigkaa/goartstore/vault-module/internal/repository"
	"github.com/bigkaa/goartstore/vault-module/internal/storage/blobstore"
	"github.com/bigkaa/goartstore/vault-module/internal/storage/contenthash"
)

// UploadParams - входные данные загрузки.
type UploadParams struct {
	OwnerID     string `validate:"required,max=255"`
	DisplayName string `validate:"required,max=255"`
	MimeType    string `validate:"required,max=255"`
	IsPublic    bool
	// Reader - содержимое файла; читается один раз
	Reader io.Reader `validate:"required"`
}

// UploadConfig - ограничения загрузки.
type UploadConfig struct {
	// MaxSize - максимальный размер файла в байтах (0 - без ограничения)
	MaxSize int64
	// AllowedMimeTypes - допустимые MIME-типы (пусто - любые)
	AllowedMimeTypes []string
	// SpoolDir - директория временных файлов (пусто - os.TempDir)
	SpoolDir string
	// BlobTimeout - таймаут одного обращения к хранилищу
	BlobTimeout time.Duration
}

// UploadService - загрузка файлов с дедупликацией по содержимому.
type UploadService struct {
	files   repository.FileRepository
	blobs   blobstore.Store
	locker  lock.ContentLocker
	cfg     UploadConfig
	allowed map[string]bool
	logger  *slog.Logger
}

// NewUploadService создаёт сервис загрузки.
func NewUploadService(
	files repository.FileRepository,
	blobs blobstore.Store,
	locker lock.ContentLocker,
	cfg UploadConfig,
	logger *slog.Logger,
) *UploadService {
	allowed := make(map[string]bool, len(cfg.AllowedMimeTypes))
	for _, mt := range cfg.AllowedMimeTypes {
		allowed[strings.ToLower(mt)] = true
	}
	return &UploadService{
		files:   files,
		blobs:   blobs,
		locker:  locker,
		cfg:     cfg,
		allowed: allowed,
		logger:  logger.With(slog.String("component", "upload_service")),
	}
}

// normalizeMimeType отбрасывает параметры и приводит тип к нижнему регистру.
func normalizeMimeType(raw string) (string, error) {
	mediaType, _, err := mime.ParseMediaType(raw)
	if err != nil {
		return "", fmt.Errorf("%w: некорректный MIME-тип %q", ErrValidation, raw)
	}
	return mediaType, nil
}

// Upload сохраняет файл.
//
// Порядок:
//  1. Валидация и потоковое хэширование во временный файл
//  2. Блокировка content id
//  3. BlobStore.Put (no-op, если объект уже есть)
//  4. Создание записи реестра (последним шагом)
//
// Сбой put - ErrBlobStoreUnavailable, запись не создаётся.
// Сбой записи после put - ErrPersistence, объект остаётся сиротой.
func (s *UploadService) Upload(ctx context.Context, p UploadParams) (*model.FileRecord, error) {
	p.DisplayName = strings.TrimSpace(p.DisplayName)
	if err := validateStruct(p); err != nil {
		uploadsTotal.WithLabelValues(uploadInvalid).Inc()
		return nil, err
	}

	mimeType, err := normalizeMimeType(p.MimeType)
	if err != nil {
		uploadsTotal.WithLabelValues(uploadInvalid).Inc()
		return nil, err
	}
	if len(s.allowed) > 0 && !s.allowed[mimeType] {
		uploadsTotal.WithLabelValues(uploadInvalid).Inc()
		return nil, fmt.Errorf("%w: MIME-тип %q не разрешён", ErrValidation, mimeType)
	}

	// 1. Хэширование
	spool, err := contenthash.Spool(p.Reader, s.cfg.SpoolDir, s.cfg.MaxSize)
	if err != nil {
		uploadsTotal.WithLabelValues(uploadInvalid).Inc()
		if errors.Is(err, contenthash.ErrTooLarge) {
			return nil, fmt.Errorf("%w: файл больше %d байт", ErrValidation, s.cfg.MaxSize)
		}
		return nil, fmt.Errorf("чтение загружаемого файла: %w", err)
	}
	defer func() {
		if rmErr := spool.Remove(); rmErr != nil {
			s.logger.Warn("Не удалось удалить временный файл", slog.String("error", rmErr.Error()))
		}
	}()

	if spool.Size == 0 {
		uploadsTotal.WithLabelValues(uploadInvalid).Inc()
		return nil, fmt.Errorf("%w: файл пуст", ErrValidation)
	}

	// 2. Блокировка content id: put + create не пересекаются с удалением
	unlock, err := s.locker.Lock(ctx, spool.ContentID)
	if err != nil {
		uploadsTotal.WithLabelValues(uploadLedgerError).Inc()
		return nil, fmt.Errorf("%w: блокировка содержимого: %v", ErrPersistence, err)
	}
	defer unlock()

	// 3. Put
	putRes, err := s.put(ctx, spool, mimeType)
	if err != nil {
		uploadsTotal.WithLabelValues(uploadBlobError).Inc()
		s.logger.Error("Ошибка записи объекта",
			slog.String("content_id", spool.ContentID),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("%w: %v", ErrBlobStoreUnavailable, err)
	}

	// 4. Запись реестра
	rec := &model.FileRecord{
		ID:          uuid.New().String(),
		ContentID:   spool.ContentID,
		OwnerID:     p.OwnerID,
		DisplayName: p.DisplayName,
		MimeType:    mimeType,
		ByteSize:    putRes.Size,
		Locator:     putRes.Locator,
		IsPublic:    p.IsPublic,
	}
	if err := s.files.Create(ctx, rec); err != nil {
		uploadsTotal.WithLabelValues(uploadLedgerError).Inc()
		if putRes.Created {
			orphanedBlobsTotal.Inc()
		}
		s.logger.Error("Ошибка сохранения записи после записи объекта",
			slog.String("content_id", spool.ContentID),
			slog.String("locator", putRes.Locator),
			slog.Bool("blob_created", putRes.Created),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	result := uploadCreated
	if !putRes.Created {
		result = uploadDeduplicated
		dedupHitsTotal.Inc()
	}
	uploadsTotal.WithLabelValues(result).Inc()
	uploadBytesTotal.Add(float64(rec.ByteSize))

	s.logger.Info("Файл загружен",
		slog.String("file_id", rec.ID),
		slog.String("content_id", rec.ContentID),
		slog.String("owner_id", rec.OwnerID),
		slog.Int64("size", rec.ByteSize),
		slog.Bool("deduplicated", !putRes.Created),
	)
	return rec, nil
}

// put записывает содержимое временного файла в хранилище с таймаутом.
func (s *UploadService) put(ctx context.Context, spool *contenthash.SpoolFile, mimeType string) (*blobstore.PutResult, error) {
	f, err := spool.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if s.cfg.BlobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.BlobTimeout)
		defer cancel()
	}

	return s.blobs.Put(ctx, blobstore.PutInput{
		ContentID:    spool.ContentID,
		Body:         f,
		Size:         spool.Size,
		MimeType:     mimeType,
		ResourceType: blobstore.ResourceTypeFor(mimeType),
	})
}

// analytics.go - аналитика хранилища по реестру ссылок.
// Хранилище объектов не опрашивается.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/bigkaa/goartstore/vault-module/internal/domain/model"
	"github.com/bigkaa/goartstore/vault-module/internal/repository"
)

// AnalyticsService - логический и физический объём, дубликаты, лидеры.
type AnalyticsService struct {
	files  repository.FileRepository
	users  repository.UserRepository
	logger *slog.Logger
}

// NewAnalyticsService создаёт сервис аналитики.
func NewAnalyticsService(files repository.FileRepository, users repository.UserRepository, logger *slog.Logger) *AnalyticsService {
	return &AnalyticsService{
		files:  files,
		users:  users,
		logger: logger.With(slog.String("component", "analytics_service")),
	}
}

// StorageStats собирает аналитику по всему реестру.
// Итоги и лидеры читаются из одного снимка реестра, каталог пользователей
// опрашивается параллельно. MostDuplicated и TopUploader - nil при пустом
// реестре; при равенстве выбирается меньший ключ.
func (a *AnalyticsService) StorageStats(ctx context.Context) (*model.StorageStats, error) {
	var (
		snap       *model.LedgerSnapshot
		totalUsers int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		snap, err = a.files.Snapshot(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		totalUsers, err = a.users.Count(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("аналитика хранилища: %w", err)
	}

	totals := snap.Totals
	stats := &model.StorageStats{
		TotalLogicalSize:   totals.LogicalSize,
		TotalPhysicalSize:  totals.PhysicalSize,
		StorageSaved:       totals.LogicalSize - totals.PhysicalSize,
		TotalFilesUploaded: totals.Records,
		UniqueFilesStored:  totals.UniqueContents,
		MostDuplicated:     snap.TopContent,
		TopUploader:        snap.TopOwner,
		TotalUsers:         totalUsers,
	}
	if totals.LogicalSize > 0 {
		stats.Efficiency = float64(stats.StorageSaved) / float64(totals.LogicalSize)
	}
	return stats, nil
}

// OwnerUsage возвращает логический и физический объём одного владельца.
func (a *AnalyticsService) OwnerUsage(ctx context.Context, ownerID string) (*model.OwnerUsage, error) {
	usage, err := a.files.OwnerUsage(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("статистика владельца: %w", err)
	}
	return usage, nil
}

// UserStats возвращает пользователя каталога и его потребление.
func (a *AnalyticsService) UserStats(ctx context.Context, userID string) (*model.UserStats, error) {
	user, err := a.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: пользователь %s", ErrNotFound, userID)
		}
		return nil, fmt.Errorf("получение пользователя: %w", err)
	}

	usage, err := a.OwnerUsage(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &model.UserStats{User: user, Usage: *usage}, nil
}

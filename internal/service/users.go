// users.go - каталог пользователей, заполняемый из claims JWT.
// Повторный upsert одного пользователя подавляется на время TTL.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/bigkaa/goartstore/vault-module/internal/domain/model"
	"github.com/bigkaa/goartstore/vault-module/internal/repository"
)

// Результаты синхронизации для vm_user_sync_total.
const (
	syncUpserted = "upserted"
	syncSkipped  = "skipped"
	syncFailed   = "failed"
)

// UserDirectory - каталог пользователей.
type UserDirectory struct {
	users  repository.UserRepository
	recent *expirable.LRU[string, model.User]
	logger *slog.Logger
}

// NewUserDirectory создаёт каталог. cacheSize и ttl задают таблицу
// недавно синхронизированных пользователей.
func NewUserDirectory(users repository.UserRepository, cacheSize int, ttl time.Duration, logger *slog.Logger) *UserDirectory {
	if cacheSize <= 0 {
		cacheSize = 1024
	}
	return &UserDirectory{
		users:  users,
		recent: expirable.NewLRU[string, model.User](cacheSize, nil, ttl),
		logger: logger.With(slog.String("component", "user_directory")),
	}
}

// Sync сохраняет пользователя из claims. Если пользователь с теми же
// данными уже синхронизирован в пределах TTL, обращения к реестру нет.
func (d *UserDirectory) Sync(ctx context.Context, u model.User) error {
	u.ID = strings.TrimSpace(u.ID)
	if u.ID == "" {
		return fmt.Errorf("%w: пустой идентификатор пользователя", ErrValidation)
	}

	if prev, ok := d.recent.Get(u.ID); ok && sameProfile(prev, u) {
		userSyncTotal.WithLabelValues(syncSkipped).Inc()
		return nil
	}

	if err := d.users.Upsert(ctx, &u); err != nil {
		userSyncTotal.WithLabelValues(syncFailed).Inc()
		return fmt.Errorf("%w: синхронизация пользователя: %v", ErrPersistence, err)
	}
	d.recent.Add(u.ID, u)
	userSyncTotal.WithLabelValues(syncUpserted).Inc()

	d.logger.Debug("Пользователь синхронизирован",
		slog.String("user_id", u.ID),
		slog.String("role", string(u.Role)),
	)
	return nil
}

func sameProfile(a, b model.User) bool {
	return a.Name == b.Name && a.Email == b.Email && a.Role == b.Role
}

// Get возвращает пользователя каталога.
func (d *UserDirectory) Get(ctx context.Context, id string) (*model.User, error) {
	u, err := d.users.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: пользователь %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("получение пользователя: %w", err)
	}
	return u, nil
}

// List возвращает страницу пользователей и общее количество.
func (d *UserDirectory) List(ctx context.Context, limit, offset int) ([]*model.User, int, error) {
	users, err := d.users.List(ctx, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("список пользователей: %w", err)
	}
	total, err := d.users.Count(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("подсчёт пользователей: %w", err)
	}
	return users, total, nil
}

package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/bigkaa/goartstore/vault-module/internal/domain/model"
	"github.com/bigkaa/goartstore/vault-module/internal/repository"
)

type userDoc struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Email      string    `json:"email"`
	Role       string    `json:"role"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
	LastSeenAt time.Time `json:"last_seen_at"`
}

func (d *userDoc) user() (*model.User, error) {
	role, ok := model.ParseRole(d.Role)
	if !ok {
		return nil, fmt.Errorf("неизвестная роль %q у пользователя %s", d.Role, d.ID)
	}
	return &model.User{
		ID:         d.ID,
		Name:       d.Name,
		Email:      d.Email,
		Role:       role,
		CreatedAt:  d.CreatedAt,
		UpdatedAt:  d.UpdatedAt,
		LastSeenAt: d.LastSeenAt,
	}, nil
}

func userKey(id string) []byte {
	return []byte(prefixUser + id)
}

// userRepo - реализация repository.UserRepository поверх badger.
type userRepo struct {
	store *Store
}

// NewUserRepository создаёт каталог пользователей поверх badger.
func NewUserRepository(store *Store) repository.UserRepository {
	return &userRepo{store: store}
}

func getUser(txn *badger.Txn, id string) (*userDoc, error) {
	item, err := txn.Get(userKey(id))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("ошибка чтения пользователя: %w", err)
	}
	var doc userDoc
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &doc)
	}); err != nil {
		return nil, fmt.Errorf("ошибка декодирования пользователя %s: %w", id, err)
	}
	return &doc, nil
}

func (r *userRepo) Upsert(ctx context.Context, u *model.User) error {
	return r.store.update(ctx, func(txn *badger.Txn) error {
		now := time.Now().UTC()

		doc, err := getUser(txn, u.ID)
		switch {
		case errors.Is(err, repository.ErrNotFound):
			doc = &userDoc{ID: u.ID, CreatedAt: now}
		case err != nil:
			return err
		}

		doc.Name = u.Name
		doc.Email = u.Email
		doc.Role = string(u.Role)
		doc.UpdatedAt = now
		doc.LastSeenAt = now

		data, err := json.Marshal(doc)
		if err != nil {
			return fmt.Errorf("ошибка кодирования пользователя: %w", err)
		}
		if err := txn.Set(userKey(u.ID), data); err != nil {
			return fmt.Errorf("ошибка сохранения пользователя: %w", err)
		}

		u.CreatedAt = doc.CreatedAt
		u.UpdatedAt = doc.UpdatedAt
		u.LastSeenAt = doc.LastSeenAt
		return nil
	})
}

func (r *userRepo) GetByID(ctx context.Context, id string) (*model.User, error) {
	var u *model.User
	err := r.store.view(ctx, func(txn *badger.Txn) error {
		doc, err := getUser(txn, id)
		if err != nil {
			return err
		}
		u, err = doc.user()
		return err
	})
	return u, err
}

func (r *userRepo) List(ctx context.Context, limit, offset int) ([]*model.User, error) {
	var docs []userDoc
	err := r.store.view(ctx, func(txn *badger.Txn) error {
		return scanPrefix(txn, prefixUser, func(key, val []byte) error {
			var doc userDoc
			if err := json.Unmarshal(val, &doc); err != nil {
				return fmt.Errorf("ошибка декодирования %s: %w", key, err)
			}
			docs = append(docs, doc)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка пользователей: %w", err)
	}

	sort.Slice(docs, func(i, j int) bool {
		if !docs[i].CreatedAt.Equal(docs[j].CreatedAt) {
			return docs[i].CreatedAt.Before(docs[j].CreatedAt)
		}
		return docs[i].ID < docs[j].ID
	})

	result := make([]*model.User, 0)
	if offset >= len(docs) {
		return result, nil
	}
	docs = docs[offset:]
	if limit > 0 && limit < len(docs) {
		docs = docs[:limit]
	}
	for i := range docs {
		u, err := docs[i].user()
		if err != nil {
			return nil, err
		}
		result = append(result, u)
	}
	return result, nil
}

func (r *userRepo) Count(ctx context.Context) (int, error) {
	count := 0
	err := r.store.view(ctx, func(txn *badger.Txn) error {
		count = countPrefix(txn, prefixUser)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("ошибка подсчёта пользователей: %w", err)
	}
	return count, nil
}

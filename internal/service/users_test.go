package service

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bigkaa/goartstore/vault-module/internal/domain/model"
	"github.com/bigkaa/goartstore/vault-module/internal/repository"
)

// countingUsers считает вызовы Upsert.
type countingUsers struct {
	repository.UserRepository
	upserts atomic.Int32
	fail    bool
}

func (c *countingUsers) Upsert(ctx context.Context, u *model.User) error {
	c.upserts.Add(1)
	if c.fail {
		return errInjected
	}
	return c.UserRepository.Upsert(ctx, u)
}

func TestUserDirectory_SyncSkipsRecent(t *testing.T) {
	env := newTestEnv(t)
	users := &countingUsers{UserRepository: env.users}
	dir := NewUserDirectory(users, 8, time.Minute, testLogger())
	ctx := context.Background()

	u := model.User{ID: "alice", Name: "Alice", Email: "alice@example.com", Role: model.RoleUser}
	for i := 0; i < 3; i++ {
		if err := dir.Sync(ctx, u); err != nil {
			t.Fatalf("Sync() ошибка: %v", err)
		}
	}
	if got := users.upserts.Load(); got != 1 {
		t.Errorf("Upsert вызван %d раз, ожидается 1", got)
	}

	// Изменение профиля синхронизируется сразу
	u.Role = model.RoleAdmin
	if err := dir.Sync(ctx, u); err != nil {
		t.Fatalf("Sync() ошибка: %v", err)
	}
	if got := users.upserts.Load(); got != 2 {
		t.Errorf("Upsert вызван %d раз, ожидается 2", got)
	}

	stored, err := dir.Get(ctx, "alice")
	if err != nil {
		t.Fatalf("Get() ошибка: %v", err)
	}
	if stored.Role != model.RoleAdmin {
		t.Errorf("Role = %q, ожидается admin", stored.Role)
	}
}

func TestUserDirectory_SyncExpires(t *testing.T) {
	env := newTestEnv(t)
	users := &countingUsers{UserRepository: env.users}
	dir := NewUserDirectory(users, 8, 20*time.Millisecond, testLogger())
	ctx := context.Background()

	u := model.User{ID: "bob", Role: model.RoleUser}
	if err := dir.Sync(ctx, u); err != nil {
		t.Fatalf("Sync() ошибка: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if err := dir.Sync(ctx, u); err != nil {
		t.Fatalf("Sync() ошибка: %v", err)
	}
	if got := users.upserts.Load(); got != 2 {
		t.Errorf("Upsert вызван %d раз, ожидается 2 после истечения TTL", got)
	}
}

func TestUserDirectory_SyncErrors(t *testing.T) {
	env := newTestEnv(t)
	users := &countingUsers{UserRepository: env.users, fail: true}
	dir := NewUserDirectory(users, 8, time.Minute, testLogger())
	ctx := context.Background()

	if err := dir.Sync(ctx, model.User{ID: "  "}); !errors.Is(err, ErrValidation) {
		t.Errorf("пустой id: ожидается ErrValidation, получено %v", err)
	}
	if err := dir.Sync(ctx, model.User{ID: "carol", Role: model.RoleUser}); !errors.Is(err, ErrPersistence) {
		t.Errorf("сбой реестра: ожидается ErrPersistence, получено %v", err)
	}

	// Неудачная синхронизация не кэшируется
	users.fail = false
	if err := dir.Sync(ctx, model.User{ID: "carol", Role: model.RoleUser}); err != nil {
		t.Fatalf("Sync() ошибка: %v", err)
	}
	if got := users.upserts.Load(); got != 2 {
		t.Errorf("Upsert вызван %d раз, ожидается 2", got)
	}
}

func TestUserDirectory_List(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	for _, id := range []string{"u1", "u2", "u3"} {
		if err := env.userDir.Sync(ctx, model.User{ID: id, Role: model.RoleUser}); err != nil {
			t.Fatalf("Sync(%s) ошибка: %v", id, err)
		}
	}

	page, total, err := env.userDir.List(ctx, 2, 0)
	if err != nil {
		t.Fatalf("List() ошибка: %v", err)
	}
	if total != 3 || len(page) != 2 {
		t.Errorf("List = %d/%d, ожидается 2/3", len(page), total)
	}

	if _, err := env.userDir.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("ожидается ErrNotFound, получено %v", err)
	}
}

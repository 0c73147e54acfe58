// Пакет kv - реестр ссылок и каталог пользователей во встроенном
// хранилище badger. Для однохостовых установок без PostgreSQL.
//
// Ключи:
//
//	f/<id>              → JSON записи файла
//	c/<contentID>/<id>  → пусто (индекс ссылок на содержимое)
//	u/<userID>          → JSON пользователя
package kv

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
)

const (
	prefixFile    = "f/"
	prefixContent = "c/"
	prefixUser    = "u/"
)

// maxTxnAttempts - предел повторов транзакции при конфликте.
const maxTxnAttempts = 100

// Store - открытая база badger.
type Store struct {
	db     *badger.DB
	logger *slog.Logger
}

// Open открывает базу в директории dir.
func Open(dir string, logger *slog.Logger) (*Store, error) {
	opts := badger.DefaultOptions(dir).
		WithLoggingLevel(badger.WARNING).
		WithCompression(options.None)
	return open(opts, logger)
}

// OpenInMemory открывает базу в памяти (для тестов).
func OpenInMemory(logger *slog.Logger) (*Store, error) {
	opts := badger.DefaultOptions("").
		WithInMemory(true).
		WithLoggingLevel(badger.WARNING)
	return open(opts, logger)
}

func open(opts badger.Options, logger *slog.Logger) (*Store, error) {
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("ошибка открытия badger %q: %w", opts.Dir, err)
	}
	return &Store{
		db:     db,
		logger: logger.With(slog.String("component", "badger_ledger")),
	}, nil
}

// Close закрывает базу.
func (s *Store) Close() error {
	return s.db.Close()
}

// CheckReady реализует handlers.ReadinessChecker.
func (s *Store) CheckReady() (status string, message string) {
	if s.db.IsClosed() {
		return "fail", "badger закрыт"
	}
	return "ok", "badger открыт"
}

// RunGC периодически запускает сборку мусора value log до отмены ctx.
func (s *Store) RunGC(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for {
				err := s.db.RunValueLogGC(0.5)
				if err != nil {
					if !errors.Is(err, badger.ErrNoRewrite) && !errors.Is(err, badger.ErrRejected) {
						s.logger.Warn("Ошибка сборки мусора badger", slog.String("error", err.Error()))
					}
					break
				}
			}
		}
	}
}

// update выполняет fn в транзакции записи, повторяя её при конфликте.
func (s *Store) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		if attempt >= maxTxnAttempts {
			return fmt.Errorf("транзакция не выполнена после %d попыток: %w", attempt, err)
		}
	}
}

// view выполняет fn в транзакции чтения.
func (s *Store) view(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.View(fn)
}

// scanPrefix вызывает fn для каждого значения с префиксом.
func scanPrefix(txn *badger.Txn, prefix string, fn func(key, val []byte) error) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = []byte(prefix)

	it := txn.NewIterator(opts)
	defer it.Close()

	for it.Rewind(); it.Valid(); it.Next() {
		item := it.Item()
		key := item.KeyCopy(nil)
		if err := item.Value(func(val []byte) error {
			return fn(key, val)
		}); err != nil {
			return err
		}
	}
	return nil
}

// countPrefix считает ключи с префиксом без чтения значений.
// В транзакции записи конкурентное изменение посчитанных ключей
// приводит к ErrConflict при фиксации.
func countPrefix(txn *badger.Txn, prefix string) int {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = []byte(prefix)
	opts.PrefetchValues = false

	it := txn.NewIterator(opts)
	defer it.Close()

	n := 0
	for it.Rewind(); it.Valid(); it.Next() {
		// Item() добавляет ключ в набор чтения транзакции (обнаружение конфликтов)
		_ = it.Item()
		n++
	}
	return n
}

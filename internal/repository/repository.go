// Пакет repository - реестр ссылок (file_records) и каталог пользователей
// в PostgreSQL. Все запросы - чистый SQL через pgx, без ORM.
//
// Интерфейсы FileRepository и UserRepository реализуются также
// встроенным хранилищем badger (пакет repository/kv).
package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/bigkaa/goartstore/vault-module/internal/domain/model"
)

// Ошибки слоя репозиториев.
var (
	// ErrNotFound - запись не найдена.
	ErrNotFound = errors.New("запись не найдена")
	// ErrConflict - конфликт уникальности (запись с таким ID уже есть).
	ErrConflict = errors.New("конфликт - запись уже существует")
)

// FileFilter - фильтр списка записей файлов.
// Пустой фильтр - все записи.
type FileFilter struct {
	// OwnerID - только записи владельца
	OwnerID string
	// PublicOnly - только публичные записи
	PublicOnly bool
}

// FileRepository - реестр ссылок на содержимое.
type FileRepository interface {
	// Create сохраняет новую запись. Дедупликации на уровне записей нет:
	// каждая загрузка - отдельная запись.
	Create(ctx context.Context, f *model.FileRecord) error
	// GetByID возвращает запись по ID.
	GetByID(ctx context.Context, id string) (*model.FileRecord, error)
	// List возвращает записи по фильтру, новые первыми.
	List(ctx context.Context, filter FileFilter, limit, offset int) ([]*model.FileRecord, error)
	// Count возвращает количество записей по фильтру.
	Count(ctx context.Context, filter FileFilter) (int, error)
	// UpdateMetadata меняет displayName и isPublic.
	UpdateMetadata(ctx context.Context, id, displayName string, isPublic bool) (*model.FileRecord, error)
	// IncrementDownloads атомарно увеличивает счётчик скачиваний на 1.
	IncrementDownloads(ctx context.Context, id string) (*model.FileRecord, error)
	// RemoveAndCount одним атомарным шагом удаляет запись и считает
	// оставшиеся записи с тем же ContentID. Пустой ownerID - без проверки владельца.
	RemoveAndCount(ctx context.Context, id, ownerID string) (*model.FileRecord, int, error)
	// CountReferences считает записи с contentID, кроме excludingID.
	CountReferences(ctx context.Context, contentID, excludingID string) (int, error)
	// Totals возвращает логический и физический объём и количества.
	Totals(ctx context.Context) (*model.LedgerTotals, error)
	// ContentGroups группирует записи по ContentID: количество убыв., затем ContentID возр.
	// limit <= 0 - без ограничения.
	ContentGroups(ctx context.Context, limit int) ([]model.ContentGroup, error)
	// OwnerGroups группирует записи по владельцу: количество убыв., затем OwnerID возр.
	OwnerGroups(ctx context.Context, limit int) ([]model.OwnerGroup, error)
	// Snapshot возвращает Totals и первые группы ContentGroups и OwnerGroups,
	// прочитанные из одного согласованного снимка реестра.
	Snapshot(ctx context.Context) (*model.LedgerSnapshot, error)
	// OwnerUsage возвращает потребление одного владельца.
	OwnerUsage(ctx context.Context, ownerID string) (*model.OwnerUsage, error)
}

// UserRepository - каталог пользователей.
type UserRepository interface {
	// Upsert создаёт пользователя или обновляет имя, email, роль и LastSeenAt.
	Upsert(ctx context.Context, u *model.User) error
	// GetByID возвращает пользователя по ID.
	GetByID(ctx context.Context, id string) (*model.User, error)
	// List возвращает пользователей в порядке регистрации.
	List(ctx context.Context, limit, offset int) ([]*model.User, error)
	// Count возвращает количество пользователей.
	Count(ctx context.Context) (int, error)
}

// DBTX - интерфейс для выполнения SQL-запросов.
// Реализуется как *pgxpool.Pool, так и pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// TxBeginner - источник транзакций (*pgxpool.Pool).
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

// TxRunner позволяет выполнять операции в транзакции.
type TxRunner struct {
	db TxBeginner
}

// NewTxRunner создаёт TxRunner для управления транзакциями.
func NewTxRunner(db TxBeginner) *TxRunner {
	return &TxRunner{db: db}
}

// RunInTx выполняет fn внутри транзакции.
// При ошибке fn транзакция откатывается, при успехе коммитится.
func (r *TxRunner) RunInTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // откат после коммита - no-op

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("ошибка фиксации транзакции: %w", err)
	}
	return nil
}

// RunInSnapshot выполняет fn в read-only транзакции REPEATABLE READ:
// все запросы fn видят один снимок данных.
func (r *TxRunner) RunInSnapshot(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.RepeatableRead,
		AccessMode: pgx.ReadOnly,
	})
	if err != nil {
		return fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // откат после коммита - no-op

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("ошибка фиксации транзакции: %w", err)
	}
	return nil
}

// isUniqueViolation проверяет, является ли ошибка нарушением уникальности PostgreSQL.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}

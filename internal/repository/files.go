package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bigkaa/goartstore/vault-module/internal/domain/model"
)

// fileColumns - порядок колонок для scanFile.
const fileColumns = `id::text, content_id, owner_id, display_name, mime_type, byte_size,
	locator, is_public, download_count, created_at, updated_at`

// fileRepo - реализация FileRepository поверх PostgreSQL.
type fileRepo struct {
	db DBTX
	tx *TxRunner
}

// NewFileRepository создаёт реестр ссылок поверх пула подключений.
func NewFileRepository(pool *pgxpool.Pool) FileRepository {
	return &fileRepo{db: pool, tx: NewTxRunner(pool)}
}

// scanFile сканирует строку с колонками fileColumns.
func scanFile(row pgx.Row) (*model.FileRecord, error) {
	f := &model.FileRecord{}
	err := row.Scan(
		&f.ID, &f.ContentID, &f.OwnerID, &f.DisplayName, &f.MimeType, &f.ByteSize,
		&f.Locator, &f.IsPublic, &f.DownloadCount, &f.CreatedAt, &f.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (r *fileRepo) Create(ctx context.Context, f *model.FileRecord) error {
	query := `
		INSERT INTO file_records (id, content_id, owner_id, display_name, mime_type,
			byte_size, locator, is_public)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING download_count, created_at, updated_at`

	err := r.db.QueryRow(ctx, query,
		f.ID, f.ContentID, f.OwnerID, f.DisplayName, f.MimeType,
		f.ByteSize, f.Locator, f.IsPublic,
	).Scan(&f.DownloadCount, &f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: запись %s", ErrConflict, f.ID)
		}
		return fmt.Errorf("ошибка создания записи файла: %w", err)
	}
	return nil
}

func (r *fileRepo) GetByID(ctx context.Context, id string) (*model.FileRecord, error) {
	query := `SELECT ` + fileColumns + ` FROM file_records WHERE id = $1`

	f, err := scanFile(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения записи файла: %w", err)
	}
	return f, nil
}

// buildFileWhere строит WHERE-условие и аргументы для фильтра.
func buildFileWhere(filter FileFilter, startArg int) (string, []any) {
	var conditions []string
	var args []any

	if filter.OwnerID != "" {
		conditions = append(conditions, fmt.Sprintf("owner_id = $%d", startArg+len(args)))
		args = append(args, filter.OwnerID)
	}
	if filter.PublicOnly {
		conditions = append(conditions, "is_public")
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}
	return where, args
}

func (r *fileRepo) List(ctx context.Context, filter FileFilter, limit, offset int) ([]*model.FileRecord, error) {
	where, args := buildFileWhere(filter, 1)
	argNum := len(args) + 1

	query := fmt.Sprintf(`
		SELECT %s
		FROM file_records
		%s
		ORDER BY created_at DESC, id
		LIMIT $%d OFFSET $%d`, fileColumns, where, argNum, argNum+1)

	args = append(args, limit, offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка файлов: %w", err)
	}
	defer rows.Close()

	result := make([]*model.FileRecord, 0)
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования записи файла: %w", err)
		}
		result = append(result, f)
	}
	return result, rows.Err()
}

func (r *fileRepo) Count(ctx context.Context, filter FileFilter) (int, error) {
	where, args := buildFileWhere(filter, 1)
	query := "SELECT count(*) FROM file_records " + where

	var count int
	if err := r.db.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("ошибка подсчёта файлов: %w", err)
	}
	return count, nil
}

func (r *fileRepo) UpdateMetadata(ctx context.Context, id, displayName string, isPublic bool) (*model.FileRecord, error) {
	query := `
		UPDATE file_records
		SET display_name = $2, is_public = $3
		WHERE id = $1
		RETURNING ` + fileColumns

	f, err := scanFile(r.db.QueryRow(ctx, query, id, displayName, isPublic))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка обновления записи файла: %w", err)
	}
	return f, nil
}

func (r *fileRepo) IncrementDownloads(ctx context.Context, id string) (*model.FileRecord, error) {
	query := `
		UPDATE file_records
		SET download_count = download_count + 1
		WHERE id = $1
		RETURNING ` + fileColumns

	f, err := scanFile(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка увеличения счётчика скачиваний: %w", err)
	}
	return f, nil
}

// RemoveAndCount удаляет запись и считает оставшиеся ссылки в одной транзакции.
// Транзакционная advisory-блокировка по content id упорядочивает конкурентные
// удаления записей одного содержимого: второе удаление видит результат первого.
// Ключ блокировки - пара int4, поэтому она не пересекается с сессионной
// блокировкой lock.Postgres (ключ int8).
func (r *fileRepo) RemoveAndCount(ctx context.Context, id, ownerID string) (*model.FileRecord, int, error) {
	var (
		removed   *model.FileRecord
		remaining int
	)

	err := r.tx.RunInTx(ctx, func(tx pgx.Tx) error {
		var contentID string
		err := tx.QueryRow(ctx, `SELECT content_id FROM file_records WHERE id = $1`, id).Scan(&contentID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrNotFound
			}
			return fmt.Errorf("ошибка чтения записи файла: %w", err)
		}

		if _, err := tx.Exec(ctx,
			`SELECT pg_advisory_xact_lock(hashtext('file_records'), hashtext($1))`, contentID,
		); err != nil {
			return fmt.Errorf("ошибка блокировки content id: %w", err)
		}

		query := `DELETE FROM file_records WHERE id = $1 AND ($2 = '' OR owner_id = $2) RETURNING ` + fileColumns
		removed, err = scanFile(tx.QueryRow(ctx, query, id, ownerID))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				// Запись удалена конкурентно или принадлежит другому владельцу
				return ErrNotFound
			}
			return fmt.Errorf("ошибка удаления записи файла: %w", err)
		}

		err = tx.QueryRow(ctx,
			`SELECT count(*) FROM file_records WHERE content_id = $1`, removed.ContentID,
		).Scan(&remaining)
		if err != nil {
			return fmt.Errorf("ошибка подсчёта ссылок: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	return removed, remaining, nil
}

func (r *fileRepo) CountReferences(ctx context.Context, contentID, excludingID string) (int, error) {
	query := `
		SELECT count(*)
		FROM file_records
		WHERE content_id = $1 AND ($2 = '' OR id::text <> $2)`

	var count int
	if err := r.db.QueryRow(ctx, query, contentID, excludingID).Scan(&count); err != nil {
		return 0, fmt.Errorf("ошибка подсчёта ссылок: %w", err)
	}
	return count, nil
}

func (r *fileRepo) Totals(ctx context.Context) (*model.LedgerTotals, error) {
	return totals(ctx, r.db)
}

func totals(ctx context.Context, db DBTX) (*model.LedgerTotals, error) {
	query := `
		SELECT
			coalesce(sum(byte_size), 0)::bigint,
			coalesce((
				SELECT sum(size) FROM (
					SELECT max(byte_size) AS size FROM file_records GROUP BY content_id
				) AS contents
			), 0)::bigint,
			count(*),
			count(DISTINCT content_id)
		FROM file_records`

	t := &model.LedgerTotals{}
	err := db.QueryRow(ctx, query).Scan(&t.LogicalSize, &t.PhysicalSize, &t.Records, &t.UniqueContents)
	if err != nil {
		return nil, fmt.Errorf("ошибка подсчёта объёма реестра: %w", err)
	}
	return t, nil
}

// limitClause возвращает LIMIT для положительного limit.
func limitClause(limit int) string {
	if limit <= 0 {
		return ""
	}
	return fmt.Sprintf(" LIMIT %d", limit)
}

func (r *fileRepo) ContentGroups(ctx context.Context, limit int) ([]model.ContentGroup, error) {
	return contentGroups(ctx, r.db, limit)
}

func contentGroups(ctx context.Context, db DBTX, limit int) ([]model.ContentGroup, error) {
	query := `
		SELECT content_id, count(*) AS refs, max(byte_size), min(locator)
		FROM file_records
		GROUP BY content_id
		ORDER BY refs DESC, content_id` + limitClause(limit)

	rows, err := db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("ошибка группировки по содержимому: %w", err)
	}
	defer rows.Close()

	result := make([]model.ContentGroup, 0)
	for rows.Next() {
		var g model.ContentGroup
		if err := rows.Scan(&g.ContentID, &g.References, &g.ByteSize, &g.Locator); err != nil {
			return nil, fmt.Errorf("ошибка сканирования группы: %w", err)
		}
		result = append(result, g)
	}
	return result, rows.Err()
}

func (r *fileRepo) OwnerGroups(ctx context.Context, limit int) ([]model.OwnerGroup, error) {
	return ownerGroups(ctx, r.db, limit)
}

func ownerGroups(ctx context.Context, db DBTX, limit int) ([]model.OwnerGroup, error) {
	query := `
		SELECT owner_id, count(*) AS files
		FROM file_records
		GROUP BY owner_id
		ORDER BY files DESC, owner_id` + limitClause(limit)

	rows, err := db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("ошибка группировки по владельцам: %w", err)
	}
	defer rows.Close()

	result := make([]model.OwnerGroup, 0)
	for rows.Next() {
		var g model.OwnerGroup
		if err := rows.Scan(&g.OwnerID, &g.Files); err != nil {
			return nil, fmt.Errorf("ошибка сканирования группы: %w", err)
		}
		result = append(result, g)
	}
	return result, rows.Err()
}

// Snapshot читает итоги и лидеров в одной транзакции REPEATABLE READ,
// поэтому конкурентное удаление не рассогласует их между собой.
func (r *fileRepo) Snapshot(ctx context.Context) (*model.LedgerSnapshot, error) {
	snap := &model.LedgerSnapshot{}
	err := r.tx.RunInSnapshot(ctx, func(tx pgx.Tx) error {
		t, err := totals(ctx, tx)
		if err != nil {
			return err
		}
		snap.Totals = *t

		top, err := contentGroups(ctx, tx, 1)
		if err != nil {
			return err
		}
		if len(top) > 0 {
			snap.TopContent = &top[0]
		}

		owners, err := ownerGroups(ctx, tx, 1)
		if err != nil {
			return err
		}
		if len(owners) > 0 {
			snap.TopOwner = &owners[0]
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

func (r *fileRepo) OwnerUsage(ctx context.Context, ownerID string) (*model.OwnerUsage, error) {
	query := `
		SELECT
			coalesce(sum(byte_size), 0)::bigint,
			coalesce((
				SELECT sum(size) FROM (
					SELECT max(byte_size) AS size
					FROM file_records
					WHERE owner_id = $1
					GROUP BY content_id
				) AS contents
			), 0)::bigint,
			coalesce(sum(download_count), 0)::bigint,
			count(*) FILTER (WHERE is_public),
			count(*)
		FROM file_records
		WHERE owner_id = $1`

	u := &model.OwnerUsage{}
	err := r.db.QueryRow(ctx, query, ownerID).Scan(
		&u.LogicalSize, &u.PhysicalSize, &u.Downloads, &u.PublicFiles, &u.Files,
	)
	if err != nil {
		return nil, fmt.Errorf("ошибка подсчёта потребления владельца: %w", err)
	}
	return u, nil
}

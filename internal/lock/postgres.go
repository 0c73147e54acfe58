package lock

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres - сессионные advisory-блокировки PostgreSQL. Работает между
// экземплярами сервиса, использующими одну БД. На время блокировки
// удерживает соединение пула, поэтому пул должен быть отдельным от пула
// ledger: иначе держатели блокировок могут исчерпать его целиком.
type Postgres struct {
	pool        *pgxpool.Pool
	waitTimeout time.Duration
	logger      *slog.Logger
}

// NewPostgres создаёт ContentLocker поверх выделенного пула PostgreSQL.
// waitTimeout ограничивает ожидание соединения и самой блокировки
// (0 - без ограничения).
func NewPostgres(pool *pgxpool.Pool, waitTimeout time.Duration, logger *slog.Logger) *Postgres {
	return &Postgres{
		pool:        pool,
		waitTimeout: waitTimeout,
		logger:      logger.With(slog.String("component", "content_lock")),
	}
}

// advisoryKey отображает content id в ключ int8 pg_advisory_lock:
// первые 16 hex-символов SHA-256, для прочих строк - FNV-1a.
func advisoryKey(contentID string) int64 {
	if len(contentID) >= 16 {
		if v, err := strconv.ParseUint(contentID[:16], 16, 64); err == nil {
			return int64(v)
		}
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(contentID))
	return int64(h.Sum64())
}

// Lock выполняет pg_advisory_lock на выделенном соединении.
// При ошибке или отмене соединение закрывается: сессия с возможно
// захваченной блокировкой не возвращается в пул.
func (p *Postgres) Lock(ctx context.Context, contentID string) (func(), error) {
	key := advisoryKey(contentID)

	waitCtx := ctx
	if p.waitTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, p.waitTimeout)
		defer cancel()
	}

	conn, err := p.pool.Acquire(waitCtx)
	if err != nil {
		if werr := waitError(ctx, waitCtx, contentID); werr != nil {
			return nil, werr
		}
		return nil, fmt.Errorf("ошибка получения соединения для блокировки: %w", err)
	}

	if _, err := conn.Exec(waitCtx, `SELECT pg_advisory_lock($1)`, key); err != nil {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = conn.Conn().Close(closeCtx)
		cancel()
		conn.Release()

		if werr := waitError(ctx, waitCtx, contentID); werr != nil {
			return nil, werr
		}
		return nil, fmt.Errorf("ошибка захвата блокировки %s: %w", contentID, err)
	}

	var once sync.Once
	unlock := func() {
		once.Do(func() {
			unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			var released bool
			err := conn.QueryRow(unlockCtx, `SELECT pg_advisory_unlock($1)`, key).Scan(&released)
			if err != nil || !released {
				// Закрытие сессии освобождает все её блокировки
				p.logger.Warn("Не удалось освободить блокировку, соединение закрывается",
					slog.String("content_id", contentID),
					slog.Bool("released", released),
					slog.Any("error", err),
				)
				_ = conn.Conn().Close(unlockCtx)
			}
			conn.Release()
		})
	}
	return unlock, nil
}

// waitError различает отмену вызывающим и истечение waitTimeout.
func waitError(ctx, waitCtx context.Context, contentID string) error {
	if ctx.Err() != nil {
		return fmt.Errorf("%w: %v", ErrCanceled, ctx.Err())
	}
	if waitCtx.Err() != nil {
		return fmt.Errorf("%w: %s", ErrTimeout, contentID)
	}
	return nil
}

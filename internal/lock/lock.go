// Пакет lock - взаимное исключение по content id.
//
// Загрузка удерживает блокировку на время put + create записи,
// удаление - на время remove-and-count + физического удаления объекта.
// Так загрузка, конкурирующая с удалением последней ссылки, либо
// увидит запись до удаления, либо заново создаст объект после него.
package lock

import (
	"context"
	"errors"
)

var (
	// ErrCanceled - ожидание блокировки прервано контекстом.
	ErrCanceled = errors.New("ожидание блокировки прервано")
	// ErrTimeout - блокировка не получена за отведённое время.
	ErrTimeout = errors.New("превышено время ожидания блокировки")
)

// ContentLocker выдаёт эксклюзивную блокировку по content id.
type ContentLocker interface {
	// Lock блокирует contentID до вызова unlock или отмены ctx.
	// unlock идемпотентен.
	Lock(ctx context.Context, contentID string) (unlock func(), err error)
}

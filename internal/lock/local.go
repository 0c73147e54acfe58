package lock

import (
	"context"
	"fmt"
	"sync"

	"github.com/im7mortal/kmutex"
)

// Local - блокировки в пределах одного процесса (один экземпляр сервиса
// или встроенный badger-реестр).
type Local struct {
	km *kmutex.Kmutex
}

// NewLocal создаёт локальный ContentLocker.
func NewLocal() *Local {
	return &Local{km: kmutex.New()}
}

// Lock ждёт блокировку contentID. При отмене ctx блокировка, захваченная
// после отмены, освобождается в фоне.
func (l *Local) Lock(ctx context.Context, contentID string) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCanceled, err)
	}

	acquired := make(chan struct{})
	go func() {
		l.km.Lock(contentID)
		close(acquired)
	}()

	select {
	case <-acquired:
		var once sync.Once
		return func() {
			once.Do(func() { l.km.Unlock(contentID) })
		}, nil
	case <-ctx.Done():
		go func() {
			<-acquired
			l.km.Unlock(contentID)
		}()
		return nil, fmt.Errorf("%w: %v", ErrCanceled, ctx.Err())
	}
}

// Пакет blobstore - хранилище физических объектов, адресуемых по content id.
// Один объект на content id; Put идемпотентен, Delete не считает
// отсутствие объекта ошибкой.
package blobstore

import (
	"context"
	"errors"
	"io"
	"time"
)

var (
	// ErrNotFound - объект отсутствует в хранилище.
	ErrNotFound = errors.New("объект не найден в хранилище")
	// ErrUnavailable - хранилище недоступно (сеть, таймаут, 5xx).
	ErrUnavailable = errors.New("хранилище объектов недоступно")
	// ErrInvalidContentID - content id не является SHA-256 в hex.
	ErrInvalidContentID = errors.New("некорректный content id")
	// ErrContentMismatch - SHA-256 данных не совпадает с content id.
	ErrContentMismatch = errors.New("содержимое не соответствует content id")
)

// PutInput - параметры записи объекта.
type PutInput struct {
	// ContentID - SHA-256 содержимого (ключ объекта)
	ContentID string
	// Body - данные; ReadSeeker нужен для повторов запросов S3
	Body io.ReadSeeker
	// Size - размер данных в байтах
	Size int64
	// MimeType - Content-Type объекта
	MimeType string
	// ResourceType - подсказка о типе ресурса, передаётся вызывающим кодом
	ResourceType ResourceType
}

// PutResult - результат записи объекта.
type PutResult struct {
	// Locator - адрес объекта в хранилище
	Locator string
	// Size - размер объекта в хранилище
	Size int64
	// Created - false, если объект уже существовал (дедупликация)
	Created bool
}

// Store - хранилище объектов.
type Store interface {
	// Put записывает объект, если его ещё нет. Безопасен при конкурентных
	// вызовах с одинаковым содержимым.
	Put(ctx context.Context, in PutInput) (*PutResult, error)
	// Delete удаляет объект. Отсутствие объекта не является ошибкой.
	Delete(ctx context.Context, contentID string) error
	// Open открывает объект для чтения. Вызывающий код закрывает ReadCloser.
	Open(ctx context.Context, contentID string) (io.ReadCloser, error)
	// Exists проверяет наличие объекта.
	Exists(ctx context.Context, contentID string) (bool, error)
	// Check проверяет доступность хранилища (для readiness).
	Check(ctx context.Context) error
}

// Presigner - хранилище, умеющее выдавать временные ссылки на скачивание.
type Presigner interface {
	PresignGet(ctx context.Context, contentID, filename string, ttl time.Duration) (string, error)
}

// errors.go - ошибки бизнес-логики сервисного слоя.
package service

import (
	"errors"

	"github.com/bigkaa/goartstore/vault-module/internal/domain/rbac"
)

var (
	// ErrValidation - некорректные входные данные (не повторяется).
	ErrValidation = errors.New("ошибка валидации")
	// ErrForbidden - нарушение прав владельца или видимости.
	ErrForbidden = rbac.ErrForbidden
	// ErrNotFound - запись не найдена.
	ErrNotFound = errors.New("ресурс не найден")
	// ErrBlobStoreUnavailable - временный сбой хранилища объектов (повторяемо).
	ErrBlobStoreUnavailable = errors.New("хранилище объектов недоступно")
	// ErrPersistence - сбой записи в реестр после успешного put.
	ErrPersistence = errors.New("ошибка сохранения в реестре")
)

// Пакет rbac - проверка доступа к записям файлов.
// Правило чтения: владелец, публичный файл или admin.
// Изменение и удаление - только владелец.
package rbac

import (
	"errors"
	"fmt"

	"github.com/bigkaa/goartstore/vault-module/internal/domain/model"
)

// ErrForbidden - субъект не имеет доступа к записи.
var ErrForbidden = errors.New("доступ запрещён")

// Action - операция над записью файла.
type Action int

const (
	// ActionRead - чтение метаданных.
	ActionRead Action = iota
	// ActionDownload - скачивание (увеличивает счётчик).
	ActionDownload
	// ActionUpdate - изменение displayName / isPublic.
	ActionUpdate
	// ActionDelete - удаление записи.
	ActionDelete
)

// String возвращает имя операции для логов и сообщений.
func (a Action) String() string {
	switch a {
	case ActionRead:
		return "read"
	case ActionDownload:
		return "download"
	case ActionUpdate:
		return "update"
	case ActionDelete:
		return "delete"
	default:
		return fmt.Sprintf("action(%d)", int(a))
	}
}

// Principal - аутентифицированный субъект запроса.
type Principal struct {
	ID   string
	Role model.Role
}

// IsAdmin сообщает, имеет ли субъект роль admin.
func (p Principal) IsAdmin() bool {
	return p.Role == model.RoleAdmin
}

// Authorize проверяет право субъекта выполнить action над записью.
// Возвращает nil или ошибку, оборачивающую ErrForbidden.
func Authorize(p Principal, rec *model.FileRecord, action Action) error {
	if rec == nil || p.ID == "" {
		return fmt.Errorf("%w: нет субъекта или записи", ErrForbidden)
	}
	owner := rec.OwnerID == p.ID

	switch action {
	case ActionRead, ActionDownload:
		if owner || rec.IsPublic || privileged(p.Role) {
			return nil
		}
	case ActionUpdate, ActionDelete:
		if owner {
			return nil
		}
	}
	return fmt.Errorf("%w: %s файла %s", ErrForbidden, action, rec.ID)
}

// privileged - исчерпывающая проверка ролей; неизвестная роль не даёт привилегий.
func privileged(role model.Role) bool {
	switch role {
	case model.RoleAdmin:
		return true
	case model.RoleUser:
		return false
	default:
		return false
	}
}

// MapGroupsToRole определяет роль по группам IdP.
// Пересечение с adminGroups даёт admin, иначе user.
func MapGroupsToRole(groups, adminGroups []string) model.Role {
	adminSet := toSet(adminGroups)
	for _, g := range groups {
		if adminSet[g] {
			return model.RoleAdmin
		}
	}
	return model.RoleUser
}

// ResolveRole выбирает роль из явного claim "role" и групп.
// Явный claim admin или членство в admin-группе дают admin.
func ResolveRole(claimRole string, groups, adminGroups []string) model.Role {
	if r, ok := model.ParseRole(claimRole); ok && r == model.RoleAdmin {
		return model.RoleAdmin
	}
	return MapGroupsToRole(groups, adminGroups)
}

// toSet конвертирует срез строк в map для быстрого поиска.
func toSet(items []string) map[string]bool {
	s := make(map[string]bool, len(items))
	for _, item := range items {
		s[item] = true
	}
	return s
}

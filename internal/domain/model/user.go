package model

import "time"

// Role - роль субъекта. Закрытое перечисление: user, admin.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// ParseRole преобразует строку в Role.
// Возвращает false для неизвестных значений.
func ParseRole(s string) (Role, bool) {
	switch Role(s) {
	case RoleUser:
		return RoleUser, true
	case RoleAdmin:
		return RoleAdmin, true
	default:
		return "", false
	}
}

// User - запись каталога пользователей (таблица users).
// Заполняется из claims JWT при обращении пользователя к API.
type User struct {
	// ID - sub из JWT
	ID    string
	Name  string
	Email string
	Role  Role
	// CreatedAt - первое обращение к API
	CreatedAt time.Time
	UpdatedAt time.Time
	// LastSeenAt - последняя синхронизация из claims
	LastSeenAt time.Time
}

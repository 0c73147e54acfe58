// Пакет model - доменные модели Vault Module.
package model

import "time"

// FileRecord - логическая ссылка на содержимое (таблица file_records).
// Каждая загрузка создаёт новую запись; физический объект разделяется
// всеми записями с одинаковым ContentID.
type FileRecord struct {
	// ID - UUID записи (генерируется при создании, неизменяемый)
	ID string
	// ContentID - SHA-256 содержимого в hex (ключ дедупликации)
	ContentID string
	// OwnerID - идентификатор загрузившего (sub из JWT), неизменяемый
	OwnerID string
	// DisplayName - отображаемое имя, меняется владельцем
	DisplayName string
	// MimeType - MIME-тип из загрузки, неизменяемый
	MimeType string
	// ByteSize - размер физического объекта в байтах
	ByteSize int64
	// Locator - адрес физического объекта в хранилище (s3://..., file://...)
	Locator string
	// IsPublic - файл доступен всем аутентифицированным пользователям
	IsPublic bool
	// DownloadCount - счётчик скачиваний (только растёт)
	DownloadCount int64
	// CreatedAt - время создания записи
	CreatedAt time.Time
	// UpdatedAt - время последнего обновления
	UpdatedAt time.Time
}

// ContentGroup - агрегат записей по ContentID.
type ContentGroup struct {
	ContentID string
	// References - количество записей, ссылающихся на содержимое
	References int
	// ByteSize и Locator - от первой записи группы
	ByteSize int64
	Locator  string
}

// OwnerGroup - агрегат записей по владельцу.
type OwnerGroup struct {
	OwnerID string
	Files   int
}

// OwnerUsage - суммарное потребление одного владельца.
type OwnerUsage struct {
	// LogicalSize - сумма ByteSize по всем записям владельца
	LogicalSize int64
	// PhysicalSize - сумма ByteSize по различным ContentID владельца
	PhysicalSize int64
	Downloads    int64
	PublicFiles  int
	Files        int
}

// LedgerTotals - агрегаты по всему реестру.
type LedgerTotals struct {
	// LogicalSize - сумма ByteSize по всем записям
	LogicalSize int64
	// PhysicalSize - сумма ByteSize по различным ContentID
	PhysicalSize int64
	// Records - количество записей
	Records int
	// UniqueContents - количество различных ContentID
	UniqueContents int
}

// LedgerSnapshot - итоги реестра и лидеры, согласованные между собой.
type LedgerSnapshot struct {
	Totals LedgerTotals
	// TopContent и TopOwner - nil при пустом реестре
	TopContent *ContentGroup
	TopOwner   *OwnerGroup
}

// dto.go - JSON-представления доменных моделей (схемы OpenAPI контракта).
package handlers

import (
	"time"

	openapi_types "github.com/oapi-codegen/runtime/types"

	"github.com/bigkaa/goartstore/vault-module/internal/domain/model"
)

// fileRecordDTO - схема FileRecord.
type fileRecordDTO struct {
	ID            openapi_types.UUID `json:"id"`
	ContentID     string             `json:"contentId"`
	OwnerID       string             `json:"ownerId"`
	DisplayName   string             `json:"displayName"`
	MimeType      string             `json:"mimeType"`
	ByteSize      int64              `json:"byteSize"`
	Locator       string             `json:"locator,omitempty"`
	IsPublic      bool               `json:"isPublic"`
	DownloadCount int64              `json:"downloadCount"`
	CreatedAt     time.Time          `json:"createdAt"`
	UpdatedAt     time.Time          `json:"updatedAt"`
}

// fileListDTO - схема FileList.
type fileListDTO struct {
	Items  []fileRecordDTO `json:"items"`
	Total  int             `json:"total"`
	Limit  int             `json:"limit"`
	Offset int             `json:"offset"`
}

// fileUpdateDTO - схема FileUpdate. Оба поля обязательны.
type fileUpdateDTO struct {
	DisplayName *string `json:"displayName"`
	IsPublic    *bool   `json:"isPublic"`
}

// deleteResultDTO - схема DeleteResult.
type deleteResultDTO struct {
	ID                  openapi_types.UUID `json:"id"`
	RemainingReferences int                `json:"remainingReferences"`
	Reclaimed           bool               `json:"reclaimed"`
}

// downloadLinkDTO - схема DownloadLink.
type downloadLinkDTO struct {
	URL           string `json:"url"`
	Filename      string `json:"filename"`
	MimeType      string `json:"mimeType"`
	DownloadCount int64  `json:"downloadCount"`
}

// userUsageDTO - схема UserUsage.
type userUsageDTO struct {
	TotalStorageUsed    int64 `json:"totalStorageUsed"`
	PhysicalStorageUsed int64 `json:"physicalStorageUsed"`
	TotalDownloadCount  int64 `json:"totalDownloadCount"`
	TotalPublicFiles    int   `json:"totalPublicFiles"`
	TotalFiles          int   `json:"totalFiles"`
}

// userDTO - схема User.
type userDTO struct {
	ID         string    `json:"id"`
	Name       string    `json:"name,omitempty"`
	Email      string    `json:"email,omitempty"`
	Role       string    `json:"role"`
	CreatedAt  time.Time `json:"createdAt"`
	LastSeenAt time.Time `json:"lastSeenAt"`
}

// userListDTO - схема UserList.
type userListDTO struct {
	Items  []userDTO `json:"items"`
	Total  int       `json:"total"`
	Limit  int       `json:"limit"`
	Offset int       `json:"offset"`
}

// userStatsDTO - схема UserStats.
type userStatsDTO struct {
	User  userDTO      `json:"user"`
	Usage userUsageDTO `json:"usage"`
}

// mostDuplicatedDTO - содержимое с наибольшим числом ссылок.
type mostDuplicatedDTO struct {
	ContentID string `json:"contentId"`
	Count     int    `json:"count"`
	Locator   string `json:"locator"`
}

// topUploaderDTO - владелец с наибольшим числом записей.
type topUploaderDTO struct {
	UserID  string `json:"userId"`
	Uploads int    `json:"uploads"`
}

// storageStatsDTO - схема StorageStats. Пустые агрегаты сериализуются как null.
type storageStatsDTO struct {
	TotalLogicalSize      int64              `json:"totalLogicalSize"`
	TotalPhysicalSize     int64              `json:"totalPhysicalSize"`
	StorageSaved          int64              `json:"storageSaved"`
	Efficiency            float64            `json:"efficiency"`
	TotalFilesUploaded    int                `json:"totalFilesUploaded"`
	UniqueFilesStored     int                `json:"uniqueFilesStored"`
	MostDuplicatedContent *mostDuplicatedDTO `json:"mostDuplicatedContent"`
	TopUploader           *topUploaderDTO    `json:"topUploader"`
	TotalUsers            int                `json:"totalUsers"`
}

// toFileDTO преобразует запись. withLocator=false скрывает адрес объекта.
func toFileDTO(f *model.FileRecord, withLocator bool) fileRecordDTO {
	id := openapi_types.UUID{}
	_ = id.UnmarshalText([]byte(f.ID))

	dto := fileRecordDTO{
		ID:            id,
		ContentID:     f.ContentID,
		OwnerID:       f.OwnerID,
		DisplayName:   f.DisplayName,
		MimeType:      f.MimeType,
		ByteSize:      f.ByteSize,
		IsPublic:      f.IsPublic,
		DownloadCount: f.DownloadCount,
		CreatedAt:     f.CreatedAt,
		UpdatedAt:     f.UpdatedAt,
	}
	if withLocator {
		dto.Locator = f.Locator
	}
	return dto
}

func toFileList(files []*model.FileRecord, total, limit, offset int, withLocator bool) fileListDTO {
	items := make([]fileRecordDTO, 0, len(files))
	for _, f := range files {
		items = append(items, toFileDTO(f, withLocator))
	}
	return fileListDTO{Items: items, Total: total, Limit: limit, Offset: offset}
}

func toUserDTO(u *model.User) userDTO {
	return userDTO{
		ID:         u.ID,
		Name:       u.Name,
		Email:      u.Email,
		Role:       string(u.Role),
		CreatedAt:  u.CreatedAt,
		LastSeenAt: u.LastSeenAt,
	}
}

func toUsageDTO(u model.OwnerUsage) userUsageDTO {
	return userUsageDTO{
		TotalStorageUsed:    u.LogicalSize,
		PhysicalStorageUsed: u.PhysicalSize,
		TotalDownloadCount:  u.Downloads,
		TotalPublicFiles:    u.PublicFiles,
		TotalFiles:          u.Files,
	}
}

func toStatsDTO(s *model.StorageStats) storageStatsDTO {
	dto := storageStatsDTO{
		TotalLogicalSize:   s.TotalLogicalSize,
		TotalPhysicalSize:  s.TotalPhysicalSize,
		StorageSaved:       s.StorageSaved,
		Efficiency:         s.Efficiency,
		TotalFilesUploaded: s.TotalFilesUploaded,
		UniqueFilesStored:  s.UniqueFilesStored,
		TotalUsers:         s.TotalUsers,
	}
	if s.MostDuplicated != nil {
		dto.MostDuplicatedContent = &mostDuplicatedDTO{
			ContentID: s.MostDuplicated.ContentID,
			Count:     s.MostDuplicated.References,
			Locator:   s.MostDuplicated.Locator,
		}
	}
	if s.TopUploader != nil {
		dto.TopUploader = &topUploaderDTO{UserID: s.TopUploader.OwnerID, Uploads: s.TopUploader.Files}
	}
	return dto
}

package model

// StorageStats - аналитика хранилища по всему реестру.
type StorageStats struct {
	// TotalLogicalSize - сумма размеров всех записей (с дубликатами)
	TotalLogicalSize int64
	// TotalPhysicalSize - сумма размеров различных ContentID
	TotalPhysicalSize int64
	// StorageSaved - TotalLogicalSize - TotalPhysicalSize
	StorageSaved int64
	// Efficiency - StorageSaved / TotalLogicalSize, 0 при пустом реестре
	Efficiency float64
	// TotalFilesUploaded - количество записей
	TotalFilesUploaded int
	// UniqueFilesStored - количество различных ContentID
	UniqueFilesStored int
	// MostDuplicated - nil при пустом реестре
	MostDuplicated *ContentGroup
	// TopUploader - nil при пустом реестре
	TopUploader *OwnerGroup
	// TotalUsers - количество пользователей в каталоге
	TotalUsers int
}

// UserStats - статистика одного пользователя.
type UserStats struct {
	User  *User
	Usage OwnerUsage
}

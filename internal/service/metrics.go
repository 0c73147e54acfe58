package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Результаты загрузки для vm_uploads_total.
const (
	uploadCreated      = "created"
	uploadDeduplicated = "deduplicated"
	uploadInvalid      = "validation_error"
	uploadBlobError    = "blobstore_error"
	uploadLedgerError  = "persistence_error"
)

// Prometheus-метрики сервисного слоя.
var (
	uploadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vm_uploads_total",
		Help: "Количество загрузок по результату.",
	}, []string{"result"})

	dedupHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vm_dedup_hits_total",
		Help: "Загрузки, для которых объект уже был в хранилище.",
	})

	uploadBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vm_upload_bytes_total",
		Help: "Логический объём загруженных байт.",
	})

	deletesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vm_deletes_total",
		Help: "Количество удалённых записей файлов.",
	})

	reclaimedBlobsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vm_reclaimed_blobs_total",
		Help: "Физические объекты, удалённые после удаления последней ссылки.",
	})

	reclaimFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vm_reclaim_failures_total",
		Help: "Неудачные физические удаления (объект остался в хранилище).",
	})

	orphanedBlobsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vm_orphaned_blobs_total",
		Help: "Объекты, записанные в хранилище без сохранённой записи реестра.",
	})

	downloadsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vm_downloads_total",
		Help: "Количество авторизованных скачиваний.",
	})

	userSyncTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vm_user_sync_total",
		Help: "Синхронизации каталога пользователей по результату.",
	}, []string{"result"})
)

// dephealth.go - интеграция с topologymetrics SDK для мониторинга зависимостей.
//
// Vault Module мониторит до трёх зависимостей:
//   - PostgreSQL - SQL checker через существующий pgxpool (только postgres-ledger)
//   - JWKS - HTTP checker к endpoint ключей IdP (только RS256)
//   - S3 - HTTP checker к endpoint объектного хранилища (только s3 с явным endpoint)
//
// Метрики доступны на /metrics вместе с остальными Prometheus-метриками:
//   - app_dependency_health - состояние зависимости (1 = ok, 0 = fail)
//   - app_dependency_latency_seconds - задержка проверки
package service

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/BigKAA/topologymetrics/sdk-go/dephealth"
	_ "github.com/BigKAA/topologymetrics/sdk-go/dephealth/checks/httpcheck" // HTTP checker для JWKS и S3
	"github.com/BigKAA/topologymetrics/sdk-go/dephealth/checks/pgcheck"
	"github.com/prometheus/client_golang/prometheus"
)

// ErrNoDependencies - нечего мониторить (badger + filesystem + HS256).
var ErrNoDependencies = errors.New("нет внешних зависимостей для мониторинга")

// DephealthParams - параметры мониторинга. Пустые поля отключают зависимость.
type DephealthParams struct {
	// ServiceID - имя вершины графа текущего приложения
	ServiceID string
	// Group - имя группы в метриках (VM_DEPHEALTH_GROUP)
	Group string
	// DB - *sql.DB из pgxpool через stdlib.OpenDBFromPool (nil - без PostgreSQL)
	DB *sql.DB
	// PGConnURL - URL PostgreSQL для лейблов, не для подключения
	PGConnURL string
	// JWKSURL - URL JWKS endpoint
	JWKSURL string
	// S3Endpoint - endpoint S3-совместимого хранилища
	S3Endpoint string
	// CheckInterval - интервал проверки (VM_DEPHEALTH_CHECK_INTERVAL)
	CheckInterval time.Duration
	// IsEntry - добавляет лейбл isentry=yes ко всем зависимостям
	IsEntry bool
}

// DephealthService - сервис мониторинга зависимостей через topologymetrics.
type DephealthService struct {
	dh     *dephealth.DepHealth
	deps   []string
	logger *slog.Logger
}

// NewDephealthService создаёт сервис мониторинга зависимостей.
// Метрики регистрируются в глобальном Prometheus registry.
func NewDephealthService(p DephealthParams, logger *slog.Logger) (*DephealthService, error) {
	return newDephealthService(p, logger)
}

// NewDephealthServiceWithRegisterer создаёт сервис с указанным Prometheus registerer.
// Используется в тестах для изоляции метрик.
func NewDephealthServiceWithRegisterer(p DephealthParams, logger *slog.Logger, registerer prometheus.Registerer) (*DephealthService, error) {
	return newDephealthService(p, logger, dephealth.WithRegisterer(registerer))
}

// newDephealthService - внутренний конструктор.
func newDephealthService(p DephealthParams, logger *slog.Logger, extraOpts ...dephealth.Option) (*DephealthService, error) {
	common := func(rawURL string) []dephealth.DependencyOption {
		o := []dephealth.DependencyOption{
			dephealth.FromURL(rawURL),
			dephealth.CheckInterval(p.CheckInterval),
			dephealth.Critical(true),
		}
		if p.IsEntry {
			o = append(o, dephealth.WithLabel("isentry", "yes"))
		}
		return o
	}

	var (
		opts = []dephealth.Option{dephealth.WithLogger(logger)}
		deps []string
	)

	if p.DB != nil {
		opts = append(opts, dephealth.AddDependency("postgresql", dephealth.TypePostgres,
			pgcheck.New(pgcheck.WithDB(p.DB)), common(p.PGConnURL)...))
		deps = append(deps, "postgresql")
	}

	if p.JWKSURL != "" {
		// Health path - путь самого JWKS: /health у IdP часто на management-порту
		jwksOpts := append(common(p.JWKSURL), dephealth.WithHTTPHealthPath(healthPathFromURL(p.JWKSURL, "/health")))
		opts = append(opts, dephealth.HTTP("jwks", jwksOpts...))
		deps = append(deps, "jwks")
	}

	if p.S3Endpoint != "" {
		// MinIO и совместимые отдают liveness на /minio/health/live
		s3Opts := append(common(p.S3Endpoint), dephealth.WithHTTPHealthPath(healthPathFromURL(p.S3Endpoint, "/minio/health/live")))
		opts = append(opts, dephealth.HTTP("s3", s3Opts...))
		deps = append(deps, "s3")
	}

	if len(deps) == 0 {
		return nil, ErrNoDependencies
	}
	opts = append(opts, extraOpts...)

	dh, err := dephealth.New(p.ServiceID, p.Group, opts...)
	if err != nil {
		return nil, err
	}

	return &DephealthService{
		dh:     dh,
		deps:   deps,
		logger: logger.With(slog.String("component", "dephealth")),
	}, nil
}

// healthPathFromURL возвращает path из URL или fallback, если path пуст.
func healthPathFromURL(rawURL, fallback string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Path == "" || parsed.Path == "/" {
		return fallback
	}
	return parsed.Path
}

// Dependencies возвращает имена мониторируемых зависимостей.
func (ds *DephealthService) Dependencies() []string {
	return ds.deps
}

// Start запускает периодическую проверку зависимостей.
func (ds *DephealthService) Start(ctx context.Context) error {
	ds.logger.Info("Мониторинг зависимостей запущен",
		slog.String("dependencies", strings.Join(ds.deps, ",")),
	)
	return ds.dh.Start(ctx)
}

// Stop останавливает мониторинг зависимостей.
func (ds *DephealthService) Stop() {
	ds.dh.Stop()
	ds.logger.Info("Мониторинг зависимостей остановлен")
}

// Health возвращает текущее состояние зависимостей.
// Ключ - имя зависимости, значение - true если ok.
func (ds *DephealthService) Health() map[string]bool {
	return ds.dh.Health()
}

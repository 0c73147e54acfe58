// health.go - обработчики health endpoints Vault Module.
// /health/live - liveness-проверка (процесс жив)
// /health/ready - readiness-проверка (реестр + хранилище объектов доступны)
// /metrics - Prometheus метрики
package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bigkaa/goartstore/vault-module/internal/config"
	"github.com/bigkaa/goartstore/vault-module/internal/storage/blobstore"
)

// ReadinessChecker - интерфейс проверки готовности зависимости.
type ReadinessChecker interface {
	// CheckReady возвращает статус ("ok", "degraded", "fail") и сообщение.
	CheckReady() (status string, message string)
}

// BlobReadinessChecker адаптирует blobstore.Store к ReadinessChecker.
type BlobReadinessChecker struct {
	store   blobstore.Store
	timeout time.Duration
}

// NewBlobReadinessChecker создаёт checker хранилища объектов.
func NewBlobReadinessChecker(store blobstore.Store, timeout time.Duration) *BlobReadinessChecker {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &BlobReadinessChecker{store: store, timeout: timeout}
}

// CheckReady проверяет доступность хранилища.
func (c *BlobReadinessChecker) CheckReady() (status string, message string) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	if err := c.store.Check(ctx); err != nil {
		return "fail", err.Error()
	}
	return "ok", "хранилище доступно"
}

// HealthHandler - обработчик health endpoints.
type HealthHandler struct {
	ledgerChecker ReadinessChecker
	blobChecker   ReadinessChecker
	idpChecker    ReadinessChecker
	promHandler   http.Handler
}

// NewHealthHandler создаёт обработчик health endpoints.
// Оба checker могут быть nil (readiness вернёт "fail" для nil зависимостей).
func NewHealthHandler(ledgerChecker, blobChecker ReadinessChecker) *HealthHandler {
	return &HealthHandler{
		ledgerChecker: ledgerChecker,
		blobChecker:   blobChecker,
		promHandler:   promhttp.Handler(),
	}
}

// WithIdPChecker добавляет проверку IdP (JWKS). Недоступность IdP
// понижает статус только до degraded: ключи JWKS кэшируются.
func (h *HealthHandler) WithIdPChecker(c ReadinessChecker) *HealthHandler {
	h.idpChecker = c
	return h
}

// healthCheckResult - результат проверки одной зависимости.
type healthCheckResult struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// healthLiveResponse - ответ liveness-проверки.
type healthLiveResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
	Service   string `json:"service"`
}

// healthReadyResponse - ответ readiness-проверки.
type healthReadyResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
	Service   string `json:"service"`
	Checks    struct {
		Ledger    healthCheckResult `json:"ledger"`
		BlobStore healthCheckResult  `json:"blobstore"`
		IdP       *healthCheckResult `json:"idp,omitempty"`
	} `json:"checks"`
}

// HealthLive - liveness-проверка. Возвращает 200 если процесс жив.
func (h *HealthHandler) HealthLive(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthLiveResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   config.Version,
		Service:   "vault-module",
	})
}

// HealthReady - readiness-проверка. Возвращает 200 (ok/degraded) или 503 (fail).
func (h *HealthHandler) HealthReady(w http.ResponseWriter, _ *http.Request) {
	resp := healthReadyResponse{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   config.Version,
		Service:   "vault-module",
	}

	resp.Checks.Ledger = runCheck(h.ledgerChecker)
	resp.Checks.BlobStore = runCheck(h.blobChecker)
	resp.Status = overallStatus(resp.Checks.Ledger.Status, resp.Checks.BlobStore.Status)

	if h.idpChecker != nil {
		idp := runCheck(h.idpChecker)
		resp.Checks.IdP = &idp
		if idp.Status == "fail" {
			resp.Status = overallStatus(resp.Status, "degraded")
		} else {
			resp.Status = overallStatus(resp.Status, idp.Status)
		}
	}

	status := http.StatusOK
	if resp.Status == "fail" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

// GetMetrics - Prometheus метрики.
func (h *HealthHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	h.promHandler.ServeHTTP(w, r)
}

func runCheck(c ReadinessChecker) healthCheckResult {
	if c == nil {
		return healthCheckResult{Status: "fail", Message: "не инициализирован"}
	}
	status, msg := c.CheckReady()
	return healthCheckResult{Status: status, Message: msg}
}

// overallStatus определяет итоговый статус из статусов зависимостей.
// Если хотя бы одна зависимость fail - итог fail.
// Если хотя бы одна degraded - итог degraded.
// Иначе - ok.
func overallStatus(statuses ...string) string {
	hasDegraded := false
	for _, s := range statuses {
		if s == "fail" {
			return "fail"
		}
		if s == "degraded" {
			hasDegraded = true
		}
	}
	if hasDegraded {
		return "degraded"
	}
	return "ok"
}

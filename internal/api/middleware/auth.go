// auth.go - JWT middleware для аутентификации Vault Module.
// Проверяет подпись токена (RS256 через JWKS или HS256 с общим секретом),
// извлекает claims, вычисляет роль и синхронизирует каталог пользователей.
package middleware

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/MicahParks/jwkset"
	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"

	apierrors "github.com/bigkaa/goartstore/vault-module/internal/api/errors"
	"github.com/bigkaa/goartstore/vault-module/internal/domain/model"
	"github.com/bigkaa/goartstore/vault-module/internal/domain/rbac"
)

// contextKey - тип для ключей контекста (избегаем коллизий).
type contextKey string

const (
	// ContextKeyClaims - извлечённые claims в контексте запроса.
	ContextKeyClaims contextKey = "jwt_claims"
)

// AuthClaims - извлечённые и обработанные claims JWT.
// Помещаются в контекст запроса для downstream handlers.
type AuthClaims struct {
	// Subject - sub из JWT, идентификатор владельца файлов.
	Subject string
	// Name - name или preferred_username из JWT.
	Name  string
	Email string
	// Groups - группы IdP.
	Groups []string
	// Role - итоговая роль (claim role или admin-группа).
	Role model.Role
}

// Principal возвращает субъект для проверки доступа.
func (c *AuthClaims) Principal() rbac.Principal {
	return rbac.Principal{ID: c.Subject, Role: c.Role}
}

// User возвращает запись каталога пользователей из claims.
func (c *AuthClaims) User() model.User {
	return model.User{ID: c.Subject, Name: c.Name, Email: c.Email, Role: c.Role}
}

// HasRole проверяет, совпадает ли роль с одной из указанных.
func (c *AuthClaims) HasRole(roles ...model.Role) bool {
	for _, r := range roles {
		if c.Role == r {
			return true
		}
	}
	return false
}

// UserSyncer - каталог пользователей, обновляемый из claims.
// Реализуется service.UserDirectory.
type UserSyncer interface {
	Sync(ctx context.Context, u model.User) error
}

// tokenClaims - raw claims JWT для парсинга.
type tokenClaims struct {
	jwt.RegisteredClaims
	Name              string   `json:"name,omitempty"`
	PreferredUsername string   `json:"preferred_username,omitempty"`
	Email             string   `json:"email,omitempty"`
	Role              string   `json:"role,omitempty"`
	Groups            []string `json:"groups,omitempty"`
	// RealmAccess - realm_access.roles (Keycloak).
	RealmAccess *realmAccess `json:"realm_access,omitempty"`
}

// realmAccess - вложенная структура realm_access в Keycloak JWT.
type realmAccess struct {
	Roles []string `json:"roles"`
}

// JWTConfig - параметры проверки токенов.
type JWTConfig struct {
	// JWKSURL - URL JWKS (RS256). Имеет приоритет над Secret.
	JWKSURL string
	// Secret - общий секрет HS256.
	Secret string
	// CACertPath - опциональный CA-сертификат для JWKS.
	CACertPath string
	// Issuer - ожидаемый issuer (пусто - не проверяется).
	Issuer              string
	Leeway              time.Duration
	JWKSClientTimeout   time.Duration
	JWKSRefreshInterval time.Duration
	// AdminGroups - группы IdP, дающие роль admin.
	AdminGroups []string
}

// JWTAuth - middleware для JWT-аутентификации.
type JWTAuth struct {
	keyFunc     func(ctx context.Context) jwt.Keyfunc
	methods     []string
	syncer      UserSyncer
	adminGroups []string
	issuer      string
	leeway      time.Duration
	logger      *slog.Logger
}

// NewJWTAuth создаёт JWT middleware.
// С JWKSURL ключи загружаются из JWKS с фоновым обновлением (RS256),
// иначе используется общий секрет (HS256).
// syncer может быть nil.
func NewJWTAuth(cfg JWTConfig, syncer UserSyncer, logger *slog.Logger) (*JWTAuth, error) {
	j := &JWTAuth{
		syncer:      syncer,
		adminGroups: cfg.AdminGroups,
		issuer:      cfg.Issuer,
		leeway:      cfg.Leeway,
		logger:      logger.With(slog.String("component", "jwt_auth")),
	}

	if cfg.JWKSURL == "" {
		if cfg.Secret == "" {
			return nil, fmt.Errorf("не задан источник ключей JWT")
		}
		secret := []byte(cfg.Secret)
		j.methods = []string{"HS256"}
		j.keyFunc = func(context.Context) jwt.Keyfunc {
			return func(*jwt.Token) (any, error) { return secret, nil }
		}
		return j, nil
	}

	// HTTP-клиент для JWKS (с кастомным CA или стандартный)
	httpClient := &http.Client{Timeout: cfg.JWKSClientTimeout}
	if cfg.CACertPath != "" {
		var err error
		httpClient, err = httpClientWithCA(cfg.CACertPath, cfg.JWKSClientTimeout)
		if err != nil {
			return nil, fmt.Errorf("загрузка CA-сертификата %s: %w", cfg.CACertPath, err)
		}
		logger.Info("CA-сертификат для JWKS добавлен в пул доверия",
			slog.String("ca_cert", cfg.CACertPath),
		)
	}

	// JWKS Storage с фоновым обновлением.
	// NoErrorReturnFirstHTTPReq - стартуем даже если IdP ещё недоступен.
	storage, err := jwkset.NewStorageFromHTTP(cfg.JWKSURL, jwkset.HTTPClientStorageOptions{
		Client:                    httpClient,
		NoErrorReturnFirstHTTPReq: true,
		RefreshInterval:           cfg.JWKSRefreshInterval,
		RefreshErrorHandler: func(_ context.Context, err error) {
			logger.Error("Ошибка обновления JWKS",
				slog.String("error", err.Error()),
				slog.String("url", cfg.JWKSURL),
			)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("создание JWKS storage: %w", err)
	}

	k, err := keyfunc.New(keyfunc.Options{
		Storage: storage,
	})
	if err != nil {
		return nil, fmt.Errorf("создание keyfunc: %w", err)
	}

	j.methods = []string{"RS256"}
	j.keyFunc = k.KeyfuncCtx
	return j, nil
}

// NewJWTAuthWithKeyfunc создаёт JWT middleware с предоставленной keyfunc (RS256).
// Используется в тестах для подстановки mock JWKS.
func NewJWTAuthWithKeyfunc(
	kf keyfunc.Keyfunc,
	issuer string,
	adminGroups []string,
	syncer UserSyncer,
	logger *slog.Logger,
) *JWTAuth {
	return &JWTAuth{
		keyFunc:     kf.KeyfuncCtx,
		methods:     []string{"RS256"},
		syncer:      syncer,
		adminGroups: adminGroups,
		issuer:      issuer,
		logger:      logger.With(slog.String("component", "jwt_auth")),
	}
}

// httpClientWithCA создаёт HTTP-клиент с кастомным CA-сертификатом.
func httpClientWithCA(caCertPath string, timeout time.Duration) (*http.Client, error) {
	caCert, err := os.ReadFile(caCertPath)
	if err != nil {
		return nil, err
	}

	caCertPool, err := x509.SystemCertPool()
	if err != nil {
		caCertPool = x509.NewCertPool()
	}
	caCertPool.AppendCertsFromPEM(caCert)

	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				RootCAs: caCertPool,
			},
		},
	}, nil
}

// Middleware возвращает HTTP middleware для JWT-аутентификации.
// Извлекает Bearer token, валидирует подпись, извлекает claims,
// вычисляет роль и помещает claims в контекст.
func (j *JWTAuth) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				apierrors.Unauthorized(w, "Отсутствует заголовок Authorization")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				apierrors.Unauthorized(w, "Неверный формат Authorization: ожидается Bearer <token>")
				return
			}

			tokenString := strings.TrimSpace(parts[1])
			if tokenString == "" {
				apierrors.Unauthorized(w, "Пустой Bearer token")
				return
			}

			rawClaims := &tokenClaims{}
			parserOpts := []jwt.ParserOption{
				jwt.WithValidMethods(j.methods),
				jwt.WithExpirationRequired(),
				jwt.WithLeeway(j.leeway),
			}
			if j.issuer != "" {
				parserOpts = append(parserOpts, jwt.WithIssuer(j.issuer))
			}

			token, err := jwt.ParseWithClaims(tokenString, rawClaims, j.keyFunc(r.Context()), parserOpts...)
			if err != nil {
				j.logger.Debug("JWT валидация не пройдена",
					slog.String("error", err.Error()),
					slog.String("remote_addr", r.RemoteAddr),
				)
				apierrors.Unauthorized(w, "Невалидный или просроченный токен")
				return
			}
			if !token.Valid {
				apierrors.Unauthorized(w, "Невалидный токен")
				return
			}

			subject, err := rawClaims.GetSubject()
			if err != nil || subject == "" {
				apierrors.Unauthorized(w, "Отсутствует sub в токене")
				return
			}

			authClaims := j.buildAuthClaims(rawClaims)
			recordSubject(r.Context(), authClaims.Subject)

			// Ошибка каталога не блокирует запрос: владение файлами
			// определяется sub, а не записью каталога
			if j.syncer != nil {
				if err := j.syncer.Sync(r.Context(), authClaims.User()); err != nil {
					j.logger.Warn("Ошибка синхронизации пользователя",
						slog.String("user_id", authClaims.Subject),
						slog.String("error", err.Error()),
					)
				}
			}

			ctx := context.WithValue(r.Context(), ContextKeyClaims, authClaims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// buildAuthClaims формирует AuthClaims из raw claims.
func (j *JWTAuth) buildAuthClaims(raw *tokenClaims) *AuthClaims {
	name := raw.Name
	if name == "" {
		name = raw.PreferredUsername
	}

	claimRole := raw.Role
	if claimRole == "" && raw.RealmAccess != nil {
		for _, r := range raw.RealmAccess.Roles {
			if role, ok := model.ParseRole(r); ok && role == model.RoleAdmin {
				claimRole = string(role)
				break
			}
		}
	}

	return &AuthClaims{
		Subject: raw.Subject,
		Name:    name,
		Email:   raw.Email,
		Groups:  raw.Groups,
		Role:    rbac.ResolveRole(claimRole, raw.Groups, j.adminGroups),
	}
}

// --- RBAC middleware helpers ---

// RequireRole возвращает middleware, требующий одну из указанных ролей.
// Должен использоваться ПОСЛЕ JWTAuth.Middleware().
func RequireRole(roles ...model.Role) func(http.Handler) http.Handler {
	names := make([]string, len(roles))
	for i, r := range roles {
		names[i] = string(r)
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := ClaimsFromContext(r.Context())
			if claims == nil {
				apierrors.Unauthorized(w, "Отсутствуют claims в контексте")
				return
			}
			if !claims.HasRole(roles...) {
				apierrors.Forbidden(w, fmt.Sprintf("Недостаточно прав: требуется роль %s", strings.Join(names, " или ")))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// --- Context helpers ---

// ClaimsFromContext извлекает AuthClaims из контекста запроса.
// Возвращает nil, если claims не найдены.
func ClaimsFromContext(ctx context.Context) *AuthClaims {
	claims, _ := ctx.Value(ContextKeyClaims).(*AuthClaims)
	return claims
}

// WithClaims помещает claims в контекст (для тестов handlers).
func WithClaims(ctx context.Context, claims *AuthClaims) context.Context {
	return context.WithValue(ctx, ContextKeyClaims, claims)
}

// --- ReadinessChecker для JWKS ---

// JWKSReadinessChecker - проверка доступности IdP через JWKS.
type JWKSReadinessChecker struct {
	jwksURL string
	client  *http.Client
}

// NewJWKSReadinessChecker создаёт checker доступности JWKS endpoint.
func NewJWKSReadinessChecker(jwksURL, caCertPath string, timeout time.Duration) (*JWKSReadinessChecker, error) {
	client := &http.Client{Timeout: timeout}
	if caCertPath != "" {
		var err error
		client, err = httpClientWithCA(caCertPath, timeout)
		if err != nil {
			return nil, fmt.Errorf("загрузка CA для readiness checker: %w", err)
		}
	}
	return &JWKSReadinessChecker{jwksURL: jwksURL, client: client}, nil
}

const statusFail = "fail"

// CheckReady проверяет доступность JWKS endpoint.
func (k *JWKSReadinessChecker) CheckReady() (status, message string) {
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, k.jwksURL, http.NoBody)
	if err != nil {
		return statusFail, "ошибка создания запроса: " + err.Error()
	}
	resp, err := k.client.Do(req) //nolint:gosec // URL из конфигурации
	if err != nil {
		return statusFail, fmt.Sprintf("JWKS недоступен: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return statusFail, fmt.Sprintf("JWKS вернул статус %d", resp.StatusCode)
	}

	var jwksResp struct {
		Keys []json.RawMessage `json:"keys"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&jwksResp); err != nil {
		return "degraded", fmt.Sprintf("JWKS: невалидный JSON: %v", err)
	}
	if len(jwksResp.Keys) == 0 {
		return "degraded", "JWKS: нет ключей"
	}
	return "ok", fmt.Sprintf("JWKS доступен, ключей: %d", len(jwksResp.Keys))
}

// auth.go — JWT middleware Library Module.
// Выпуск токенов — внешняя система; модуль только извлекает identity
// (sub = borrowerID) и роль из claims. Подпись валидируется через JWKS
// провайдера идентичности; пустой LM_JWT_JWKS_URL включает dev-режим
// без проверки подписи.
package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/MicahParks/jwkset"
	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"

	apierrors "github.com/bigkaa/golibrary/internal/api/errors"
)

// contextKey — тип для ключей контекста (избегаем коллизий).
type contextKey string

// ContextKeyClaims — извлечённые claims в контексте запроса.
const ContextKeyClaims contextKey = "jwt_claims"

// Роли субъектов API.
const (
	// RoleAdmin — библиотекарь: CRUD каталога, решения по заявкам,
	// выдача и приём книг, импорт и обогащение.
	RoleAdmin = "admin"
	// RoleReader — читатель: заявки, свои выдачи, возврат своих книг.
	RoleReader = "reader"
)

// AuthClaims — извлечённые claims токена.
// Subject используется как borrowerID во всех lending-операциях.
type AuthClaims struct {
	// Subject — sub из JWT.
	Subject string
	// PreferredUsername — preferred_username из JWT.
	PreferredUsername string
	// Email — email из JWT.
	Email string
	// Roles — роли из realm_access.roles.
	Roles []string
}

// IsAdmin сообщает, есть ли у субъекта роль администратора.
func (c *AuthClaims) IsAdmin() bool {
	for _, r := range c.Roles {
		if r == RoleAdmin {
			return true
		}
	}
	return false
}

// Role возвращает эффективную роль субъекта.
// Любой аутентифицированный субъект без роли admin — читатель.
func (c *AuthClaims) Role() string {
	if c.IsAdmin() {
		return RoleAdmin
	}
	return RoleReader
}

// tokenClaims — raw claims JWT для парсинга.
type tokenClaims struct {
	jwt.RegisteredClaims
	// PreferredUsername — имя пользователя.
	PreferredUsername string `json:"preferred_username"`
	// Email — электронная почта.
	Email string `json:"email"`
	// RealmAccess — вложенная структура для realm_access.roles.
	RealmAccess *realmAccess `json:"realm_access,omitempty"`
}

// realmAccess — вложенная структура realm_access в JWT.
type realmAccess struct {
	Roles []string `json:"roles"`
}

// JWTAuth — middleware аутентификации по JWT.
type JWTAuth struct {
	jwks       keyfunc.Keyfunc
	issuer     string
	jwtLeeway  time.Duration
	unverified bool
	logger     *slog.Logger
}

// NewJWTAuth создаёт JWT middleware с JWKS провайдера идентичности.
// Пустой jwksURL включает dev-режим: claims извлекаются без проверки
// подписи, о чём пишется предупреждение в лог.
func NewJWTAuth(
	jwksURL string,
	issuer string,
	jwksClientTimeout time.Duration,
	jwksRefreshInterval time.Duration,
	jwtLeeway time.Duration,
	logger *slog.Logger,
) (*JWTAuth, error) {
	log := logger.With(slog.String("component", "jwt_auth"))

	if jwksURL == "" {
		log.Warn("LM_JWT_JWKS_URL не задан: подпись JWT не проверяется (dev-режим)")
		return &JWTAuth{
			unverified: true,
			issuer:     issuer,
			jwtLeeway:  jwtLeeway,
			logger:     log,
		}, nil
	}

	// JWKS Storage с фоновым обновлением.
	// NoErrorReturnFirstHTTPReq — стартуем даже если провайдер ещё недоступен.
	storage, err := jwkset.NewStorageFromHTTP(jwksURL, jwkset.HTTPClientStorageOptions{
		Client:                    &http.Client{Timeout: jwksClientTimeout},
		NoErrorReturnFirstHTTPReq: true,
		RefreshInterval:           jwksRefreshInterval,
		RefreshErrorHandler: func(_ context.Context, err error) {
			log.Error("Ошибка обновления JWKS",
				slog.String("error", err.Error()),
				slog.String("url", jwksURL),
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

	return &JWTAuth{
		jwks:      k,
		issuer:    issuer,
		jwtLeeway: jwtLeeway,
		logger:    log,
	}, nil
}

// NewJWTAuthWithKeyfunc создаёт JWT middleware с предоставленной keyfunc.
// Используется в тестах для подстановки mock JWKS.
func NewJWTAuthWithKeyfunc(kf keyfunc.Keyfunc, issuer string, logger *slog.Logger) *JWTAuth {
	return &JWTAuth{
		jwks:   kf,
		issuer: issuer,
		logger: logger.With(slog.String("component", "jwt_auth")),
	}
}

// parseToken валидирует токен и извлекает AuthClaims.
func (j *JWTAuth) parseToken(ctx context.Context, tokenString string) (*AuthClaims, error) {
	rawClaims := &tokenClaims{}

	if j.unverified {
		// dev-режим: структура claims разбирается, подпись игнорируется
		if _, _, err := jwt.NewParser().ParseUnverified(tokenString, rawClaims); err != nil {
			return nil, fmt.Errorf("разбор токена: %w", err)
		}
	} else {
		parserOpts := []jwt.ParserOption{
			jwt.WithValidMethods([]string{"RS256"}),
			jwt.WithExpirationRequired(),
			jwt.WithLeeway(j.jwtLeeway),
		}
		if j.issuer != "" {
			parserOpts = append(parserOpts, jwt.WithIssuer(j.issuer))
		}

		token, err := jwt.ParseWithClaims(tokenString, rawClaims, j.jwks.KeyfuncCtx(ctx), parserOpts...)
		if err != nil {
			return nil, fmt.Errorf("валидация токена: %w", err)
		}
		if !token.Valid {
			return nil, fmt.Errorf("невалидный токен")
		}
	}

	subject, err := rawClaims.GetSubject()
	if err != nil || subject == "" {
		return nil, fmt.Errorf("отсутствует sub в токене")
	}

	claims := &AuthClaims{
		Subject:           subject,
		PreferredUsername: rawClaims.PreferredUsername,
		Email:             rawClaims.Email,
	}
	if rawClaims.RealmAccess != nil {
		claims.Roles = rawClaims.RealmAccess.Roles
	}
	return claims, nil
}

// bearerToken извлекает Bearer token из заголовка Authorization.
// Возвращает пустую строку, если заголовка нет, и ошибку при неверном формате.
func bearerToken(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", nil
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", fmt.Errorf("неверный формат Authorization: ожидается Bearer <token>")
	}
	if parts[1] == "" {
		return "", fmt.Errorf("пустой Bearer token")
	}
	return parts[1], nil
}

// Middleware возвращает HTTP middleware обязательной аутентификации.
// Отсутствующий или невалидный токен — 401.
func (j *JWTAuth) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString, err := bearerToken(r)
			if err != nil {
				apierrors.Unauthorized(w, err.Error())
				return
			}
			if tokenString == "" {
				apierrors.Unauthorized(w, "Отсутствует заголовок Authorization")
				return
			}

			claims, err := j.parseToken(r.Context(), tokenString)
			if err != nil {
				j.logger.Debug("JWT валидация не пройдена",
					slog.String("error", err.Error()),
					slog.String("remote_addr", r.RemoteAddr),
				)
				apierrors.Unauthorized(w, "Невалидный или просроченный токен")
				return
			}

			ctx := context.WithValue(r.Context(), ContextKeyClaims, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// OptionalMiddleware возвращает middleware необязательной аутентификации
// для публичных read-путей (листинг каталога, рекомендации, оценка срока).
// Запрос без токена проходит анонимно; предъявленный, но невалидный
// токен отклоняется — молча понижать identity нельзя.
func (j *JWTAuth) OptionalMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString, err := bearerToken(r)
			if err != nil {
				apierrors.Unauthorized(w, err.Error())
				return
			}
			if tokenString == "" {
				next.ServeHTTP(w, r)
				return
			}

			claims, err := j.parseToken(r.Context(), tokenString)
			if err != nil {
				j.logger.Debug("JWT валидация не пройдена",
					slog.String("error", err.Error()),
					slog.String("remote_addr", r.RemoteAddr),
				)
				apierrors.Unauthorized(w, "Невалидный или просроченный токен")
				return
			}

			ctx := context.WithValue(r.Context(), ContextKeyClaims, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAdmin возвращает middleware, требующий роль администратора.
// Должен использоваться ПОСЛЕ JWTAuth.Middleware().
func RequireAdmin() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := ClaimsFromContext(r.Context())
			if claims == nil {
				apierrors.Unauthorized(w, "Отсутствуют claims в контексте")
				return
			}
			if !claims.IsAdmin() {
				apierrors.Forbidden(w, "Недостаточно прав: требуется роль admin")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// --- Context helpers ---

// ClaimsFromContext извлекает AuthClaims из контекста запроса.
// Возвращает nil, если claims не найдены (анонимный запрос).
func ClaimsFromContext(ctx context.Context) *AuthClaims {
	claims, _ := ctx.Value(ContextKeyClaims).(*AuthClaims)
	return claims
}

// SubjectFromContext извлекает sub из контекста запроса.
// Возвращает пустую строку для анонимного запроса.
func SubjectFromContext(ctx context.Context) string {
	claims := ClaimsFromContext(ctx)
	if claims == nil {
		return ""
	}
	return claims.Subject
}

// IsAdminFromContext сообщает, является ли субъект запроса администратором.
func IsAdminFromContext(ctx context.Context) bool {
	claims := ClaimsFromContext(ctx)
	return claims != nil && claims.IsAdmin()
}

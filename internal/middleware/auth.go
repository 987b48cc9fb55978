// Package middleware содержит HTTP-мидлвари сессий и доверенных вызовов.
package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/maynagashev/modhub/internal/identity"
	"github.com/maynagashev/modhub/internal/models"
	"github.com/maynagashev/modhub/internal/repository"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// Тип для ключа контекста.
type contextKey string

// Ключи контекста запроса.
const (
	IdentityKey contextKey = "identity"
	TrustedKey  contextKey = "trusted"
)

// ServiceKeyHeader - заголовок с ключом доверенного клиента.
const ServiceKeyHeader = "X-Service-Key"

// TokenParser разбирает токен сессии.
type TokenParser interface {
	Parse(tokenString string) (*identity.Claims, error)
}

// AuthorLookup находит автора по ID.
type AuthorLookup interface {
	GetAuthor(ctx context.Context, id string) (*models.Author, error)
}

// Auth содержит мидлвари аутентификации.
type Auth struct {
	parser         TokenParser
	authors        AuthorLookup
	serviceKeyHash []byte
	log            *zap.Logger
}

// NewAuth создает набор мидлварей. serviceKeyHash - bcrypt-хеш ключа
// доверенного клиента; пустой хеш отключает доверенные вызовы.
func NewAuth(parser TokenParser, authors AuthorLookup, serviceKeyHash string, log *zap.Logger) *Auth {
	if log == nil {
		log = zap.NewNop()
	}
	return &Auth{
		parser:         parser,
		authors:        authors,
		serviceKeyHash: []byte(serviceKeyHash),
		log:            log.Named("AuthMiddleware"),
	}
}

// BearerToken извлекает токен из заголовка Authorization.
func BearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	headerParts := strings.Split(authHeader, " ")
	if len(headerParts) != 2 || !strings.EqualFold(headerParts[0], "bearer") || headerParts[1] == "" {
		return "", false
	}
	return headerParts[1], true
}

// Authenticator проверяет JWT токен сессии и кладет личность в контекст.
func (a *Auth) Authenticator(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "" {
			a.log.Debug("Заголовок Authorization отсутствует")
			http.Error(w, "Требуется аутентификация", http.StatusUnauthorized)
			return
		}

		tokenString, ok := BearerToken(r)
		if !ok {
			a.log.Info("Неверный формат заголовка Authorization")
			http.Error(w, "Неверный формат токена", http.StatusUnauthorized)
			return
		}

		claims, err := a.parser.Parse(tokenString)
		if err != nil || claims.Subject == "" {
			a.log.Info("Ошибка парсинга/валидации токена", zap.Error(err))
			http.Error(w, "Невалидный токен", http.StatusUnauthorized)
			return
		}

		id := models.Identity{ID: claims.Subject, Name: claims.Name, BearerToken: tokenString}
		if id.Name == "" {
			id.Name = id.ID
		}
		a.log.Debug("Пользователь аутентифицирован", zap.String("authorID", id.ID))
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
	})
}

// RequireAdmin пропускает только незаблокированных авторов с ролью admin.
// Ставится после Authenticator.
func (a *Auth) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := IdentityFromContext(r.Context())
		if !ok {
			a.log.Error("Личность отсутствует в контексте")
			http.Error(w, "Требуется аутентификация", http.StatusUnauthorized)
			return
		}

		author, err := a.authors.GetAuthor(r.Context(), id.ID)
		switch {
		case errors.Is(err, repository.ErrAuthorNotFound):
			a.log.Warn("Попытка админ-действия неизвестным автором", zap.String("authorID", id.ID))
			http.Error(w, "Доступ запрещен", http.StatusForbidden)
			return
		case err != nil:
			a.log.Error("Ошибка получения автора", zap.String("authorID", id.ID), zap.Error(err))
			http.Error(w, "Сервис временно недоступен", http.StatusServiceUnavailable)
			return
		}

		if !author.IsAdmin() || author.Banned {
			a.log.Warn("Попытка админ-действия без прав", zap.String("authorID", id.ID))
			http.Error(w, "Доступ запрещен", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ServiceKey отмечает запрос как доверенный, если передан верный ключ.
// Запрос без заголовка проходит как обычный, с неверным ключом - отклоняется.
func (a *Auth) ServiceKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(ServiceKeyHeader)
		if key == "" {
			next.ServeHTTP(w, r)
			return
		}

		if len(a.serviceKeyHash) == 0 ||
			bcrypt.CompareHashAndPassword(a.serviceKeyHash, []byte(key)) != nil {
			a.log.Warn("Неверный ключ доверенного клиента", zap.String("remote", r.RemoteAddr))
			http.Error(w, "Неверный ключ сервиса", http.StatusUnauthorized)
			return
		}
		ctx := context.WithValue(r.Context(), TrustedKey, true)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// WithIdentity кладет личность в контекст.
func WithIdentity(ctx context.Context, id models.Identity) context.Context {
	return context.WithValue(ctx, IdentityKey, id)
}

// IdentityFromContext извлекает личность из контекста запроса.
func IdentityFromContext(ctx context.Context) (models.Identity, bool) {
	id, ok := ctx.Value(IdentityKey).(models.Identity)
	return id, ok
}

// IsTrusted сообщает, прошел ли запрос проверку ключа сервиса.
func IsTrusted(ctx context.Context) bool {
	trusted, _ := ctx.Value(TrustedKey).(bool)
	return trusted
}

// Package identity проверяет заявленную личность загружающего.
package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrProviderUnavailable - провайдер не ответил; это инфраструктурная ошибка,
// а не отказ в проверке.
var ErrProviderUnavailable = errors.New("провайдер личности недоступен")

// Provider сверяет bearer-токен с заявленным ID автора.
type Provider interface {
	Verify(ctx context.Context, claimedID, bearerToken string) (bool, error)
}

// Claims - полезная нагрузка токена сессии. Subject - ID автора.
type Claims struct {
	Name string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// JWTProvider проверяет токены, выпущенные слоем сессий с общим секретом.
type JWTProvider struct {
	secret []byte
}

var _ Provider = (*JWTProvider)(nil)

// NewJWTProvider создает провайдер с секретом подписи HS256.
func NewJWTProvider(secret string) *JWTProvider {
	return &JWTProvider{secret: []byte(secret)}
}

// Verify возвращает true, если токен валиден и выпущен для claimedID.
func (p *JWTProvider) Verify(_ context.Context, claimedID, bearerToken string) (bool, error) {
	claims, err := p.Parse(bearerToken)
	if err != nil {
		return false, nil //nolint:nilerr // невалидный токен - отказ, а не сбой
	}
	return claims.Subject != "" && claims.Subject == claimedID, nil
}

// Parse проверяет подпись и срок действия токена.
func (p *JWTProvider) Parse(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("неожиданный метод подписи: %v", token.Header["alg"])
		}
		return p.secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("невалидный токен")
	}
	return claims, nil
}

// Issue выпускает токен для автора. Используется CLI и тестами.
func (p *JWTProvider) Issue(authorID, name string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Name: name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   authorID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(p.secret)
	if err != nil {
		return "", fmt.Errorf("ошибка подписи токена: %w", err)
	}
	return signed, nil
}

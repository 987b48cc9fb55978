package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const defaultHTTPTimeout = 5 * time.Second

// HTTPProvider проверяет токен через userinfo-эндпоинт внешнего
// OAuth-провайдера и сравнивает возвращенный id с заявленным.
type HTTPProvider struct {
	url    string
	client *http.Client
}

var _ Provider = (*HTTPProvider)(nil)

// NewHTTPProvider создает провайдер. client может быть nil.
func NewHTTPProvider(url string, client *http.Client) *HTTPProvider {
	if client == nil {
		client = &http.Client{Timeout: defaultHTTPTimeout}
	}
	return &HTTPProvider{url: url, client: client}
}

type userInfo struct {
	ID string `json:"id"`
}

// Verify отвечает false на 401/403 и ErrProviderUnavailable на прочие сбои.
func (p *HTTPProvider) Verify(ctx context.Context, claimedID, bearerToken string) (bool, error) {
	if bearerToken == "" {
		return false, nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return false, fmt.Errorf("ошибка создания запроса к провайдеру: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+bearerToken)
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return false, nil
	case resp.StatusCode != http.StatusOK:
		return false, fmt.Errorf("%w: статус %d", ErrProviderUnavailable, resp.StatusCode)
	}

	var info userInfo
	if err = json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&info); err != nil {
		return false, fmt.Errorf("%w: некорректный ответ: %w", ErrProviderUnavailable, err)
	}
	return info.ID != "" && info.ID == claimedID, nil
}

package identity_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/maynagashev/modhub/internal/identity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTProvider(t *testing.T) {
	p := identity.NewJWTProvider("test-secret")
	token, err := p.Issue("a1", "Alice", time.Hour)
	require.NoError(t, err)

	expired, err := p.Issue("a1", "Alice", -time.Hour)
	require.NoError(t, err)

	foreign, err := identity.NewJWTProvider("other-secret").Issue("a1", "Alice", time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name      string
		claimedID string
		token     string
		want      bool
	}{
		{name: "Токен выпущен для заявленного автора", claimedID: "a1", token: token, want: true},
		{name: "Чужой ID", claimedID: "a2", token: token, want: false},
		{name: "Истекший токен", claimedID: "a1", token: expired, want: false},
		{name: "Другой секрет", claimedID: "a1", token: foreign, want: false},
		{name: "Мусор вместо токена", claimedID: "a1", token: "not-a-jwt", want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, err := p.Verify(context.Background(), tt.claimedID, tt.token)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ok)
		})
	}
}

func TestHTTPProvider(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Header.Get("Authorization") {
		case "Bearer good":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"id":"a1","username":"alice"}`))
		case "Bearer broken":
			w.WriteHeader(http.StatusBadGateway)
		default:
			w.WriteHeader(http.StatusUnauthorized)
		}
	}))
	defer srv.Close()

	p := identity.NewHTTPProvider(srv.URL, srv.Client())
	ctx := context.Background()

	ok, err := p.Verify(ctx, "a1", "good")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = p.Verify(ctx, "a2", "good")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = p.Verify(ctx, "a1", "bad")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = p.Verify(ctx, "a1", "broken")
	require.ErrorIs(t, err, identity.ErrProviderUnavailable)

	ok, err = p.Verify(ctx, "a1", "")
	require.NoError(t, err)
	assert.False(t, ok)
}

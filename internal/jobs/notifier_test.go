package jobs

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/maynagashev/modhub/internal/models"
	"github.com/maynagashev/modhub/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedActions(t *testing.T, store repository.Store, texts ...string) {
	t.Helper()
	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	for _, text := range texts {
		_, err := store.Actions().AppendAction(context.Background(), &models.ActionEntry{
			ActorID:   "alice",
			ActorName: "Alice",
			Action:    text,
			CreatedAt: at,
		})
		require.NoError(t, err)
	}
}

func unlogged(t *testing.T, store repository.Store) int {
	t.Helper()
	list, err := store.Actions().ListUnlogged(context.Background(), 100)
	require.NoError(t, err)
	return len(list)
}

func TestNotifier_Webhook(t *testing.T) {
	var received []webhookMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var msg webhookMessage
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&msg))
		received = append(received, msg)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	store := repository.NewMemoryStore()
	seedActions(t, store, "Alice загрузил мод a", "Alice загрузил мод b", "Alice загрузил мод c")
	n := NewNotifier(store.Actions(), NotifierConfig{WebhookURL: srv.URL, BatchSize: 2}, srv.Client(), nil, nil)

	count, err := n.Flush(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.Equal(t, 1, unlogged(t, store))

	count, err = n.Flush(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	count, err = n.Flush(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count)

	require.Len(t, received, 2)
	assert.Equal(t, 2, strings.Count(received[0].Content, "\n")+1)
	assert.Contains(t, received[0].Content, "[2025-03-01 12:00:00] Alice загрузил мод a")
	assert.Contains(t, received[1].Content, "мод c")
}

func TestNotifier_WebhookFailureKeepsActions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	store := repository.NewMemoryStore()
	seedActions(t, store, "Alice загрузил мод a")
	n := NewNotifier(store.Actions(), NotifierConfig{WebhookURL: srv.URL}, srv.Client(), nil, nil)

	count, err := n.Flush(context.Background())
	require.Error(t, err)
	assert.Zero(t, count)
	assert.Equal(t, 1, unlogged(t, store), "запись уйдет в следующем проходе")
}

func TestNotifier_LogOnly(t *testing.T) {
	store := repository.NewMemoryStore()
	seedActions(t, store, "Alice загрузил мод a", "Alice загрузил мод b")
	n := NewNotifier(store.Actions(), NotifierConfig{}, nil, nil, nil)

	count, err := n.Flush(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.Zero(t, unlogged(t, store))
}

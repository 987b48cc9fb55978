package services_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/maynagashev/modhub/internal/models"
	"github.com/maynagashev/modhub/internal/repository"
	"github.com/maynagashev/modhub/internal/services"
	"github.com/maynagashev/modhub/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSearch(t *testing.T) {
	env := newTestEnv(t)
	env.trustAll()
	ctx := context.Background()

	for i := range 5 {
		env.upload(t, alice(), modArchive(t, fmt.Sprintf("mod-%d", i), "1.0.0", map[string]any{
			"tags": []string{"qol"},
		}), models.UploadOptions{})
	}
	for _, v := range []string{"1.0.0", "1.1.0"} {
		env.clock.Advance(time.Minute)
		env.upload(t, alice(), modArchive(t, "fancy-ui", v, map[string]any{
			"tags": []string{"ui", "qol"},
		}), models.UploadOptions{ConfirmUpdate: true})
	}
	require.NoError(t, env.admin.Verify(ctx, root(), "fancy-ui"))

	t.Run("Только проверенные", func(t *testing.T) {
		page, err := env.mods.Search(ctx, models.ModSearch{Verified: models.VerifiedOnly})
		require.NoError(t, err)
		require.Len(t, page.Mods, 1)
		assert.Equal(t, int64(1), page.Total)
		assert.Equal(t, []string{"1.1.0", "1.0.0"}, page.Versions["fancy-ui"])
	})

	t.Run("Постраничный вывод", func(t *testing.T) {
		page, err := env.mods.Search(ctx, models.ModSearch{Verified: models.UnverifiedOnly, Limit: 2, Offset: 2})
		require.NoError(t, err)
		assert.Len(t, page.Mods, 2)
		assert.Equal(t, int64(5), page.Total)
		assert.Len(t, page.Versions, 2)
	})

	t.Run("Пустая страница", func(t *testing.T) {
		page, err := env.mods.Search(ctx, models.ModSearch{Verified: models.VerifiedAny, Offset: 100})
		require.NoError(t, err)
		assert.NotNil(t, page.Mods)
		assert.Empty(t, page.Mods)
	})

	t.Run("Теги и строка поиска", func(t *testing.T) {
		page, err := env.mods.Search(ctx, models.ModSearch{
			Verified: models.VerifiedAny,
			Tags:     []string{"ui"},
			Query:    "FANCY",
		})
		require.NoError(t, err)
		require.Len(t, page.Mods, 1)
		assert.Equal(t, "fancy-ui", page.Mods[0].ModID)
	})
}

// searchSpyStore запоминает запрос, дошедший до хранилища.
type searchSpyStore struct {
	*repository.MemoryStore
	seen *models.ModSearch
}

type searchSpyMods struct {
	repository.ModRepository
	seen *models.ModSearch
}

func (s searchSpyStore) Mods() repository.ModRepository {
	return searchSpyMods{ModRepository: s.MemoryStore.Mods(), seen: s.seen}
}

func (m searchSpyMods) Search(ctx context.Context, q models.ModSearch) ([]models.ModEntry, int64, error) {
	*m.seen = q
	return m.ModRepository.Search(ctx, q)
}

func TestSearch_PageUsesClampedLimit(t *testing.T) {
	tests := []struct {
		name       string
		query      models.ModSearch
		wantLimit  int
		wantOffset int
	}{
		{name: "Лимит больше максимума", query: models.ModSearch{Limit: 500, Page: 2}, wantLimit: 100, wantOffset: 100},
		{name: "Лимит по умолчанию", query: models.ModSearch{Page: 3}, wantLimit: 20, wantOffset: 40},
		{name: "Первая страница", query: models.ModSearch{Limit: 10, Page: 1}, wantLimit: 10, wantOffset: 0},
		{name: "Явное смещение без страницы", query: models.ModSearch{Limit: 10, Offset: 7}, wantLimit: 10, wantOffset: 7},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seen models.ModSearch
			mods := services.NewModService(services.ModServiceDeps{
				Store: searchSpyStore{MemoryStore: repository.NewMemoryStore(), seen: &seen},
				Files: storage.NewMemoryStorage(),
			})
			_, err := mods.Search(context.Background(), tt.query)
			require.NoError(t, err)
			assert.Equal(t, tt.wantLimit, seen.Limit)
			assert.Equal(t, tt.wantOffset, seen.Offset)
		})
	}
}

func TestListVersions(t *testing.T) {
	env := newTestEnv(t)
	env.trustAll()
	ctx := context.Background()
	seedLineage(t, env, "a-mod", "1.0.0", "1.1.0")
	seedLineage(t, env, "b-mod", "0.1.0")

	got, err := env.mods.ListVersions(ctx, []string{"a-mod", "b-mod", "a-mod", " ", "missing"})
	require.NoError(t, err)
	assert.Equal(t, map[string][]string{
		"a-mod": {"1.1.0", "1.0.0"},
		"b-mod": {"0.1.0"},
	}, got)

	_, err = env.mods.ListVersions(ctx, nil)
	require.ErrorIs(t, err, services.ErrInvalidRequest)

	many := make([]string, 101)
	for i := range many {
		many[i] = fmt.Sprintf("mod-%d", i)
	}
	_, err = env.mods.ListVersions(ctx, many)
	require.ErrorIs(t, err, services.ErrInvalidRequest)
}

func TestGetVersion_Latest(t *testing.T) {
	env := newTestEnv(t)
	env.trustAll()
	ctx := context.Background()
	seedLineage(t, env, "cool-mod", "1.0.0", "1.1.0")

	v, err := env.mods.GetVersion(ctx, "cool-mod", models.LatestVersion, false)
	require.NoError(t, err)
	assert.Equal(t, "1.1.0", v.Version)
	assert.Nil(t, v.Payload)
	assert.NotEmpty(t, v.Checksum)
	assert.Positive(t, v.SizeBytes)

	_, err = env.mods.GetVersion(ctx, "missing", models.LatestVersion, false)
	require.ErrorIs(t, err, services.ErrVersionNotFound)
}

func TestGetVersion_PayloadMissing(t *testing.T) {
	env := newTestEnv(t)
	env.trustAll()
	ctx := context.Background()
	seedLineage(t, env, "cool-mod", "1.0.0")

	v, err := env.mods.GetVersion(ctx, "cool-mod", "1.0.0", false)
	require.NoError(t, err)
	require.NoError(t, env.files.DeleteFile(ctx, v.ObjectKey))

	_, err = env.mods.GetVersion(ctx, "cool-mod", "1.0.0", true)
	require.ErrorIs(t, err, services.ErrPayloadMissing)
}

func TestVote(t *testing.T) {
	env := newTestEnv(t)
	env.trustAll()
	ctx := context.Background()
	seedLineage(t, env, "cool-mod", "1.0.0")

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, env.mods.Vote(ctx, "cool-mod"))
		}()
	}
	wg.Wait()

	mod, err := env.mods.GetMod(ctx, "cool-mod")
	require.NoError(t, err)
	assert.Equal(t, int64(20), mod.Votes)

	require.ErrorIs(t, env.mods.Vote(ctx, "missing"), services.ErrModNotFound)
}

func TestAuthorProfile(t *testing.T) {
	env := newTestEnv(t)
	env.trustAll()
	ctx := context.Background()
	seedLineage(t, env, "a-mod", "1.0.0")
	seedLineage(t, env, "b-mod", "1.0.0")

	profile, err := env.mods.AuthorProfile(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "Alice", profile.Author.Name)
	assert.Len(t, profile.Mods, 2)

	_, err = env.mods.AuthorProfile(ctx, "ghost")
	require.ErrorIs(t, err, services.ErrAuthorNotFound)
}

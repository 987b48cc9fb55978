package services_test

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/maynagashev/modhub/internal/locks"
	"github.com/maynagashev/modhub/internal/manifest"
	"github.com/maynagashev/modhub/internal/models"
	"github.com/maynagashev/modhub/internal/repository"
	"github.com/maynagashev/modhub/internal/schema"
	"github.com/maynagashev/modhub/internal/services"
	"github.com/maynagashev/modhub/internal/storage"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// --- Mocks ---

// MockIdentityProvider is a mock for identity.Provider.
type MockIdentityProvider struct {
	mock.Mock
}

func (m *MockIdentityProvider) Verify(ctx context.Context, claimedID, bearerToken string) (bool, error) {
	args := m.Called(ctx, claimedID, bearerToken)
	return args.Bool(0), args.Error(1)
}

// fakeClock - управляемые часы.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type testEnv struct {
	store    *repository.MemoryStore
	files    *storage.MemoryStorage
	locker   locks.Locker
	identity *MockIdentityProvider
	clock    *fakeClock
	mods     services.ModService
	admin    services.AdminService
	deps     services.ModServiceDeps
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	registry, err := schema.NewRegistry(nil)
	require.NoError(t, err)

	env := &testEnv{
		store:    repository.NewMemoryStore(),
		files:    storage.NewMemoryStorage(),
		locker:   locks.NewLocalLocker(),
		identity: new(MockIdentityProvider),
		clock:    newFakeClock(),
	}
	env.deps = services.ModServiceDeps{
		Store:            env.store,
		Files:            env.files,
		Locker:           env.locker,
		Identity:         env.identity,
		Extractor:        manifest.NewExtractor(registry, nil),
		CompressionLevel: 3,
		Clock:            env.clock.Now,
	}
	env.mods = services.NewModService(env.deps)
	env.admin = services.NewAdminService(env.deps)
	return env
}

func alice() models.Identity {
	return models.Identity{ID: "alice", Name: "Alice", BearerToken: "alice-token"}
}

func bob() models.Identity {
	return models.Identity{ID: "bob", Name: "Bob", BearerToken: "bob-token"}
}

// trustAll настраивает провайдер так, чтобы каждый токен совпадал с владельцем.
func (e *testEnv) trustAll() {
	e.identity.On("Verify", mock.Anything, mock.Anything, mock.Anything).Return(true, nil)
}

func (e *testEnv) upload(
	t *testing.T,
	who models.Identity,
	data []byte,
	opts models.UploadOptions,
) *models.UploadResult {
	t.Helper()
	res, err := e.mods.Upload(context.Background(), data, "mod.zip", who, opts)
	require.NoError(t, err)
	require.NotNil(t, res)
	return res
}

func (e *testEnv) actions(t *testing.T) []models.ActionEntry {
	t.Helper()
	list, err := e.store.Actions().ListUnlogged(context.Background(), 1000)
	require.NoError(t, err)
	return list
}

func (e *testEnv) versionCount(t *testing.T, modID string) int64 {
	t.Helper()
	n, err := e.store.Versions().CountVersions(context.Background(), modID)
	require.NoError(t, err)
	return n
}

// buildZip собирает архив из пар путь -> содержимое.
func buildZip(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, body := range files {
		f, err := w.Create(name)
		require.NoError(t, err)
		_, err = f.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func modArchive(t *testing.T, modID, version string, extra map[string]any) []byte {
	t.Helper()
	m := map[string]any{
		"modID":   modID,
		"name":    "Mod " + modID,
		"version": version,
		"author":  "Alice",
	}
	for k, v := range extra {
		m[k] = v
	}
	raw, err := json.Marshal(m)
	require.NoError(t, err)
	return buildZip(t, map[string]string{
		"modinfo.json": string(raw),
		"main.js":      "console.log('hi')",
	})
}

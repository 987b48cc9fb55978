package repository

import (
	"context"
	"errors"
	"maps"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/lib/pq"
	"github.com/maynagashev/modhub/internal/models"
)

type memoryData struct {
	mods          map[string]models.ModEntry
	versions      map[string][]models.ModVersionEntry
	authors       map[string]models.Author
	actions       []models.ActionEntry
	nextVersionID int64
	nextActionID  int64
}

func newMemoryData() *memoryData {
	return &memoryData{
		mods:     map[string]models.ModEntry{},
		versions: map[string][]models.ModVersionEntry{},
		authors:  map[string]models.Author{},
	}
}

func (d *memoryData) clone() *memoryData {
	c := &memoryData{
		mods:          maps.Clone(d.mods),
		versions:      make(map[string][]models.ModVersionEntry, len(d.versions)),
		authors:       maps.Clone(d.authors),
		actions:       slices.Clone(d.actions),
		nextVersionID: d.nextVersionID,
		nextActionID:  d.nextActionID,
	}
	for k, v := range d.versions {
		c.versions[k] = slices.Clone(v)
	}
	return c
}

type memoryAccess interface {
	read(fn func(d *memoryData) error) error
	write(fn func(d *memoryData) error) error
}

// MemoryStore - хранилище в памяти процесса для локального запуска и тестов.
// Транзакция работает на копии данных и подменяет их при успешном завершении.
// Запись сериализуется через txMu, поэтому одиночные операции не теряются
// при фиксации параллельной транзакции.
type MemoryStore struct {
	txMu sync.Mutex
	mu   sync.RWMutex
	data *memoryData
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore создает пустое хранилище в памяти.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: newMemoryData()}
}

func (s *MemoryStore) read(fn func(d *memoryData) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(s.data)
}

func (s *MemoryStore) write(fn func(d *memoryData) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.data)
}

func (s *MemoryStore) Mods() ModRepository            { return &memoryModRepository{acc: s} }
func (s *MemoryStore) Versions() ModVersionRepository { return &memoryModVersionRepository{acc: s} }
func (s *MemoryStore) Authors() AuthorRepository      { return &memoryAuthorRepository{acc: s} }
func (s *MemoryStore) Actions() ActionRepository      { return &memoryActionRepository{acc: s} }

// WithinTx выполняет fn над копией данных и фиксирует ее, если fn вернула nil.
func (s *MemoryStore) WithinTx(ctx context.Context, fn func(tx Store) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.RLock()
	tx := &memoryTx{data: s.data.clone()}
	s.mu.RUnlock()

	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	s.data = tx.data
	s.mu.Unlock()
	return nil
}

// memoryTx принадлежит одной горутине и не требует блокировок.
type memoryTx struct {
	data *memoryData
}

func (t *memoryTx) read(fn func(d *memoryData) error) error  { return fn(t.data) }
func (t *memoryTx) write(fn func(d *memoryData) error) error { return fn(t.data) }

func (t *memoryTx) Mods() ModRepository            { return &memoryModRepository{acc: t} }
func (t *memoryTx) Versions() ModVersionRepository { return &memoryModVersionRepository{acc: t} }
func (t *memoryTx) Authors() AuthorRepository      { return &memoryAuthorRepository{acc: t} }
func (t *memoryTx) Actions() ActionRepository      { return &memoryActionRepository{acc: t} }

func (t *memoryTx) WithinTx(_ context.Context, fn func(tx Store) error) error {
	return fn(t)
}

type memoryModRepository struct {
	acc memoryAccess
}

func (r *memoryModRepository) GetMod(_ context.Context, modID string) (*models.ModEntry, error) {
	var out *models.ModEntry
	err := r.acc.read(func(d *memoryData) error {
		mod, ok := d.mods[modID]
		if !ok {
			return ErrModNotFound
		}
		out = &mod
		return nil
	})
	return out, err
}

func (r *memoryModRepository) CreateMod(_ context.Context, mod *models.ModEntry) error {
	if mod.Seq == 0 {
		mod.Seq = 1
	}
	return r.acc.write(func(d *memoryData) error {
		if _, ok := d.mods[mod.ModID]; ok {
			return ErrModExists
		}
		d.mods[mod.ModID] = *mod
		return nil
	})
}

func (r *memoryModRepository) UpdateCurrent(
	_ context.Context,
	modID string,
	manifest models.Manifest,
	uploadTime time.Time,
	expectedSeq int64,
) error {
	return r.acc.write(func(d *memoryData) error {
		mod, ok := d.mods[modID]
		if !ok || mod.Seq != expectedSeq {
			return ErrConcurrentUpdate
		}
		mod.Manifest = manifest
		mod.UploadTime = uploadTime
		mod.Seq++
		d.mods[modID] = mod
		return nil
	})
}

func (r *memoryModRepository) SetVerified(_ context.Context, modID string) (bool, error) {
	changed := false
	err := r.acc.write(func(d *memoryData) error {
		mod, ok := d.mods[modID]
		if !ok || mod.Verified {
			return nil
		}
		mod.Verified = true
		d.mods[modID] = mod
		changed = true
		return nil
	})
	return changed, err
}

func (r *memoryModRepository) DeleteMod(_ context.Context, modID string) error {
	return r.acc.write(func(d *memoryData) error {
		if _, ok := d.mods[modID]; !ok {
			return ErrModNotFound
		}
		delete(d.mods, modID)
		return nil
	})
}

func (r *memoryModRepository) ListUnverified(
	_ context.Context,
	firstBefore time.Time,
	limit int,
) ([]models.ModEntry, error) {
	var out []models.ModEntry
	first := map[string]time.Time{}
	err := r.acc.read(func(d *memoryData) error {
		for id, mod := range d.mods {
			if mod.Verified || len(d.versions[id]) == 0 {
				continue
			}
			oldest := d.versions[id][0].UploadTime
			for _, v := range d.versions[id][1:] {
				if v.UploadTime.Before(oldest) {
					oldest = v.UploadTime
				}
			}
			if oldest.Before(firstBefore) {
				first[id] = oldest
				out = append(out, mod)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		a, b := first[out[i].ModID], first[out[j].ModID]
		if !a.Equal(b) {
			return a.Before(b)
		}
		return out[i].ModID < out[j].ModID
	})
	return truncate(out, 0, limit), err
}

func (r *memoryModRepository) ListPage(_ context.Context, afterModID string, limit int) ([]models.ModEntry, error) {
	var out []models.ModEntry
	err := r.acc.read(func(d *memoryData) error {
		for id, mod := range d.mods {
			if id > afterModID {
				out = append(out, mod)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ModID < out[j].ModID })
	return truncate(out, 0, limit), err
}

func (r *memoryModRepository) ListByAuthor(_ context.Context, authorID string) ([]models.ModEntry, error) {
	var out []models.ModEntry
	err := r.acc.read(func(d *memoryData) error {
		for _, mod := range d.mods {
			if mod.AuthorID == authorID {
				out = append(out, mod)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].UploadTime.After(out[j].UploadTime) })
	return out, err
}

func (r *memoryModRepository) Search(_ context.Context, q models.ModSearch) ([]models.ModEntry, int64, error) {
	text := strings.ToLower(strings.TrimSpace(q.Query))
	var out []models.ModEntry
	err := r.acc.read(func(d *memoryData) error {
		for _, mod := range d.mods {
			if matchesSearch(mod, text, q) {
				out = append(out, mod)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Votes != b.Votes {
			return a.Votes > b.Votes
		}
		if !a.UploadTime.Equal(b.UploadTime) {
			return a.UploadTime.After(b.UploadTime)
		}
		return a.ModID < b.ModID
	})
	page := truncate(out, q.Offset, q.Limit)
	if len(page) == 0 {
		// Как и COUNT(*) OVER() в Postgres: пустая страница не несет total.
		return nil, 0, err
	}
	return page, int64(len(out)), err
}

func matchesSearch(mod models.ModEntry, text string, q models.ModSearch) bool {
	switch q.Verified {
	case models.VerifiedOnly:
		if !mod.Verified {
			return false
		}
	case models.UnverifiedOnly:
		if mod.Verified {
			return false
		}
	case models.VerifiedAny:
	}
	for _, tag := range q.Tags {
		if !slices.Contains(mod.Manifest.Tags, tag) {
			return false
		}
	}
	if text == "" {
		return true
	}
	return strings.Contains(strings.ToLower(mod.ModID), text) ||
		strings.Contains(strings.ToLower(mod.Manifest.Name), text) ||
		strings.Contains(strings.ToLower(mod.Manifest.ShortDescription), text)
}

func (r *memoryModRepository) AddVote(_ context.Context, modID string) error {
	return r.acc.write(func(d *memoryData) error {
		mod, ok := d.mods[modID]
		if !ok {
			return ErrModNotFound
		}
		mod.Votes++
		d.mods[modID] = mod
		return nil
	})
}

type memoryModVersionRepository struct {
	acc memoryAccess
}

func (r *memoryModVersionRepository) CreateVersion(_ context.Context, v *models.ModVersionEntry) (int64, error) {
	err := r.acc.write(func(d *memoryData) error {
		for _, existing := range d.versions[v.ModID] {
			if existing.Version == v.Version {
				return ErrDuplicateVersion
			}
		}
		d.nextVersionID++
		v.ID = d.nextVersionID
		d.versions[v.ModID] = append(d.versions[v.ModID], *v)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return v.ID, nil
}

func (r *memoryModVersionRepository) GetVersion(_ context.Context, modID, version string) (*models.ModVersionEntry, error) {
	var out *models.ModVersionEntry
	err := r.acc.read(func(d *memoryData) error {
		for _, v := range d.versions[modID] {
			if v.Version == version {
				out = &v
				return nil
			}
		}
		return ErrVersionNotFound
	})
	return out, err
}

func (r *memoryModVersionRepository) GetLatestVersion(_ context.Context, modID string) (*models.ModVersionEntry, error) {
	var out *models.ModVersionEntry
	err := r.acc.read(func(d *memoryData) error {
		v, ok := edgeVersion(d.versions[modID], true)
		if !ok {
			return ErrVersionNotFound
		}
		out = &v
		return nil
	})
	return out, err
}

func (r *memoryModVersionRepository) VersionExists(ctx context.Context, modID, version string) (bool, error) {
	_, err := r.GetVersion(ctx, modID, version)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, ErrVersionNotFound) {
		return false, nil
	}
	return false, err
}

func (r *memoryModVersionRepository) ListVersionNumbers(
	_ context.Context,
	modIDs []string,
) (map[string][]string, error) {
	out := make(map[string][]string, len(modIDs))
	err := r.acc.read(func(d *memoryData) error {
		for _, id := range modIDs {
			list := slices.Clone(d.versions[id])
			if len(list) == 0 {
				continue
			}
			sort.Slice(list, func(i, j int) bool { return newer(list[i], list[j]) })
			numbers := make([]string, 0, len(list))
			for _, v := range list {
				numbers = append(numbers, v.Version)
			}
			out[id] = numbers
		}
		return nil
	})
	return out, err
}

func (r *memoryModVersionRepository) LatestVersions(
	_ context.Context,
	modIDs []string,
) (map[string]models.ModVersionEntry, error) {
	return r.edgeVersions(modIDs, true)
}

func (r *memoryModVersionRepository) OldestVersions(
	_ context.Context,
	modIDs []string,
) (map[string]models.ModVersionEntry, error) {
	return r.edgeVersions(modIDs, false)
}

func (r *memoryModVersionRepository) edgeVersions(modIDs []string, latest bool) (map[string]models.ModVersionEntry, error) {
	out := make(map[string]models.ModVersionEntry, len(modIDs))
	err := r.acc.read(func(d *memoryData) error {
		for _, id := range modIDs {
			if v, ok := edgeVersion(d.versions[id], latest); ok {
				out[id] = v
			}
		}
		return nil
	})
	return out, err
}

func (r *memoryModVersionRepository) CountVersions(_ context.Context, modID string) (int64, error) {
	var n int64
	err := r.acc.read(func(d *memoryData) error {
		n = int64(len(d.versions[modID]))
		return nil
	})
	return n, err
}

func (r *memoryModVersionRepository) DeleteVersion(
	_ context.Context,
	modID, version string,
) (*models.ModVersionEntry, error) {
	var out *models.ModVersionEntry
	err := r.acc.write(func(d *memoryData) error {
		list := d.versions[modID]
		for i, v := range list {
			if v.Version != version {
				continue
			}
			out = &v
			d.versions[modID] = slices.Delete(slices.Clone(list), i, i+1)
			if len(d.versions[modID]) == 0 {
				delete(d.versions, modID)
			}
			return nil
		}
		return ErrVersionNotFound
	})
	return out, err
}

func (r *memoryModVersionRepository) DeleteAllVersions(
	_ context.Context,
	modID string,
) ([]models.ModVersionEntry, error) {
	var out []models.ModVersionEntry
	err := r.acc.write(func(d *memoryData) error {
		out = d.versions[modID]
		delete(d.versions, modID)
		return nil
	})
	return out, err
}

func (r *memoryModVersionRepository) IncrementDownloads(_ context.Context, id int64) error {
	return r.acc.write(func(d *memoryData) error {
		for modID, list := range d.versions {
			for i := range list {
				if list[i].ID == id {
					updated := slices.Clone(list)
					updated[i].DownloadCount++
					d.versions[modID] = updated
					return nil
				}
			}
		}
		return ErrVersionNotFound
	})
}

// newer сравнивает версии по времени загрузки, а при равенстве по ID.
func newer(a, b models.ModVersionEntry) bool {
	if !a.UploadTime.Equal(b.UploadTime) {
		return a.UploadTime.After(b.UploadTime)
	}
	return a.ID > b.ID
}

func edgeVersion(list []models.ModVersionEntry, latest bool) (models.ModVersionEntry, bool) {
	if len(list) == 0 {
		return models.ModVersionEntry{}, false
	}
	best := list[0]
	for _, v := range list[1:] {
		if newer(v, best) == latest {
			best = v
		}
	}
	return best, true
}

type memoryAuthorRepository struct {
	acc memoryAccess
}

func (r *memoryAuthorRepository) GetAuthor(_ context.Context, id string) (*models.Author, error) {
	var out *models.Author
	err := r.acc.read(func(d *memoryData) error {
		a, ok := d.authors[id]
		if !ok {
			return ErrAuthorNotFound
		}
		a.Permissions = slices.Clone(a.Permissions)
		out = &a
		return nil
	})
	return out, err
}

func (r *memoryAuthorRepository) CreateAuthor(_ context.Context, author *models.Author) error {
	if author.Permissions == nil {
		author.Permissions = pq.StringArray{models.RoleUser}
	}
	return r.acc.write(func(d *memoryData) error {
		if _, ok := d.authors[author.ID]; ok {
			return ErrAuthorExists
		}
		a := *author
		a.Permissions = slices.Clone(author.Permissions)
		d.authors[author.ID] = a
		return nil
	})
}

func (r *memoryAuthorRepository) SetBanned(_ context.Context, id string, banned bool) error {
	return r.update(id, func(a *models.Author) { a.Banned = banned })
}

func (r *memoryAuthorRepository) AddPermission(_ context.Context, id, role string) error {
	return r.update(id, func(a *models.Author) {
		if !a.HasRole(role) {
			a.Permissions = append(slices.Clone(a.Permissions), role)
		}
	})
}

func (r *memoryAuthorRepository) RemovePermission(_ context.Context, id, role string) error {
	return r.update(id, func(a *models.Author) {
		a.Permissions = slices.DeleteFunc(slices.Clone(a.Permissions), func(p string) bool { return p == role })
	})
}

func (r *memoryAuthorRepository) update(id string, fn func(a *models.Author)) error {
	return r.acc.write(func(d *memoryData) error {
		a, ok := d.authors[id]
		if !ok {
			return ErrAuthorNotFound
		}
		fn(&a)
		d.authors[id] = a
		return nil
	})
}

type memoryActionRepository struct {
	acc memoryAccess
}

func (r *memoryActionRepository) AppendAction(_ context.Context, action *models.ActionEntry) (int64, error) {
	err := r.acc.write(func(d *memoryData) error {
		d.nextActionID++
		action.ID = d.nextActionID
		d.actions = append(d.actions, *action)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return action.ID, nil
}

func (r *memoryActionRepository) ListUnlogged(_ context.Context, limit int) ([]models.ActionEntry, error) {
	var out []models.ActionEntry
	err := r.acc.read(func(d *memoryData) error {
		for _, a := range d.actions {
			if !a.Logged {
				out = append(out, a)
			}
		}
		return nil
	})
	return truncate(out, 0, limit), err
}

func (r *memoryActionRepository) MarkLogged(_ context.Context, ids []int64) error {
	return r.acc.write(func(d *memoryData) error {
		for i := range d.actions {
			if slices.Contains(ids, d.actions[i].ID) {
				d.actions[i].Logged = true
			}
		}
		return nil
	})
}

func truncate[T any](list []T, offset, limit int) []T {
	if offset >= len(list) {
		return []T{}
	}
	list = list[offset:]
	if limit > 0 && limit < len(list) {
		list = list[:limit]
	}
	return list
}

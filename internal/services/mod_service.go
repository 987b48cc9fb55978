package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/maynagashev/modhub/internal/compress"
	"github.com/maynagashev/modhub/internal/identity"
	"github.com/maynagashev/modhub/internal/locks"
	"github.com/maynagashev/modhub/internal/manifest"
	"github.com/maynagashev/modhub/internal/metrics"
	"github.com/maynagashev/modhub/internal/models"
	"github.com/maynagashev/modhub/internal/repository"
	"github.com/maynagashev/modhub/internal/storage"
	"go.uber.org/zap"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
	maxBatchIDs     = 100
)

// ModService определяет интерфейс сервиса модов: конвейер загрузки,
// чтение, удаление и скачивание.
type ModService interface {
	Upload(ctx context.Context, data []byte, filename string, claim models.Identity,
		opts models.UploadOptions) (*models.UploadResult, error)
	GetMod(ctx context.Context, modID string) (*models.ModEntry, error)
	// GetVersion возвращает версию; version = "latest" означает последнюю.
	GetVersion(ctx context.Context, modID, version string, withPayload bool) (*models.ModVersionEntry, error)
	ListVersions(ctx context.Context, modIDs []string) (map[string][]string, error)
	Search(ctx context.Context, q models.ModSearch) (*models.ModPage, error)
	// Download открывает распакованный zip-архив версии и увеличивает
	// счетчик скачиваний. Поток нужно закрыть.
	Download(ctx context.Context, modID, version string) (*models.ModVersionEntry, io.ReadCloser, error)
	Vote(ctx context.Context, modID string) error
	AuthorProfile(ctx context.Context, authorID string) (*models.AuthorProfile, error)
	DeleteVersion(ctx context.Context, actor models.Identity, modID, version string) error
	DeleteMod(ctx context.Context, actor models.Identity, modID string) error
}

// ModServiceDeps - зависимости сервиса модов.
type ModServiceDeps struct {
	Store            repository.Store
	Files            storage.FileStorage
	Locker           locks.Locker
	Identity         identity.Provider
	Extractor        *manifest.Extractor
	Compressor       compress.Compressor
	CompressionLevel int
	Timeouts         Timeouts
	Clock            Clock
	Metrics          *metrics.Metrics
	Log              *zap.Logger
}

// Убедимся, что modService удовлетворяет интерфейсу ModService.
var _ ModService = (*modService)(nil)

type modService struct {
	store      repository.Store
	files      storage.FileStorage
	locker     locks.Locker
	identity   identity.Provider
	extractor  *manifest.Extractor
	compressor compress.Compressor
	level      int
	timeouts   Timeouts
	clock      Clock
	metrics    *metrics.Metrics
	log        *zap.Logger
}

// NewModService создает новый экземпляр сервиса модов.
func NewModService(deps ModServiceDeps) ModService {
	return newModService(deps)
}

func newModService(deps ModServiceDeps) *modService {
	if deps.Log == nil {
		deps.Log = zap.NewNop()
	}
	if deps.Locker == nil {
		deps.Locker = locks.NewLocalLocker()
	}
	if deps.Compressor == nil {
		deps.Compressor = compress.Zstd{}
	}
	return &modService{
		store:      deps.Store,
		files:      deps.Files,
		locker:     deps.Locker,
		identity:   deps.Identity,
		extractor:  deps.Extractor,
		compressor: deps.Compressor,
		level:      deps.CompressionLevel,
		timeouts:   deps.Timeouts.withDefaults(),
		clock:      deps.Clock,
		metrics:    deps.Metrics,
		log:        deps.Log.Named("ModService"),
	}
}

// GetMod возвращает текущую проекцию мода.
func (s *modService) GetMod(ctx context.Context, modID string) (*models.ModEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeouts.Store)
	defer cancel()

	mod, err := s.store.Mods().GetMod(ctx, modID)
	if err != nil {
		if errors.Is(err, repository.ErrModNotFound) {
			return nil, ErrModNotFound
		}
		s.log.Error("Ошибка получения мода", zap.String("modID", modID), zap.Error(err))
		return nil, unavailable("получение мода", err)
	}
	return mod, nil
}

// GetVersion возвращает запись версии, при withPayload вместе со сжатым архивом.
func (s *modService) GetVersion(
	ctx context.Context,
	modID, version string,
	withPayload bool,
) (*models.ModVersionEntry, error) {
	entry, err := s.findVersion(ctx, modID, version)
	if err != nil {
		return nil, err
	}
	if !withPayload {
		return entry, nil
	}

	rc, err := s.openObject(ctx, entry)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	if entry.Payload, err = io.ReadAll(rc); err != nil {
		return nil, unavailable("чтение архива", err)
	}
	return entry, nil
}

func (s *modService) findVersion(ctx context.Context, modID, version string) (*models.ModVersionEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeouts.Store)
	defer cancel()

	var (
		entry *models.ModVersionEntry
		err   error
	)
	if version == "" || version == models.LatestVersion {
		entry, err = s.store.Versions().GetLatestVersion(ctx, modID)
	} else {
		entry, err = s.store.Versions().GetVersion(ctx, modID, version)
	}
	if err != nil {
		if errors.Is(err, repository.ErrVersionNotFound) {
			return nil, ErrVersionNotFound
		}
		s.log.Error("Ошибка получения версии",
			zap.String("modID", modID), zap.String("version", version), zap.Error(err))
		return nil, unavailable("получение версии", err)
	}
	return entry, nil
}

func (s *modService) openObject(ctx context.Context, entry *models.ModVersionEntry) (io.ReadCloser, error) {
	rc, err := s.files.DownloadFile(ctx, entry.ObjectKey)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			s.log.Error("Архив версии отсутствует в хранилище",
				zap.String("modID", entry.ModID), zap.String("version", entry.Version),
				zap.String("key", entry.ObjectKey))
			return nil, ErrPayloadMissing
		}
		return nil, unavailable("чтение архива", err)
	}
	return rc, nil
}

// ListVersions возвращает номера версий для набора модов одним запросом.
func (s *modService) ListVersions(ctx context.Context, modIDs []string) (map[string][]string, error) {
	ids := uniqueIDs(modIDs)
	if len(ids) == 0 || len(ids) > maxBatchIDs {
		return nil, fmt.Errorf("%w: нужно от 1 до %d modID", ErrInvalidRequest, maxBatchIDs)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeouts.Store)
	defer cancel()

	versions, err := s.store.Versions().ListVersionNumbers(ctx, ids)
	if err != nil {
		s.log.Error("Ошибка получения списков версий", zap.Error(err))
		return nil, unavailable("получение списков версий", err)
	}
	return versions, nil
}

// Search ищет моды и прикладывает к странице их версии.
func (s *modService) Search(ctx context.Context, q models.ModSearch) (*models.ModPage, error) {
	switch {
	case q.Limit <= 0:
		q.Limit = defaultPageSize
	case q.Limit > maxPageSize:
		q.Limit = maxPageSize
	}
	if q.Page > 1 {
		q.Offset = (q.Page - 1) * q.Limit
	}
	if q.Offset < 0 {
		q.Offset = 0
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeouts.Store)
	defer cancel()

	mods, total, err := s.store.Mods().Search(ctx, q)
	if err != nil {
		s.log.Error("Ошибка поиска модов", zap.Error(err))
		return nil, unavailable("поиск модов", err)
	}

	ids := make([]string, 0, len(mods))
	for _, m := range mods {
		ids = append(ids, m.ModID)
	}
	versions, err := s.store.Versions().ListVersionNumbers(ctx, ids)
	if err != nil {
		s.log.Error("Ошибка получения версий для страницы поиска", zap.Error(err))
		return nil, unavailable("получение версий", err)
	}

	if mods == nil {
		mods = []models.ModEntry{}
	}
	return &models.ModPage{Mods: mods, Versions: versions, Total: total}, nil
}

// Download открывает архив версии.
func (s *modService) Download(
	ctx context.Context,
	modID, version string,
) (*models.ModVersionEntry, io.ReadCloser, error) {
	entry, err := s.findVersion(ctx, modID, version)
	if err != nil {
		return nil, nil, err
	}

	rc, err := s.openObject(ctx, entry)
	if err != nil {
		return nil, nil, err
	}
	zipReader, err := compress.NewReader(rc)
	if err != nil {
		return nil, nil, unavailable("распаковка архива", err)
	}

	storeCtx, cancel := context.WithTimeout(ctx, s.timeouts.Store)
	defer cancel()
	if err = s.store.Versions().IncrementDownloads(storeCtx, entry.ID); err != nil {
		// Счетчик не критичен для отдачи файла.
		s.log.Warn("Не удалось увеличить счетчик скачиваний", zap.Int64("versionID", entry.ID), zap.Error(err))
	} else {
		entry.DownloadCount++
	}
	s.metrics.Downloaded()
	return entry, zipReader, nil
}

// Vote добавляет голос моду.
func (s *modService) Vote(ctx context.Context, modID string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeouts.Store)
	defer cancel()

	if err := s.store.Mods().AddVote(ctx, modID); err != nil {
		if errors.Is(err, repository.ErrModNotFound) {
			return ErrModNotFound
		}
		return unavailable("голосование", err)
	}
	return nil
}

// AuthorProfile возвращает автора и его моды.
func (s *modService) AuthorProfile(ctx context.Context, authorID string) (*models.AuthorProfile, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeouts.Store)
	defer cancel()

	author, err := s.store.Authors().GetAuthor(ctx, authorID)
	if err != nil {
		if errors.Is(err, repository.ErrAuthorNotFound) {
			return nil, ErrAuthorNotFound
		}
		return nil, unavailable("получение автора", err)
	}
	mods, err := s.store.Mods().ListByAuthor(ctx, authorID)
	if err != nil {
		return nil, unavailable("получение модов автора", err)
	}
	if mods == nil {
		mods = []models.ModEntry{}
	}
	return &models.AuthorProfile{Author: *author, Mods: mods}, nil
}

func uniqueIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

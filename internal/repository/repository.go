package repository

import (
	"context"
	"errors"
	"time"

	"github.com/maynagashev/modhub/internal/models"
)

// pgUniqueViolationCode - код ошибки PostgreSQL для нарушения уникальности.
const pgUniqueViolationCode = "23505"

// Ошибки репозиториев.
var (
	ErrModNotFound       = errors.New("мод не найден")
	ErrModExists         = errors.New("мод с таким modID уже существует")
	ErrConcurrentUpdate  = errors.New("проекция мода изменена параллельной загрузкой")
	ErrVersionNotFound   = errors.New("версия мода не найдена")
	ErrDuplicateVersion  = errors.New("версия мода уже существует")
	ErrAuthorNotFound    = errors.New("автор не найден")
	ErrAuthorExists      = errors.New("автор уже существует")
)

// ModRepository работает с текущими проекциями модов (по одной на modID).
type ModRepository interface {
	GetMod(ctx context.Context, modID string) (*models.ModEntry, error)
	CreateMod(ctx context.Context, mod *models.ModEntry) error
	// UpdateCurrent перезаписывает манифест проекции, только если ее seq
	// равен expectedSeq. Иначе возвращает ErrConcurrentUpdate.
	UpdateCurrent(ctx context.Context, modID string, manifest models.Manifest,
		uploadTime time.Time, expectedSeq int64) error
	// SetVerified выставляет флаг проверки и сообщает, изменилась ли запись.
	SetVerified(ctx context.Context, modID string) (bool, error)
	DeleteMod(ctx context.Context, modID string) error
	// ListUnverified возвращает непроверенные моды, первая версия которых
	// загружена раньше firstBefore, начиная с самых старых линеек.
	ListUnverified(ctx context.Context, firstBefore time.Time, limit int) ([]models.ModEntry, error)
	// ListPage возвращает проекции с modID больше afterModID по возрастанию.
	ListPage(ctx context.Context, afterModID string, limit int) ([]models.ModEntry, error)
	ListByAuthor(ctx context.Context, authorID string) ([]models.ModEntry, error)
	Search(ctx context.Context, q models.ModSearch) ([]models.ModEntry, int64, error)
	AddVote(ctx context.Context, modID string) error
}

// ModVersionRepository работает с неизменяемой историей версий.
type ModVersionRepository interface {
	CreateVersion(ctx context.Context, version *models.ModVersionEntry) (int64, error)
	GetVersion(ctx context.Context, modID, version string) (*models.ModVersionEntry, error)
	GetLatestVersion(ctx context.Context, modID string) (*models.ModVersionEntry, error)
	VersionExists(ctx context.Context, modID, version string) (bool, error)
	// ListVersionNumbers возвращает номера версий по каждому modID, от новых к старым.
	ListVersionNumbers(ctx context.Context, modIDs []string) (map[string][]string, error)
	LatestVersions(ctx context.Context, modIDs []string) (map[string]models.ModVersionEntry, error)
	OldestVersions(ctx context.Context, modIDs []string) (map[string]models.ModVersionEntry, error)
	CountVersions(ctx context.Context, modID string) (int64, error)
	// DeleteVersion удаляет одну версию и возвращает удаленную запись.
	DeleteVersion(ctx context.Context, modID, version string) (*models.ModVersionEntry, error)
	// DeleteAllVersions удаляет всю историю мода и возвращает удаленные записи.
	DeleteAllVersions(ctx context.Context, modID string) ([]models.ModVersionEntry, error)
	IncrementDownloads(ctx context.Context, id int64) error
}

// AuthorRepository работает с авторами.
type AuthorRepository interface {
	GetAuthor(ctx context.Context, id string) (*models.Author, error)
	CreateAuthor(ctx context.Context, author *models.Author) error
	SetBanned(ctx context.Context, id string, banned bool) error
	AddPermission(ctx context.Context, id, role string) error
	RemovePermission(ctx context.Context, id, role string) error
}

// ActionRepository - журнал действий.
type ActionRepository interface {
	AppendAction(ctx context.Context, action *models.ActionEntry) (int64, error)
	ListUnlogged(ctx context.Context, limit int) ([]models.ActionEntry, error)
	MarkLogged(ctx context.Context, ids []int64) error
}

// Store объединяет репозитории и дает выполнить их в одной транзакции.
type Store interface {
	Mods() ModRepository
	Versions() ModVersionRepository
	Authors() AuthorRepository
	Actions() ActionRepository
	// WithinTx выполняет fn в транзакции. Если fn вернула ошибку,
	// все изменения откатываются.
	WithinTx(ctx context.Context, fn func(tx Store) error) error
}

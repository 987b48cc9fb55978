package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/maynagashev/modhub/internal/models"
)

const versionColumns = `id, mod_id, version, object_key, checksum, size_bytes, manifest, upload_time, download_count`

// postgresModVersionRepository реализует ModVersionRepository для PostgreSQL.
type postgresModVersionRepository struct {
	db Querier
}

// NewPostgresModVersionRepository создает новый экземпляр репозитория версий.
func NewPostgresModVersionRepository(db Querier) ModVersionRepository {
	return &postgresModVersionRepository{db: db}
}

// CreateVersion добавляет запись о версии. Повтор пары (modID, version)
// дает ErrDuplicateVersion.
func (r *postgresModVersionRepository) CreateVersion(
	ctx context.Context,
	version *models.ModVersionEntry,
) (int64, error) {
	query := `INSERT INTO mod_versions (mod_id, version, object_key, checksum, size_bytes, manifest, upload_time)
	          VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`
	var id int64
	err := r.db.QueryRowxContext(ctx, query,
		version.ModID, version.Version, version.ObjectKey, version.Checksum,
		version.SizeBytes, version.Manifest, version.UploadTime,
	).Scan(&id)
	if err != nil {
		var pgErr *pq.Error
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolationCode {
			return 0, ErrDuplicateVersion
		}
		return 0, fmt.Errorf("ошибка создания версии %s@%s: %w", version.ModID, version.Version, err)
	}
	version.ID = id
	return id, nil
}

// GetVersion возвращает конкретную версию мода.
func (r *postgresModVersionRepository) GetVersion(
	ctx context.Context,
	modID, version string,
) (*models.ModVersionEntry, error) {
	query := `SELECT ` + versionColumns + ` FROM mod_versions WHERE mod_id = $1 AND version = $2`
	return r.getOne(ctx, query, modID, version)
}

// GetLatestVersion возвращает последнюю по времени загрузки версию мода.
func (r *postgresModVersionRepository) GetLatestVersion(
	ctx context.Context,
	modID string,
) (*models.ModVersionEntry, error) {
	query := `SELECT ` + versionColumns + ` FROM mod_versions WHERE mod_id = $1
	          ORDER BY upload_time DESC, id DESC LIMIT 1`
	return r.getOne(ctx, query, modID)
}

func (r *postgresModVersionRepository) getOne(
	ctx context.Context,
	query string,
	args ...any,
) (*models.ModVersionEntry, error) {
	var v models.ModVersionEntry
	if err := r.db.GetContext(ctx, &v, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrVersionNotFound
		}
		return nil, fmt.Errorf("ошибка получения версии: %w", err)
	}
	return &v, nil
}

// VersionExists проверяет, загружена ли уже такая версия.
func (r *postgresModVersionRepository) VersionExists(ctx context.Context, modID, version string) (bool, error) {
	var exists bool
	query := `SELECT EXISTS (SELECT 1 FROM mod_versions WHERE mod_id = $1 AND version = $2)`
	if err := r.db.GetContext(ctx, &exists, query, modID, version); err != nil {
		return false, fmt.Errorf("ошибка проверки версии %s@%s: %w", modID, version, err)
	}
	return exists, nil
}

// ListVersionNumbers возвращает номера версий для набора модов одним запросом.
func (r *postgresModVersionRepository) ListVersionNumbers(
	ctx context.Context,
	modIDs []string,
) (map[string][]string, error) {
	result := make(map[string][]string, len(modIDs))
	if len(modIDs) == 0 {
		return result, nil
	}
	query := `SELECT mod_id, version FROM mod_versions WHERE mod_id = ANY($1)
	          ORDER BY mod_id, upload_time DESC, id DESC`
	var rows []struct {
		ModID   string `db:"mod_id"`
		Version string `db:"version"`
	}
	if err := r.db.SelectContext(ctx, &rows, query, pq.Array(modIDs)); err != nil {
		return nil, fmt.Errorf("ошибка получения списка версий: %w", err)
	}
	for _, row := range rows {
		result[row.ModID] = append(result[row.ModID], row.Version)
	}
	return result, nil
}

// LatestVersions возвращает последнюю версию каждого мода из набора.
func (r *postgresModVersionRepository) LatestVersions(
	ctx context.Context,
	modIDs []string,
) (map[string]models.ModVersionEntry, error) {
	return r.edgeVersions(ctx, modIDs, "DESC")
}

// OldestVersions возвращает первую загруженную версию каждого мода из набора.
func (r *postgresModVersionRepository) OldestVersions(
	ctx context.Context,
	modIDs []string,
) (map[string]models.ModVersionEntry, error) {
	return r.edgeVersions(ctx, modIDs, "ASC")
}

func (r *postgresModVersionRepository) edgeVersions(
	ctx context.Context,
	modIDs []string,
	order string,
) (map[string]models.ModVersionEntry, error) {
	result := make(map[string]models.ModVersionEntry, len(modIDs))
	if len(modIDs) == 0 {
		return result, nil
	}
	query := `SELECT DISTINCT ON (mod_id) ` + versionColumns + ` FROM mod_versions
	          WHERE mod_id = ANY($1)
	          ORDER BY mod_id, upload_time ` + order + `, id ` + order
	var rows []models.ModVersionEntry
	if err := r.db.SelectContext(ctx, &rows, query, pq.Array(modIDs)); err != nil {
		return nil, fmt.Errorf("ошибка пакетного получения версий: %w", err)
	}
	for _, row := range rows {
		result[row.ModID] = row
	}
	return result, nil
}

// CountVersions возвращает число версий мода.
func (r *postgresModVersionRepository) CountVersions(ctx context.Context, modID string) (int64, error) {
	var n int64
	if err := r.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM mod_versions WHERE mod_id = $1`, modID); err != nil {
		return 0, fmt.Errorf("ошибка подсчета версий мода '%s': %w", modID, err)
	}
	return n, nil
}

// DeleteVersion удаляет одну версию.
func (r *postgresModVersionRepository) DeleteVersion(
	ctx context.Context,
	modID, version string,
) (*models.ModVersionEntry, error) {
	query := `DELETE FROM mod_versions WHERE mod_id = $1 AND version = $2 RETURNING ` + versionColumns
	return r.getOne(ctx, query, modID, version)
}

// DeleteAllVersions удаляет всю историю мода.
func (r *postgresModVersionRepository) DeleteAllVersions(
	ctx context.Context,
	modID string,
) ([]models.ModVersionEntry, error) {
	query := `DELETE FROM mod_versions WHERE mod_id = $1 RETURNING ` + versionColumns
	var rows []models.ModVersionEntry
	if err := r.db.SelectContext(ctx, &rows, query, modID); err != nil {
		return nil, fmt.Errorf("ошибка удаления версий мода '%s': %w", modID, err)
	}
	return rows, nil
}

// IncrementDownloads увеличивает счетчик скачиваний версии.
func (r *postgresModVersionRepository) IncrementDownloads(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `UPDATE mod_versions SET download_count = download_count + 1 WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("ошибка обновления счетчика скачиваний: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrVersionNotFound
	}
	return nil
}

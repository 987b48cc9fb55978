package repository_test

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/maynagashev/modhub/internal/models"
	"github.com/maynagashev/modhub/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var versionCols = []string{
	"id", "mod_id", "version", "object_key", "checksum", "size_bytes", "manifest", "upload_time", "download_count",
}

func TestCreateVersion(t *testing.T) {
	query := regexp.QuoteMeta(`INSERT INTO mod_versions (mod_id, version, object_key, checksum, size_bytes, manifest, upload_time)`)
	now := time.Now()

	t.Run("Успешное создание", func(t *testing.T) {
		db, mock := setupMock(t)
		v := &models.ModVersionEntry{ModID: "cool-mod", Version: "1.0.0", ObjectKey: "mods/cool-mod/a.zst",
			Checksum: "abc", SizeBytes: 42, UploadTime: now}
		mock.ExpectQuery(query).
			WithArgs("cool-mod", "1.0.0", "mods/cool-mod/a.zst", "abc", int64(42), sqlmock.AnyArg(), now).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(11)))

		id, err := repository.NewPostgresModVersionRepository(db).CreateVersion(context.Background(), v)
		require.NoError(t, err)
		assert.Equal(t, int64(11), id)
		assert.Equal(t, int64(11), v.ID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Версия уже существует", func(t *testing.T) {
		db, mock := setupMock(t)
		v := &models.ModVersionEntry{ModID: "cool-mod", Version: "1.0.0"}
		mock.ExpectQuery(query).WillReturnError(&pq.Error{Code: "23505"})

		_, err := repository.NewPostgresModVersionRepository(db).CreateVersion(context.Background(), v)
		require.ErrorIs(t, err, repository.ErrDuplicateVersion)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestGetLatestVersion(t *testing.T) {
	query := regexp.QuoteMeta(`FROM mod_versions WHERE mod_id = $1
	          ORDER BY upload_time DESC, id DESC LIMIT 1`)

	t.Run("Последняя версия", func(t *testing.T) {
		db, mock := setupMock(t)
		rows := sqlmock.NewRows(versionCols).
			AddRow(int64(3), "cool-mod", "1.2.0", "k", "c", int64(10), []byte(`{"version":"1.2.0"}`), time.Now(), int64(9))
		mock.ExpectQuery(query).WithArgs("cool-mod").WillReturnRows(rows)

		v, err := repository.NewPostgresModVersionRepository(db).GetLatestVersion(context.Background(), "cool-mod")
		require.NoError(t, err)
		assert.Equal(t, "1.2.0", v.Version)
		assert.Equal(t, "1.2.0", v.Manifest.Version)
		assert.Equal(t, int64(9), v.DownloadCount)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Версий нет", func(t *testing.T) {
		db, mock := setupMock(t)
		mock.ExpectQuery(query).WithArgs("cool-mod").WillReturnError(sql.ErrNoRows)

		_, err := repository.NewPostgresModVersionRepository(db).GetLatestVersion(context.Background(), "cool-mod")
		require.ErrorIs(t, err, repository.ErrVersionNotFound)
	})
}

func TestListVersionNumbers(t *testing.T) {
	db, mock := setupMock(t)
	rows := sqlmock.NewRows([]string{"mod_id", "version"}).
		AddRow("a-mod", "2.0.0").
		AddRow("a-mod", "1.0.0").
		AddRow("b-mod", "0.1.0")
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT mod_id, version FROM mod_versions WHERE mod_id = ANY($1)`)).
		WithArgs(sqlmock.AnyArg()).WillReturnRows(rows)

	got, err := repository.NewPostgresModVersionRepository(db).
		ListVersionNumbers(context.Background(), []string{"a-mod", "b-mod"})
	require.NoError(t, err)
	assert.Equal(t, map[string][]string{"a-mod": {"2.0.0", "1.0.0"}, "b-mod": {"0.1.0"}}, got)
	assert.NoError(t, mock.ExpectationsWereMet())

	// Пустой набор не ходит в базу.
	empty, err := repository.NewPostgresModVersionRepository(db).ListVersionNumbers(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestLatestAndOldestVersions(t *testing.T) {
	tests := []struct {
		name  string
		order string
		call  func(repository.ModVersionRepository) (map[string]models.ModVersionEntry, error)
	}{
		{
			name:  "Последние версии",
			order: "ORDER BY mod_id, upload_time DESC, id DESC",
			call: func(r repository.ModVersionRepository) (map[string]models.ModVersionEntry, error) {
				return r.LatestVersions(context.Background(), []string{"a-mod"})
			},
		},
		{
			name:  "Первые версии",
			order: "ORDER BY mod_id, upload_time ASC, id ASC",
			call: func(r repository.ModVersionRepository) (map[string]models.ModVersionEntry, error) {
				return r.OldestVersions(context.Background(), []string{"a-mod"})
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock := setupMock(t)
			rows := sqlmock.NewRows(versionCols).
				AddRow(int64(1), "a-mod", "1.0.0", "k", "c", int64(1), []byte(`{}`), time.Now(), int64(0))
			mock.ExpectQuery(`SELECT DISTINCT ON \(mod_id\).*` + regexp.QuoteMeta(tt.order)).
				WithArgs(sqlmock.AnyArg()).WillReturnRows(rows)

			got, err := tt.call(repository.NewPostgresModVersionRepository(db))
			require.NoError(t, err)
			require.Contains(t, got, "a-mod")
			assert.Equal(t, "1.0.0", got["a-mod"].Version)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestDeleteVersion(t *testing.T) {
	query := regexp.QuoteMeta(`DELETE FROM mod_versions WHERE mod_id = $1 AND version = $2 RETURNING`)

	t.Run("Удалена одна версия", func(t *testing.T) {
		db, mock := setupMock(t)
		rows := sqlmock.NewRows(versionCols).
			AddRow(int64(1), "a-mod", "1.0.0", "mods/a-mod/x.zst", "c", int64(1), []byte(`{}`), time.Now(), int64(0))
		mock.ExpectQuery(query).WithArgs("a-mod", "1.0.0").WillReturnRows(rows)

		v, err := repository.NewPostgresModVersionRepository(db).DeleteVersion(context.Background(), "a-mod", "1.0.0")
		require.NoError(t, err)
		assert.Equal(t, "mods/a-mod/x.zst", v.ObjectKey)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Версия не найдена", func(t *testing.T) {
		db, mock := setupMock(t)
		mock.ExpectQuery(query).WithArgs("a-mod", "9.9.9").WillReturnError(sql.ErrNoRows)

		_, err := repository.NewPostgresModVersionRepository(db).DeleteVersion(context.Background(), "a-mod", "9.9.9")
		require.ErrorIs(t, err, repository.ErrVersionNotFound)
	})
}

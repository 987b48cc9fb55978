package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/maynagashev/modhub/internal/models"
)

const modColumns = `mod_id, manifest, author_id, author_name, upload_time, votes, verified, seq`

// postgresModRepository реализует ModRepository для PostgreSQL.
type postgresModRepository struct {
	db Querier
}

// NewPostgresModRepository создает новый экземпляр репозитория модов.
func NewPostgresModRepository(db Querier) ModRepository {
	return &postgresModRepository{db: db}
}

// GetMod возвращает проекцию мода по modID.
func (r *postgresModRepository) GetMod(ctx context.Context, modID string) (*models.ModEntry, error) {
	query := `SELECT ` + modColumns + ` FROM mods WHERE mod_id = $1`
	var mod models.ModEntry
	if err := r.db.GetContext(ctx, &mod, query, modID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrModNotFound
		}
		return nil, fmt.Errorf("ошибка получения мода '%s': %w", modID, err)
	}
	return &mod, nil
}

// CreateMod создает проекцию для нового modID.
func (r *postgresModRepository) CreateMod(ctx context.Context, mod *models.ModEntry) error {
	query := `INSERT INTO mods (` + modColumns + `)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	if mod.Seq == 0 {
		mod.Seq = 1
	}
	_, err := r.db.ExecContext(ctx, query,
		mod.ModID, mod.Manifest, mod.AuthorID, mod.AuthorName,
		mod.UploadTime, mod.Votes, mod.Verified, mod.Seq,
	)
	if err != nil {
		var pgErr *pq.Error
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolationCode {
			return ErrModExists
		}
		return fmt.Errorf("ошибка создания мода '%s': %w", mod.ModID, err)
	}
	return nil
}

// UpdateCurrent выполняет условное обновление по seq.
func (r *postgresModRepository) UpdateCurrent(
	ctx context.Context,
	modID string,
	manifest models.Manifest,
	uploadTime time.Time,
	expectedSeq int64,
) error {
	query := `UPDATE mods SET manifest = $1, upload_time = $2, seq = seq + 1
	          WHERE mod_id = $3 AND seq = $4`
	res, err := r.db.ExecContext(ctx, query, manifest, uploadTime, modID, expectedSeq)
	if err != nil {
		return fmt.Errorf("ошибка обновления мода '%s': %w", modID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("ошибка получения числа обновленных строк: %w", err)
	}
	if n == 0 {
		return ErrConcurrentUpdate
	}
	return nil
}

// SetVerified помечает мод проверенным, если он еще не проверен.
func (r *postgresModRepository) SetVerified(ctx context.Context, modID string) (bool, error) {
	query := `UPDATE mods SET verified = TRUE WHERE mod_id = $1 AND NOT verified`
	res, err := r.db.ExecContext(ctx, query, modID)
	if err != nil {
		return false, fmt.Errorf("ошибка проверки мода '%s': %w", modID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("ошибка получения числа обновленных строк: %w", err)
	}
	return n > 0, nil
}

// DeleteMod удаляет проекцию мода.
func (r *postgresModRepository) DeleteMod(ctx context.Context, modID string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM mods WHERE mod_id = $1`, modID)
	if err != nil {
		return fmt.Errorf("ошибка удаления мода '%s': %w", modID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrModNotFound
	}
	return nil
}

// ListUnverified возвращает непроверенные моды с первой версией старше
// firstBefore. Порядок - по времени первой версии, а не текущей проекции.
func (r *postgresModRepository) ListUnverified(
	ctx context.Context,
	firstBefore time.Time,
	limit int,
) ([]models.ModEntry, error) {
	query := `SELECT m.mod_id, m.manifest, m.author_id, m.author_name, m.upload_time, m.votes, m.verified, m.seq
	          FROM mods m
	          JOIN (SELECT mod_id, MIN(upload_time) AS first_upload FROM mod_versions GROUP BY mod_id) f
	            ON f.mod_id = m.mod_id
	          WHERE NOT m.verified AND f.first_upload < $1
	          ORDER BY f.first_upload ASC, m.mod_id ASC LIMIT $2`
	mods := make([]models.ModEntry, 0, limit)
	if err := r.db.SelectContext(ctx, &mods, query, firstBefore, limit); err != nil {
		return nil, fmt.Errorf("ошибка получения непроверенных модов: %w", err)
	}
	return mods, nil
}

// ListPage возвращает страницу проекций для обхода всей таблицы.
func (r *postgresModRepository) ListPage(
	ctx context.Context,
	afterModID string,
	limit int,
) ([]models.ModEntry, error) {
	query := `SELECT ` + modColumns + ` FROM mods WHERE mod_id > $1
	          ORDER BY mod_id ASC LIMIT $2`
	mods := make([]models.ModEntry, 0, limit)
	if err := r.db.SelectContext(ctx, &mods, query, afterModID, limit); err != nil {
		return nil, fmt.Errorf("ошибка получения страницы модов: %w", err)
	}
	return mods, nil
}

// ListByAuthor возвращает все моды автора.
func (r *postgresModRepository) ListByAuthor(ctx context.Context, authorID string) ([]models.ModEntry, error) {
	query := `SELECT ` + modColumns + ` FROM mods WHERE author_id = $1 ORDER BY upload_time DESC`
	var mods []models.ModEntry
	if err := r.db.SelectContext(ctx, &mods, query, authorID); err != nil {
		return nil, fmt.Errorf("ошибка получения модов автора '%s': %w", authorID, err)
	}
	return mods, nil
}

type searchRow struct {
	models.ModEntry
	Total int64 `db:"total"`
}

// Search ищет моды по строке, тегам и флагу проверки. Вторым значением
// возвращается общее число найденных модов без учета limit/offset.
func (r *postgresModRepository) Search(
	ctx context.Context,
	q models.ModSearch,
) ([]models.ModEntry, int64, error) {
	var (
		conds []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if text := strings.TrimSpace(q.Query); text != "" {
		p := arg("%" + escapeLike(text) + "%")
		conds = append(conds, fmt.Sprintf(
			"(mod_id ILIKE %[1]s OR manifest->>'name' ILIKE %[1]s OR manifest->>'shortDescription' ILIKE %[1]s)", p))
	}
	if len(q.Tags) > 0 {
		conds = append(conds, fmt.Sprintf("(manifest->'tags') ?& %s", arg(pq.Array(q.Tags))))
	}
	switch q.Verified {
	case models.VerifiedOnly:
		conds = append(conds, "verified")
	case models.UnverifiedOnly:
		conds = append(conds, "NOT verified")
	case models.VerifiedAny:
	}

	query := `SELECT ` + modColumns + `, COUNT(*) OVER() AS total FROM mods`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	query += fmt.Sprintf(` ORDER BY votes DESC, upload_time DESC, mod_id ASC LIMIT %s OFFSET %s`,
		arg(q.Limit), arg(q.Offset))

	var rows []searchRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, 0, fmt.Errorf("ошибка поиска модов: %w", err)
	}

	mods := make([]models.ModEntry, 0, len(rows))
	var total int64
	for _, row := range rows {
		mods = append(mods, row.ModEntry)
		total = row.Total
	}
	return mods, total, nil
}

// AddVote увеличивает счетчик голосов мода.
func (r *postgresModRepository) AddVote(ctx context.Context, modID string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE mods SET votes = votes + 1 WHERE mod_id = $1`, modID)
	if err != nil {
		return fmt.Errorf("ошибка голосования за мод '%s': %w", modID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrModNotFound
	}
	return nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

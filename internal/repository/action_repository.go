package repository

import (
	"context"
	"fmt"

	"github.com/lib/pq"
	"github.com/maynagashev/modhub/internal/models"
)

// postgresActionRepository реализует ActionRepository для PostgreSQL.
type postgresActionRepository struct {
	db Querier
}

// NewPostgresActionRepository создает новый экземпляр журнала действий.
func NewPostgresActionRepository(db Querier) ActionRepository {
	return &postgresActionRepository{db: db}
}

// AppendAction добавляет запись в журнал.
func (r *postgresActionRepository) AppendAction(ctx context.Context, action *models.ActionEntry) (int64, error) {
	query := `INSERT INTO actions (actor_id, actor_name, action, created_at) VALUES ($1, $2, $3, $4) RETURNING id`
	var id int64
	err := r.db.QueryRowxContext(ctx, query,
		action.ActorID, action.ActorName, action.Action, action.CreatedAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("ошибка записи действия: %w", err)
	}
	action.ID = id
	return id, nil
}

// ListUnlogged возвращает недоставленные записи в порядке добавления.
func (r *postgresActionRepository) ListUnlogged(ctx context.Context, limit int) ([]models.ActionEntry, error) {
	query := `SELECT id, actor_id, actor_name, action, created_at, logged FROM actions
	          WHERE NOT logged ORDER BY id ASC LIMIT $1`
	actions := make([]models.ActionEntry, 0, limit)
	if err := r.db.SelectContext(ctx, &actions, query, limit); err != nil {
		return nil, fmt.Errorf("ошибка получения журнала действий: %w", err)
	}
	return actions, nil
}

// MarkLogged помечает записи доставленными.
func (r *postgresActionRepository) MarkLogged(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := r.db.ExecContext(ctx, `UPDATE actions SET logged = TRUE WHERE id = ANY($1)`, pq.Array(ids)); err != nil {
		return fmt.Errorf("ошибка отметки действий: %w", err)
	}
	return nil
}

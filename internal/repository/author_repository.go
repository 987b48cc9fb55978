package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/maynagashev/modhub/internal/models"
)

// postgresAuthorRepository реализует AuthorRepository для PostgreSQL.
type postgresAuthorRepository struct {
	db Querier
}

// NewPostgresAuthorRepository создает новый экземпляр репозитория авторов.
func NewPostgresAuthorRepository(db Querier) AuthorRepository {
	return &postgresAuthorRepository{db: db}
}

// GetAuthor находит автора по ID.
func (r *postgresAuthorRepository) GetAuthor(ctx context.Context, id string) (*models.Author, error) {
	query := `SELECT id, name, permissions, banned, joined_at FROM authors WHERE id = $1`
	var author models.Author
	if err := r.db.GetContext(ctx, &author, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAuthorNotFound
		}
		return nil, fmt.Errorf("ошибка получения автора '%s': %w", id, err)
	}
	return &author, nil
}

// CreateAuthor регистрирует автора.
func (r *postgresAuthorRepository) CreateAuthor(ctx context.Context, author *models.Author) error {
	if author.Permissions == nil {
		author.Permissions = pq.StringArray{models.RoleUser}
	}
	query := `INSERT INTO authors (id, name, permissions, banned, joined_at) VALUES ($1, $2, $3, $4, $5)`
	_, err := r.db.ExecContext(ctx, query,
		author.ID, author.Name, author.Permissions, author.Banned, author.JoinedAt)
	if err != nil {
		var pgErr *pq.Error
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolationCode {
			return ErrAuthorExists
		}
		return fmt.Errorf("ошибка создания автора '%s': %w", author.ID, err)
	}
	return nil
}

// SetBanned выставляет или снимает бан.
func (r *postgresAuthorRepository) SetBanned(ctx context.Context, id string, banned bool) error {
	return r.exec(ctx, `UPDATE authors SET banned = $1 WHERE id = $2`, banned, id)
}

// AddPermission выдает роль, если ее еще нет.
func (r *postgresAuthorRepository) AddPermission(ctx context.Context, id, role string) error {
	query := `UPDATE authors SET permissions = CASE
	            WHEN $1 = ANY(permissions) THEN permissions
	            ELSE array_append(permissions, $1) END
	          WHERE id = $2`
	return r.exec(ctx, query, role, id)
}

// RemovePermission отзывает роль.
func (r *postgresAuthorRepository) RemovePermission(ctx context.Context, id, role string) error {
	return r.exec(ctx, `UPDATE authors SET permissions = array_remove(permissions, $1) WHERE id = $2`, role, id)
}

func (r *postgresAuthorRepository) exec(ctx context.Context, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("ошибка обновления автора: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrAuthorNotFound
	}
	return nil
}

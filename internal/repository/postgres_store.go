package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// postgresStore реализует Store поверх PostgreSQL.
type postgresStore struct {
	db  *sqlx.DB // nil внутри транзакции
	q   Querier
	log *zap.Logger

	mods     ModRepository
	versions ModVersionRepository
	authors  AuthorRepository
	actions  ActionRepository
}

var _ Store = (*postgresStore)(nil)

// NewPostgresStore создает хранилище на основе подключения к PostgreSQL.
func NewPostgresStore(db *sqlx.DB, log *zap.Logger) Store {
	if log == nil {
		log = zap.NewNop()
	}
	return newPostgresStore(db, db, log.Named("PostgresStore"))
}

func newPostgresStore(db *sqlx.DB, q Querier, log *zap.Logger) *postgresStore {
	return &postgresStore{
		db:       db,
		q:        q,
		log:      log,
		mods:     NewPostgresModRepository(q),
		versions: NewPostgresModVersionRepository(q),
		authors:  NewPostgresAuthorRepository(q),
		actions:  NewPostgresActionRepository(q),
	}
}

func (s *postgresStore) Mods() ModRepository            { return s.mods }
func (s *postgresStore) Versions() ModVersionRepository { return s.versions }
func (s *postgresStore) Authors() AuthorRepository      { return s.authors }
func (s *postgresStore) Actions() ActionRepository      { return s.actions }

// WithinTx открывает транзакцию и передает в fn хранилище, привязанное к ней.
// Вложенный вызов переиспользует текущую транзакцию.
func (s *postgresStore) WithinTx(ctx context.Context, fn func(tx Store) error) error {
	if s.db == nil {
		return fn(s)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("ошибка начала транзакции: %w", err)
	}

	if err = fn(newPostgresStore(nil, tx, s.log)); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.log.Error("Ошибка отката транзакции", zap.Error(rbErr))
			return errors.Join(err, rbErr)
		}
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("ошибка фиксации транзакции: %w", err)
	}
	return nil
}

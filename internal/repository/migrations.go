package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// schemaStatements создают таблицы. Все операторы идемпотентны.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS authors (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		permissions TEXT[] NOT NULL DEFAULT '{}',
		banned BOOLEAN NOT NULL DEFAULT FALSE,
		joined_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS mods (
		mod_id TEXT PRIMARY KEY,
		manifest JSONB NOT NULL,
		author_id TEXT NOT NULL,
		author_name TEXT NOT NULL,
		upload_time TIMESTAMPTZ NOT NULL,
		votes BIGINT NOT NULL DEFAULT 0,
		verified BOOLEAN NOT NULL DEFAULT FALSE,
		seq BIGINT NOT NULL DEFAULT 1
	)`,
	`CREATE INDEX IF NOT EXISTS mods_author_id_idx ON mods (author_id)`,
	`CREATE INDEX IF NOT EXISTS mods_unverified_idx ON mods (upload_time) WHERE NOT verified`,
	`CREATE INDEX IF NOT EXISTS mods_tags_idx ON mods USING GIN ((manifest -> 'tags'))`,
	`CREATE TABLE IF NOT EXISTS mod_versions (
		id BIGSERIAL PRIMARY KEY,
		mod_id TEXT NOT NULL,
		version TEXT NOT NULL,
		object_key TEXT NOT NULL UNIQUE,
		checksum TEXT NOT NULL,
		size_bytes BIGINT NOT NULL,
		manifest JSONB NOT NULL,
		upload_time TIMESTAMPTZ NOT NULL,
		download_count BIGINT NOT NULL DEFAULT 0,
		UNIQUE (mod_id, version)
	)`,
	`CREATE INDEX IF NOT EXISTS mod_versions_mod_time_idx ON mod_versions (mod_id, upload_time DESC, id DESC)`,
	`CREATE TABLE IF NOT EXISTS actions (
		id BIGSERIAL PRIMARY KEY,
		actor_id TEXT NOT NULL,
		actor_name TEXT NOT NULL,
		action TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		logged BOOLEAN NOT NULL DEFAULT FALSE
	)`,
	`CREATE INDEX IF NOT EXISTS actions_unlogged_idx ON actions (id) WHERE NOT logged`,
}

// Migrate создает схему базы данных в одной транзакции.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("ошибка начала транзакции миграции: %w", err)
	}
	for i, stmt := range schemaStatements {
		if _, err = tx.ExecContext(ctx, stmt); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("ошибка миграции (шаг %d): %w", i+1, err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("ошибка фиксации миграции: %w", err)
	}
	return nil
}

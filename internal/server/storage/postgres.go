package storage

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/mikenoired/synapse-sub000/internal/server/storage/migrations"
	"github.com/mikenoired/synapse-sub000/internal/syncmodel"
)

// PostgresStore persists records in a single entities table keyed by
// (user_id, entity_type, entity_id).
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}

	s := &PostgresStore{db: db}
	if err := s.runMigrations(ctx); err != nil {
		return nil, fmt.Errorf("migration error: %w", err)
	}
	return s, nil
}

func (s *PostgresStore) runMigrations(ctx context.Context) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	return goose.UpContext(ctx, s.db, ".")
}

func (s *PostgresStore) Get(ctx context.Context, userID string, entityType syncmodel.EntityType, entityID string) (*Record, error) {
	query := `SELECT data, version, deleted, updated_at FROM entities
		WHERE user_id = $1 AND entity_type = $2 AND entity_id = $3`
	rec := &Record{UserID: userID, EntityType: entityType, EntityID: entityID}
	err := s.db.QueryRowContext(ctx, query, userID, entityType, entityID).
		Scan(&rec.Data, &rec.Version, &rec.Deleted, &rec.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select entity: %w", err)
	}
	return rec, nil
}

func (s *PostgresStore) Upsert(ctx context.Context, rec *Record) error {
	query := `
		INSERT INTO entities (user_id, entity_type, entity_id, data, version, deleted, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id, entity_type, entity_id)
		DO UPDATE SET
			data = EXCLUDED.data,
			version = EXCLUDED.version,
			deleted = EXCLUDED.deleted,
			updated_at = EXCLUDED.updated_at
	`
	_, err := s.db.ExecContext(ctx, query,
		rec.UserID, rec.EntityType, rec.EntityID, []byte(rec.Data), rec.Version, rec.Deleted, rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert entity: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListSince(ctx context.Context, userID string, since map[string]int64) ([]*Record, error) {
	query := `SELECT entity_type, entity_id, data, version, deleted, updated_at FROM entities
		WHERE user_id = $1 ORDER BY updated_at ASC, entity_type ASC, entity_id ASC`
	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to select entities: %w", err)
	}
	defer rows.Close()

	// The per-entity watermarks do not translate to a single SQL predicate,
	// filtering happens here after the scan.
	var result []*Record
	for rows.Next() {
		rec := &Record{UserID: userID}
		if err := rows.Scan(&rec.EntityType, &rec.EntityID, &rec.Data, &rec.Version, &rec.Deleted, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		if rec.Version > since[rec.Key()] {
			result = append(result, rec)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *PostgresStore) ListLive(ctx context.Context, userID string) ([]*Record, error) {
	query := `SELECT entity_type, entity_id, data, version, deleted, updated_at FROM entities
		WHERE user_id = $1 AND deleted = FALSE
		ORDER BY updated_at ASC, entity_type ASC, entity_id ASC`
	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to select entities: %w", err)
	}
	defer rows.Close()

	var result []*Record
	for rows.Next() {
		rec := &Record{UserID: userID}
		if err := rows.Scan(&rec.EntityType, &rec.EntityID, &rec.Data, &rec.Version, &rec.Deleted, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// Package content stores user content items in the local store. Every
// mutation routes through the change journal.
package content

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mikenoired/synapse-sub000/internal/client/journal"
	"github.com/mikenoired/synapse-sub000/internal/common"
	"github.com/mikenoired/synapse-sub000/internal/dbx"
	"github.com/mikenoired/synapse-sub000/internal/syncmodel"
)

type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Create inserts a content row and journals a create operation.
func (r *SQLiteRepository) Create(ctx context.Context, c *syncmodel.Content) error {
	now := time.Now().UnixMilli()
	if c.CreatedAt == 0 {
		c.CreatedAt = now
	}
	c.UpdatedAt = now

	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal content: %w", err)
	}

	mut := journal.Mutation{
		EntityType: syncmodel.EntityContent,
		EntityID:   c.ID,
		Kind:       syncmodel.OpCreate,
		Data:       data,
		UserID:     c.UserID,
	}
	return journal.Apply(ctx, r.db, mut, func(ctx context.Context, tx dbx.DBTX) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO content (id, type, content, title, created_at, updated_at, user_id)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			c.ID, c.Type, c.Content, c.Title, c.CreatedAt, c.UpdatedAt, c.UserID)
		if err != nil {
			return fmt.Errorf("failed to insert content: %w", err)
		}
		return nil
	})
}

// Update rewrites a content row and journals an update operation.
func (r *SQLiteRepository) Update(ctx context.Context, c *syncmodel.Content) error {
	c.UpdatedAt = time.Now().UnixMilli()

	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal content: %w", err)
	}

	mut := journal.Mutation{
		EntityType: syncmodel.EntityContent,
		EntityID:   c.ID,
		Kind:       syncmodel.OpUpdate,
		Data:       data,
		UserID:     c.UserID,
	}
	return journal.Apply(ctx, r.db, mut, func(ctx context.Context, tx dbx.DBTX) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE content SET type = ?, content = ?, title = ?, updated_at = ?
			WHERE id = ? AND user_id = ?`,
			c.Type, c.Content, c.Title, c.UpdatedAt, c.ID, c.UserID)
		if err != nil {
			return fmt.Errorf("failed to update content: %w", err)
		}
		ra, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if ra == 0 {
			return common.ErrNotFound
		}
		return nil
	})
}

// Delete removes the primary row; the journal keeps a tombstone so a late
// remote update for the same id is handled correctly.
func (r *SQLiteRepository) Delete(ctx context.Context, id, userID string) error {
	mut := journal.Mutation{
		EntityType: syncmodel.EntityContent,
		EntityID:   id,
		Kind:       syncmodel.OpDelete,
		UserID:     userID,
	}
	return journal.Apply(ctx, r.db, mut, func(ctx context.Context, tx dbx.DBTX) error {
		_, err := tx.ExecContext(ctx, `DELETE FROM content WHERE id = ? AND user_id = ?`, id, userID)
		if err != nil {
			return fmt.Errorf("failed to delete content: %w", err)
		}
		return nil
	})
}

func (r *SQLiteRepository) GetByID(ctx context.Context, id, userID string) (*syncmodel.Content, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, type, content, title, created_at, updated_at, user_id
		FROM content WHERE id = ? AND user_id = ?`, id, userID)
	c, err := scanContent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	return c, err
}

func (r *SQLiteRepository) ListByUser(ctx context.Context, userID string) ([]*syncmodel.Content, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, type, content, title, created_at, updated_at, user_id
		FROM content WHERE user_id = ? ORDER BY updated_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to select content: %w", err)
	}
	defer rows.Close()

	var result []*syncmodel.Content
	for rows.Next() {
		c, err := scanContent(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// CreateOrUpdate upserts a row without touching the journal. Used when
// applying server-authored changes and during backup restore.
func (r *SQLiteRepository) CreateOrUpdate(ctx context.Context, db dbx.DBTX, c *syncmodel.Content) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO content (id, type, content, title, created_at, updated_at, user_id)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			type = excluded.type,
			content = excluded.content,
			title = excluded.title,
			updated_at = excluded.updated_at`,
		c.ID, c.Type, c.Content, c.Title, c.CreatedAt, c.UpdatedAt, c.UserID)
	if err != nil {
		return fmt.Errorf("failed to upsert content: %w", err)
	}
	return nil
}

// Remove drops the primary row without journaling. Used by the pull path.
func (r *SQLiteRepository) Remove(ctx context.Context, db dbx.DBTX, id string) error {
	_, err := db.ExecContext(ctx, `DELETE FROM content WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to remove content: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanContent(s scanner) (*syncmodel.Content, error) {
	c := &syncmodel.Content{}
	var title sql.NullString
	if err := s.Scan(&c.ID, &c.Type, &c.Content, &title, &c.CreatedAt, &c.UpdatedAt, &c.UserID); err != nil {
		return nil, err
	}
	c.Title = title.String
	return c, nil
}

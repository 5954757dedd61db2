// Package tags stores tags and content-tag links in the local store. Every
// mutation routes through the change journal. A content-tag link is journaled
// under the composite entity id "contentID:tagID".
package tags

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

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

func (r *SQLiteRepository) Create(ctx context.Context, t *syncmodel.Tag) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("failed to marshal tag: %w", err)
	}

	mut := journal.Mutation{
		EntityType: syncmodel.EntityTag,
		EntityID:   t.ID,
		Kind:       syncmodel.OpCreate,
		Data:       data,
		UserID:     t.UserID,
	}
	return journal.Apply(ctx, r.db, mut, func(ctx context.Context, tx dbx.DBTX) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO tags (id, title, user_id) VALUES (?, ?, ?)`,
			t.ID, t.Title, t.UserID)
		if err != nil {
			return fmt.Errorf("failed to insert tag: %w", err)
		}
		return nil
	})
}

func (r *SQLiteRepository) Delete(ctx context.Context, id, userID string) error {
	mut := journal.Mutation{
		EntityType: syncmodel.EntityTag,
		EntityID:   id,
		Kind:       syncmodel.OpDelete,
		UserID:     userID,
	}
	return journal.Apply(ctx, r.db, mut, func(ctx context.Context, tx dbx.DBTX) error {
		_, err := tx.ExecContext(ctx, `DELETE FROM tags WHERE id = ? AND user_id = ?`, id, userID)
		if err != nil {
			return fmt.Errorf("failed to delete tag: %w", err)
		}
		return nil
	})
}

func (r *SQLiteRepository) GetByID(ctx context.Context, id, userID string) (*syncmodel.Tag, error) {
	t := &syncmodel.Tag{}
	err := r.db.QueryRowContext(ctx, `SELECT id, title, user_id FROM tags WHERE id = ? AND user_id = ?`, id, userID).
		Scan(&t.ID, &t.Title, &t.UserID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get tag: %w", err)
	}
	return t, nil
}

func (r *SQLiteRepository) GetByTitle(ctx context.Context, title, userID string) (*syncmodel.Tag, error) {
	t := &syncmodel.Tag{}
	err := r.db.QueryRowContext(ctx, `SELECT id, title, user_id FROM tags WHERE title = ? AND user_id = ? LIMIT 1`, title, userID).
		Scan(&t.ID, &t.Title, &t.UserID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get tag by title: %w", err)
	}
	return t, nil
}

func (r *SQLiteRepository) ListByUser(ctx context.Context, userID string) ([]*syncmodel.Tag, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, title, user_id FROM tags WHERE user_id = ? ORDER BY title ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to select tags: %w", err)
	}
	defer rows.Close()

	var result []*syncmodel.Tag
	for rows.Next() {
		t := &syncmodel.Tag{}
		if err := rows.Scan(&t.ID, &t.Title, &t.UserID); err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// AddContentTag links content to a tag and journals the link creation.
func (r *SQLiteRepository) AddContentTag(ctx context.Context, contentID, tagID, userID string) error {
	link := &syncmodel.ContentTag{ContentID: contentID, TagID: tagID, UserID: userID}
	data, err := json.Marshal(link)
	if err != nil {
		return fmt.Errorf("failed to marshal content tag: %w", err)
	}

	mut := journal.Mutation{
		EntityType: syncmodel.EntityContentTag,
		EntityID:   syncmodel.ContentTagID(contentID, tagID),
		Kind:       syncmodel.OpCreate,
		Data:       data,
		UserID:     userID,
	}
	return journal.Apply(ctx, r.db, mut, func(ctx context.Context, tx dbx.DBTX) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO content_tags (content_id, tag_id, user_id) VALUES (?, ?, ?)
			ON CONFLICT(content_id, tag_id) DO NOTHING`,
			contentID, tagID, userID)
		if err != nil {
			return fmt.Errorf("failed to insert content tag: %w", err)
		}
		return nil
	})
}

func (r *SQLiteRepository) RemoveContentTag(ctx context.Context, contentID, tagID, userID string) error {
	mut := journal.Mutation{
		EntityType: syncmodel.EntityContentTag,
		EntityID:   syncmodel.ContentTagID(contentID, tagID),
		Kind:       syncmodel.OpDelete,
		UserID:     userID,
	}
	return journal.Apply(ctx, r.db, mut, func(ctx context.Context, tx dbx.DBTX) error {
		_, err := tx.ExecContext(ctx, `DELETE FROM content_tags WHERE content_id = ? AND tag_id = ? AND user_id = ?`,
			contentID, tagID, userID)
		if err != nil {
			return fmt.Errorf("failed to remove content tag: %w", err)
		}
		return nil
	})
}

// ListContentTags returns all links for the user's content.
func (r *SQLiteRepository) ListContentTags(ctx context.Context, userID string) ([]*syncmodel.ContentTag, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT content_id, tag_id, user_id FROM content_tags WHERE user_id = ?`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to select content tags: %w", err)
	}
	defer rows.Close()

	var result []*syncmodel.ContentTag
	for rows.Next() {
		ct := &syncmodel.ContentTag{}
		if err := rows.Scan(&ct.ContentID, &ct.TagID, &ct.UserID); err != nil {
			return nil, err
		}
		result = append(result, ct)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// CreateOrUpdate upserts a tag row without journaling (server apply path).
func (r *SQLiteRepository) CreateOrUpdate(ctx context.Context, db dbx.DBTX, t *syncmodel.Tag) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO tags (id, title, user_id) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET title = excluded.title`,
		t.ID, t.Title, t.UserID)
	if err != nil {
		return fmt.Errorf("failed to upsert tag: %w", err)
	}
	return nil
}

// Remove drops a tag row without journaling (server apply path).
func (r *SQLiteRepository) Remove(ctx context.Context, db dbx.DBTX, id string) error {
	_, err := db.ExecContext(ctx, `DELETE FROM tags WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to remove tag: %w", err)
	}
	return nil
}

// PutLink and DropLink are the unjournaled content-tag variants.
func (r *SQLiteRepository) PutLink(ctx context.Context, db dbx.DBTX, ct *syncmodel.ContentTag) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO content_tags (content_id, tag_id, user_id) VALUES (?, ?, ?)
		ON CONFLICT(content_id, tag_id) DO NOTHING`,
		ct.ContentID, ct.TagID, ct.UserID)
	if err != nil {
		return fmt.Errorf("failed to upsert content tag: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) DropLink(ctx context.Context, db dbx.DBTX, contentID, tagID string) error {
	_, err := db.ExecContext(ctx, `DELETE FROM content_tags WHERE content_id = ? AND tag_id = ?`, contentID, tagID)
	if err != nil {
		return fmt.Errorf("failed to drop content tag: %w", err)
	}
	return nil
}

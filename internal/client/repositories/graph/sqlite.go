// Package graph stores graph nodes and edges in the local store. Every
// mutation routes through the change journal.
package graph

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

func (r *SQLiteRepository) CreateNode(ctx context.Context, n *syncmodel.Node) error {
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to marshal node: %w", err)
	}

	mut := journal.Mutation{
		EntityType: syncmodel.EntityNode,
		EntityID:   n.ID,
		Kind:       syncmodel.OpCreate,
		Data:       data,
		UserID:     n.UserID,
	}
	return journal.Apply(ctx, r.db, mut, func(ctx context.Context, tx dbx.DBTX) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO nodes (id, type, content, metadata, user_id) VALUES (?, ?, ?, ?, ?)`,
			n.ID, n.Type, n.Content, nullableJSON(n.Metadata), n.UserID)
		if err != nil {
			return fmt.Errorf("failed to insert node: %w", err)
		}
		return nil
	})
}

func (r *SQLiteRepository) UpdateNode(ctx context.Context, n *syncmodel.Node) error {
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to marshal node: %w", err)
	}

	mut := journal.Mutation{
		EntityType: syncmodel.EntityNode,
		EntityID:   n.ID,
		Kind:       syncmodel.OpUpdate,
		Data:       data,
		UserID:     n.UserID,
	}
	return journal.Apply(ctx, r.db, mut, func(ctx context.Context, tx dbx.DBTX) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE nodes SET type = ?, content = ?, metadata = ? WHERE id = ? AND user_id = ?`,
			n.Type, n.Content, nullableJSON(n.Metadata), n.ID, n.UserID)
		if err != nil {
			return fmt.Errorf("failed to update node: %w", err)
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

func (r *SQLiteRepository) DeleteNode(ctx context.Context, id, userID string) error {
	mut := journal.Mutation{
		EntityType: syncmodel.EntityNode,
		EntityID:   id,
		Kind:       syncmodel.OpDelete,
		UserID:     userID,
	}
	return journal.Apply(ctx, r.db, mut, func(ctx context.Context, tx dbx.DBTX) error {
		_, err := tx.ExecContext(ctx, `DELETE FROM nodes WHERE id = ? AND user_id = ?`, id, userID)
		if err != nil {
			return fmt.Errorf("failed to delete node: %w", err)
		}
		return nil
	})
}

func (r *SQLiteRepository) GetNode(ctx context.Context, id, userID string) (*syncmodel.Node, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, type, content, metadata, user_id FROM nodes WHERE id = ? AND user_id = ?`, id, userID)
	n, err := scanNode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	return n, err
}

func (r *SQLiteRepository) ListNodes(ctx context.Context, userID string) ([]*syncmodel.Node, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, type, content, metadata, user_id FROM nodes WHERE user_id = ?`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to select nodes: %w", err)
	}
	defer rows.Close()

	var result []*syncmodel.Node
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, n)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *SQLiteRepository) CreateEdge(ctx context.Context, e *syncmodel.Edge) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal edge: %w", err)
	}

	mut := journal.Mutation{
		EntityType: syncmodel.EntityEdge,
		EntityID:   e.ID,
		Kind:       syncmodel.OpCreate,
		Data:       data,
		UserID:     e.UserID,
	}
	return journal.Apply(ctx, r.db, mut, func(ctx context.Context, tx dbx.DBTX) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO edges (id, from_node, to_node, relation_type, user_id) VALUES (?, ?, ?, ?, ?)`,
			e.ID, e.FromNode, e.ToNode, e.RelationType, e.UserID)
		if err != nil {
			return fmt.Errorf("failed to insert edge: %w", err)
		}
		return nil
	})
}

func (r *SQLiteRepository) DeleteEdge(ctx context.Context, id, userID string) error {
	mut := journal.Mutation{
		EntityType: syncmodel.EntityEdge,
		EntityID:   id,
		Kind:       syncmodel.OpDelete,
		UserID:     userID,
	}
	return journal.Apply(ctx, r.db, mut, func(ctx context.Context, tx dbx.DBTX) error {
		_, err := tx.ExecContext(ctx, `DELETE FROM edges WHERE id = ? AND user_id = ?`, id, userID)
		if err != nil {
			return fmt.Errorf("failed to delete edge: %w", err)
		}
		return nil
	})
}

func (r *SQLiteRepository) ListEdges(ctx context.Context, userID string) ([]*syncmodel.Edge, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, from_node, to_node, relation_type, user_id FROM edges WHERE user_id = ?`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to select edges: %w", err)
	}
	defer rows.Close()

	var result []*syncmodel.Edge
	for rows.Next() {
		e := &syncmodel.Edge{}
		if err := rows.Scan(&e.ID, &e.FromNode, &e.ToNode, &e.RelationType, &e.UserID); err != nil {
			return nil, err
		}
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Unjournaled variants used when applying server-authored changes.

func (r *SQLiteRepository) CreateOrUpdateNode(ctx context.Context, db dbx.DBTX, n *syncmodel.Node) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO nodes (id, type, content, metadata, user_id) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			type = excluded.type,
			content = excluded.content,
			metadata = excluded.metadata`,
		n.ID, n.Type, n.Content, nullableJSON(n.Metadata), n.UserID)
	if err != nil {
		return fmt.Errorf("failed to upsert node: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) RemoveNode(ctx context.Context, db dbx.DBTX, id string) error {
	_, err := db.ExecContext(ctx, `DELETE FROM nodes WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to remove node: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) CreateOrUpdateEdge(ctx context.Context, db dbx.DBTX, e *syncmodel.Edge) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO edges (id, from_node, to_node, relation_type, user_id) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			from_node = excluded.from_node,
			to_node = excluded.to_node,
			relation_type = excluded.relation_type`,
		e.ID, e.FromNode, e.ToNode, e.RelationType, e.UserID)
	if err != nil {
		return fmt.Errorf("failed to upsert edge: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) RemoveEdge(ctx context.Context, db dbx.DBTX, id string) error {
	_, err := db.ExecContext(ctx, `DELETE FROM edges WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to remove edge: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanNode(s scanner) (*syncmodel.Node, error) {
	n := &syncmodel.Node{}
	var content, metadata sql.NullString
	if err := s.Scan(&n.ID, &n.Type, &content, &metadata, &n.UserID); err != nil {
		return nil, err
	}
	n.Content = content.String
	if metadata.Valid {
		n.Metadata = []byte(metadata.String)
	}
	return n, nil
}

func nullableJSON(raw json.RawMessage) any {
	if raw == nil {
		return nil
	}
	return string(raw)
}

// Package backup snapshots the local store into a secondary key-value medium
// so state survives corruption or loss of the primary database. Snapshots are
// bounded: row counts are capped per table and content rows keep identifying
// columns only.
package backup

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/mikenoired/synapse-sub000/internal/common"
	"github.com/mikenoired/synapse-sub000/internal/dbx"
	"github.com/mikenoired/synapse-sub000/internal/logging"
)

// FormatVersion is carried in every snapshot. A restore against a different
// version fails safe and reports no usable backup.
const FormatVersion = 1

const (
	contentRowCap = 100
	defaultRowCap = 500
)

type snapshot struct {
	Version   int                         `msgpack:"version"`
	Timestamp int64                       `msgpack:"timestamp"`
	Tables    map[string][]map[string]any `msgpack:"tables"`
}

// Store is a badger-backed snapshot store. An empty path opens an in-memory
// badger instance (used in tests).
type Store struct {
	db     *badger.DB
	logger logging.Logger
}

func Open(path string, logger logging.Logger) (*Store, error) {
	opts := badger.DefaultOptions(path)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open backup store: %w", err)
	}

	return &Store{db: db, logger: logger.With("module", "backup")}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func backupKey(userID string) []byte {
	return []byte("backup/" + userID)
}

// CreateBackup serializes a bounded snapshot of every user table into the
// key-value store, replacing the previous snapshot for the user.
func (s *Store) CreateBackup(ctx context.Context, db *sql.DB, userID string) error {
	snap := snapshot{
		Version:   FormatVersion,
		Timestamp: time.Now().UnixMilli(),
		Tables:    make(map[string][]map[string]any),
	}

	tables, err := listTables(ctx, db)
	if err != nil {
		return err
	}

	for _, table := range tables {
		query := fmt.Sprintf(`SELECT * FROM %s LIMIT %d`, table, defaultRowCap)
		if table == "content" {
			// Content payloads can be large; keep identifying metadata only.
			query = fmt.Sprintf(`SELECT id, type, title, created_at, updated_at, user_id FROM content LIMIT %d`, contentRowCap)
		}
		rows, err := selectMaps(ctx, db, query)
		if err != nil {
			return fmt.Errorf("failed to snapshot table %s: %w", table, err)
		}
		snap.Tables[table] = rows
	}

	payload, err := msgpack.Marshal(&snap)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(backupKey(userID), payload)
	})
	if err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}

	s.logger.Debug(ctx, "backup created", "user_id", userID, "tables", len(snap.Tables))
	return nil
}

// Restore replays the latest snapshot into db with upsert-by-id semantics,
// one transaction per table. It reports whether a usable snapshot was found
// and applied. A snapshot with an incompatible format version is not applied.
func (s *Store) Restore(ctx context.Context, db *sql.DB, userID string) (bool, error) {
	var payload []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(backupKey(userID))
		if err != nil {
			return err
		}
		payload, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read snapshot: %w", err)
	}

	var snap snapshot
	if err := msgpack.Unmarshal(payload, &snap); err != nil {
		return false, fmt.Errorf("%w: undecodable snapshot: %v", common.ErrNoBackup, err)
	}
	if snap.Version != FormatVersion {
		s.logger.Warn(ctx, "incompatible backup version", "version", snap.Version, "want", FormatVersion)
		return false, common.ErrNoBackup
	}

	existing, err := listTables(ctx, db)
	if err != nil {
		return false, err
	}
	known := make(map[string]struct{}, len(existing))
	for _, t := range existing {
		known[t] = struct{}{}
	}

	for table, tableRows := range snap.Tables {
		if len(tableRows) == 0 {
			continue
		}
		if _, ok := known[table]; !ok {
			s.logger.Warn(ctx, "skipping unknown table in backup", "table", table)
			continue
		}
		if table == "content" {
			// Snapshots strip content bodies; reinsert them empty to satisfy
			// the NOT NULL constraint.
			for _, row := range tableRows {
				if _, ok := row["content"]; !ok {
					row["content"] = ""
				}
			}
		}
		err := dbx.WithTx(ctx, db, nil, func(ctx context.Context, tx dbx.DBTX) error {
			for _, row := range tableRows {
				if err := upsertRow(ctx, tx, table, row); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return false, fmt.Errorf("failed to restore table %s: %w", table, err)
		}
	}

	s.logger.Info(ctx, "backup restored", "user_id", userID, "created_at", snap.Timestamp)
	return true, nil
}

// ScheduleBackups runs CreateBackup on a fixed interval until ctx is done.
func (s *Store) ScheduleBackups(ctx context.Context, db *sql.DB, userID string, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			if err := s.CreateBackup(ctx, db, userID); err != nil {
				s.logger.Warn(ctx, "scheduled backup failed", "error", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

func listTables(ctx context.Context, db *sql.DB) ([]string, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT name FROM sqlite_master
		WHERE type = 'table' AND name NOT LIKE 'sqlite_%' AND name NOT LIKE 'goose_%'`)
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}

func selectMaps(ctx context.Context, db *sql.DB, query string) ([]map[string]any, error) {
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var result []map[string]any
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(map[string]any, len(cols))
		for i, col := range cols {
			if b, ok := values[i].([]byte); ok {
				values[i] = string(b)
			}
			row[col] = values[i]
		}
		result = append(result, row)
	}
	return result, rows.Err()
}

// upsertRow replaces the row keyed by the table's primary key. All local
// tables have one, so replace-by-key matches update-if-present semantics.
func upsertRow(ctx context.Context, tx dbx.DBTX, table string, row map[string]any) error {
	cols := make([]string, 0, len(row))
	for col := range row {
		cols = append(cols, col)
	}
	sort.Strings(cols)

	args := make([]any, 0, len(cols))
	placeholders := make([]string, 0, len(cols))
	for _, col := range cols {
		args = append(args, row[col])
		placeholders = append(placeholders, "?")
	}

	query := fmt.Sprintf(`INSERT OR REPLACE INTO %s (%s) VALUES (%s)`,
		table, strings.Join(cols, ", "), strings.Join(placeholders, ", "))
	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

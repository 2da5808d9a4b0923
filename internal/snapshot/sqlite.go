package snapshot

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/rickgao/chatlink/internal/model"
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS chat_outbox (
	owner TEXT NOT NULL,
	id    TEXT NOT NULL,
	seq   INTEGER NOT NULL,
	body  BLOB NOT NULL,
	PRIMARY KEY (owner, id)
);
CREATE INDEX IF NOT EXISTS chat_outbox_owner_seq ON chat_outbox (owner, seq);
`

// SQLiteStore keeps the snapshot in a local SQLite database.
type SQLiteStore struct {
	sqlDB *sql.DB
	owner string
}

// OpenSQLite opens or creates the database at path and applies the schema.
// Several clients may share one file under different owner keys.
func OpenSQLite(ctx context.Context, path, owner string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := sqlDB.ExecContext(ctx, sqliteSchema); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("apply sqlite schema: %w", err)
	}

	return &SQLiteStore{sqlDB: sqlDB, owner: owner}, nil
}

// Save replaces this owner's rows in one transaction.
func (s *SQLiteStore) Save(ctx context.Context, msgs []model.Message) error {
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM chat_outbox WHERE owner = ?`, s.owner); err != nil {
		return fmt.Errorf("delete snapshot: %w", err)
	}

	if len(msgs) > 0 {
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO chat_outbox (owner, id, seq, body) VALUES (?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("prepare insert: %w", err)
		}
		defer stmt.Close()

		for _, m := range msgs {
			body, err := encodeRow(m)
			if err != nil {
				return err
			}
			if _, err := stmt.ExecContext(ctx, s.owner, m.ID, int64(m.Seq), body); err != nil {
				return fmt.Errorf("insert message %s: %w", m.ID, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit snapshot: %w", err)
	}
	return nil
}

// Load returns this owner's messages in sequence order.
func (s *SQLiteStore) Load(ctx context.Context) ([]model.Message, error) {
	rows, err := s.sqlDB.QueryContext(ctx, `SELECT body FROM chat_outbox WHERE owner = ? ORDER BY seq, id`, s.owner)
	if err != nil {
		return nil, fmt.Errorf("query snapshot: %w", err)
	}
	defer rows.Close()

	msgs := []model.Message{}
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("scan snapshot row: %w", err)
		}
		m, err := decodeRow(body)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshot rows: %w", err)
	}
	return msgs, nil
}

// Clear removes this owner's rows.
func (s *SQLiteStore) Clear(ctx context.Context) error {
	if _, err := s.sqlDB.ExecContext(ctx, `DELETE FROM chat_outbox WHERE owner = ?`, s.owner); err != nil {
		return fmt.Errorf("clear snapshot: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

package snapshot

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rickgao/chatlink/internal/model"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS chat_outbox (
	owner TEXT NOT NULL,
	id    TEXT NOT NULL,
	seq   BIGINT NOT NULL,
	body  JSONB NOT NULL,
	PRIMARY KEY (owner, id)
)`

// PostgresStore keeps the snapshot in PostgreSQL.
type PostgresStore struct {
	db    *pgxpool.Pool
	owner string
	owned bool // Close closes db
}

// NewPostgresStore applies the schema and returns a store on db.
func NewPostgresStore(ctx context.Context, db *pgxpool.Pool, owner string) (*PostgresStore, error) {
	if _, err := db.Exec(ctx, postgresSchema); err != nil {
		return nil, fmt.Errorf("apply postgres schema: %w", err)
	}
	return &PostgresStore{db: db, owner: owner}, nil
}

// Save replaces this owner's rows in one transaction using pgx.Batch.
func (s *PostgresStore) Save(ctx context.Context, msgs []model.Message) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	batch.Queue(`DELETE FROM chat_outbox WHERE owner = $1`, s.owner)
	for _, m := range msgs {
		body, err := encodeRow(m)
		if err != nil {
			return err
		}
		batch.Queue(`
			INSERT INTO chat_outbox (owner, id, seq, body)
			VALUES ($1, $2, $3, $4)
		`, s.owner, m.ID, int64(m.Seq), body)
	}

	results := tx.SendBatch(ctx, batch)
	for i := 0; i < batch.Len(); i++ {
		if _, err := results.Exec(); err != nil {
			results.Close()
			return fmt.Errorf("batch exec %d: %w", i, err)
		}
	}
	if err := results.Close(); err != nil {
		return fmt.Errorf("close batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit snapshot: %w", err)
	}
	return nil
}

// Load returns this owner's messages in sequence order.
func (s *PostgresStore) Load(ctx context.Context) ([]model.Message, error) {
	rows, err := s.db.Query(ctx, `SELECT body FROM chat_outbox WHERE owner = $1 ORDER BY seq, id`, s.owner)
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
func (s *PostgresStore) Clear(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM chat_outbox WHERE owner = $1`, s.owner); err != nil {
		return fmt.Errorf("clear snapshot: %w", err)
	}
	return nil
}

// Close closes the pool if the store opened it.
func (s *PostgresStore) Close() error {
	if s.owned {
		s.db.Close()
	}
	return nil
}

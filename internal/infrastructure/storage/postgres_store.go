package storage

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"

	"github.com/nandu-collab/marketpulse-bot/internal/ports"
)

const ledgerTable = "ledger_entries"

const createLedgerTable = `CREATE TABLE IF NOT EXISTS ledger_entries (
    position    INTEGER     NOT NULL,
    item_id     TEXT        PRIMARY KEY,
    inserted_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// PostgresStore persists the ledger snapshot into Postgres.
type PostgresStore struct {
	db *sql.DB

	schemaMu    sync.Mutex
	schemaReady bool
}

var _ ports.LedgerStore = (*PostgresStore)(nil)

// OpenPostgres prepares a lib/pq pool without dialing. The table is created
// on first use, so an unreachable server only fails individual calls.
func OpenPostgres(dsn string) (*PostgresStore, error) {
	connector, err := pq.NewConnector(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	return NewPostgresStore(sql.OpenDB(connector)), nil
}

// NewPostgresStore wires a sql.DB implementation.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Ping checks the server and creates the table.
func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return s.ensureSchema(ctx)
}

func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	s.schemaMu.Lock()
	defer s.schemaMu.Unlock()
	if s.schemaReady {
		return nil
	}
	if err := s.EnsureSchema(ctx); err != nil {
		return err
	}
	s.schemaReady = true
	return nil
}

// EnsureSchema creates the ledger table when missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, createLedgerTable); err != nil {
		return fmt.Errorf("create ledger table: %w", err)
	}
	return nil
}

// Load returns the stored ids, oldest first.
func (s *PostgresStore) Load(ctx context.Context) ([]string, error) {
	if s.db == nil {
		return nil, nil
	}

	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}

	query, args, err := loadQuery()
	if err != nil {
		return nil, fmt.Errorf("build load query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query ledger: %w", err)
	}

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan id: %w", err)
		}
		ids = append(ids, id)
	}

	if rowsErr := rows.Err(); rowsErr != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("rows iteration: %w", rowsErr)
	}

	if closeErr := rows.Close(); closeErr != nil {
		return nil, fmt.Errorf("close rows: %w", closeErr)
	}

	return ids, nil
}

// Save replaces the stored snapshot in a single transaction.
func (s *PostgresStore) Save(ctx context.Context, ids []string) error {
	if s.db == nil {
		return nil
	}

	if err := s.ensureSchema(ctx); err != nil {
		return err
	}

	deleteSQL, deleteArgs, err := pruneQuery(ids)
	if err != nil {
		return fmt.Errorf("build prune query: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, deleteSQL, deleteArgs...); err != nil {
		return fmt.Errorf("prune ledger: %w", err)
	}

	if len(ids) > 0 {
		upsertSQL, upsertArgs, err := upsertQuery(ids)
		if err != nil {
			return fmt.Errorf("build upsert query: %w", err)
		}
		if _, err := tx.ExecContext(ctx, upsertSQL, upsertArgs...); err != nil {
			return fmt.Errorf("upsert ledger: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit ledger: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func loadQuery() (string, []interface{}, error) {
	return psql.Select("item_id").
		From(ledgerTable).
		OrderBy("position ASC").
		ToSql()
}

// pruneQuery drops rows that fell out of the snapshot, keeping the original
// inserted_at of ids that survive.
func pruneQuery(ids []string) (string, []interface{}, error) {
	del := psql.Delete(ledgerTable)
	if len(ids) > 0 {
		del = del.Where(sq.Expr("NOT (item_id = ANY(?))", pq.StringArray(ids)))
	}
	return del.ToSql()
}

func upsertQuery(ids []string) (string, []interface{}, error) {
	insert := psql.Insert(ledgerTable).Columns("position", "item_id")
	for i, id := range ids {
		insert = insert.Values(i, id)
	}
	return insert.
		Suffix("ON CONFLICT (item_id) DO UPDATE SET position = EXCLUDED.position").
		ToSql()
}

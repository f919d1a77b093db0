package pgcatalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"

	"github.com/pthm/veil/pkg/catalog"
	"github.com/pthm/veil/pkg/session"
)

// TxBeginner starts transactions. Implemented by *sql.DB and *sql.Conn.
type TxBeginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

// Executor runs type probes in a transaction that is always rolled back.
type Executor struct {
	db TxBeginner
}

// NewExecutor creates an Executor.
func NewExecutor(db TxBeginner) *Executor {
	return &Executor{db: db}
}

// QueryOIDs implements validate.Executor. The settings apply to the probe
// transaction only.
func (e *Executor) QueryOIDs(ctx context.Context, settings session.Settings, query string) (_ []catalog.OID, err error) {
	tx, err := e.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: settings.ReadOnly})
	if err != nil {
		return nil, fmt.Errorf("begin probe transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if len(settings.SearchPath) > 0 {
		quoted := make([]string, len(settings.SearchPath))
		for i, s := range settings.SearchPath {
			quoted[i] = pq.QuoteIdentifier(s)
		}
		if _, err := tx.ExecContext(ctx, `SELECT pg_catalog.set_config('search_path', $1, true)`, strings.Join(quoted, ", ")); err != nil {
			return nil, fmt.Errorf("set search_path: %w", describe(err))
		}
	}

	rows, err := tx.QueryContext(ctx, query)
	if err != nil {
		return nil, describe(err)
	}
	defer rows.Close()

	var out []catalog.OID
	for rows.Next() {
		var typ uint32
		if err := rows.Scan(&typ); err != nil {
			return nil, describe(err)
		}
		out = append(out, catalog.OID(typ))
	}
	if err := rows.Err(); err != nil {
		return nil, describe(err)
	}
	return out, nil
}

// describe adds the SQLSTATE of server errors to the message.
func describe(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return fmt.Errorf("%s (SQLSTATE %s): %w", pgErr.Message, pgErr.Code, err)
	}
	return err
}

package postgres

import (
	"context"
	"database/sql"
)

// DBTX is satisfied by *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(context.Context, string, ...interface{}) (sql.Result, error)
	QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...interface{}) *sql.Row
}

// Queries runs the store's SQL against a connection or transaction.
type Queries struct {
	db DBTX
}

// New binds Queries to db.
func New(db DBTX) *Queries {
	return &Queries{db: db}
}

// WithTx binds a copy of q to tx.
func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{db: tx}
}

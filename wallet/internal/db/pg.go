// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package db

import (
	"database/sql"
)

// postgresDialect is the PostgreSQL query dialect.
type postgresDialect struct {
	dollarRebind
}

func (postgresDialect) name() string { return "postgres" }

// NewPostgresAnonIndex returns the anon index stored in a PostgreSQL
// database. The schema must have been migrated with
// ApplyPostgresMigrations.
func NewPostgresAnonIndex(db *sql.DB) (*AnonIndex, error) {
	if db == nil {
		return nil, ErrNilDB
	}

	return &AnonIndex{
		db:      db,
		dialect: postgresDialect{},
	}, nil
}

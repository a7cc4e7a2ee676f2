// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package db

import (
	"database/sql"
)

// sqliteDialect is the SQLite query dialect.
type sqliteDialect struct {
	questionRebind
}

func (sqliteDialect) name() string { return "sqlite" }

// NewSQLiteAnonIndex returns the anon index stored in a SQLite database.
// The schema must have been migrated with ApplySQLiteMigrations.
func NewSQLiteAnonIndex(db *sql.DB) (*AnonIndex, error) {
	if db == nil {
		return nil, ErrNilDB
	}

	return &AnonIndex{
		db:      db,
		dialect: sqliteDialect{},
	}, nil
}

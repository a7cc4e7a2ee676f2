// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dmuralov/particl-core/blind"
	"github.com/dmuralov/particl-core/wallet/internal/db"
)

// AnonIndexDriver names a SQL engine for the anon index.
type AnonIndexDriver string

const (
	// AnonIndexSQLite stores the index in SQLite.
	AnonIndexSQLite AnonIndexDriver = "sqlite"

	// AnonIndexPostgres stores the index in PostgreSQL.
	AnonIndexPostgres AnonIndexDriver = "postgres"
)

// AnonIndexStats summarizes an anon index.
type AnonIndexStats struct {
	Count       int64
	Blacklisted int64
	MaxHeight   int32
}

// SQLAnonIndex is an AnonIndexWriter kept in a SQL database.
type SQLAnonIndex struct {
	idx *db.AnonIndex
}

// A compile-time assertion to ensure SQLAnonIndex implements
// AnonIndexWriter.
var _ AnonIndexWriter = (*SQLAnonIndex)(nil)

// OpenSQLAnonIndex migrates the schema of conn and returns the index in it.
func OpenSQLAnonIndex(driver AnonIndexDriver,
	conn *sql.DB) (*SQLAnonIndex, error) {

	var (
		idx *db.AnonIndex
		err error
	)
	switch driver {
	case AnonIndexSQLite:
		if err := db.ApplySQLiteMigrations(conn); err != nil {
			return nil, err
		}
		idx, err = db.NewSQLiteAnonIndex(conn)

	case AnonIndexPostgres:
		if err := db.ApplyPostgresMigrations(conn); err != nil {
			return nil, err
		}
		idx, err = db.NewPostgresAnonIndex(conn)

	default:
		return nil, fmt.Errorf("%w: unknown anon index driver %q",
			errInvalidConfig, driver)
	}
	if err != nil {
		return nil, err
	}

	return &SQLAnonIndex{idx: idx}, nil
}

// mapIndexErr translates index errors into wallet errors.
func mapIndexErr(err error) error {
	switch {
	case db.IsError(err, db.ErrAnonOutputNotFound):
		return fmt.Errorf("%w: %v", ErrAnonOutputNotFound, err)

	case db.IsError(err, db.ErrDuplicateAnonOutput):
		return fmt.Errorf("%w: %v", ErrDuplicateAnonOutput, err)
	}

	return err
}

// fromRow converts an index row.
func fromRow(row *db.AnonOutput) *AnonOutput {
	return &AnonOutput{
		Index:       row.Index,
		PubKey:      row.PubKey,
		Commitment:  blind.Commitment(row.Commitment),
		OutPoint:    row.OutPoint,
		Height:      row.Height,
		Blacklisted: row.Blacklisted,
	}
}

// LastIndex returns the highest index, or -1 when empty.
func (s *SQLAnonIndex) LastIndex(ctx context.Context) (int64, error) {
	return s.idx.LastIndex(ctx)
}

// FetchByIndex returns the output at idx.
func (s *SQLAnonIndex) FetchByIndex(ctx context.Context,
	idx int64) (*AnonOutput, error) {

	row, err := s.idx.FetchByIndex(ctx, idx)
	if err != nil {
		return nil, mapIndexErr(err)
	}

	return fromRow(row), nil
}

// FetchByPubKey returns the output with key pub.
func (s *SQLAnonIndex) FetchByPubKey(ctx context.Context,
	pub [33]byte) (*AnonOutput, error) {

	row, err := s.idx.FetchByPubKey(ctx, pub)
	if err != nil {
		return nil, mapIndexErr(err)
	}

	return fromRow(row), nil
}

// InsertAnonOutput appends out and returns its index.
func (s *SQLAnonIndex) InsertAnonOutput(ctx context.Context,
	out *AnonOutput) (int64, error) {

	idx, err := s.idx.InsertAnonOutput(ctx, &db.AnonOutput{
		PubKey:      out.PubKey,
		Commitment:  out.Commitment,
		OutPoint:    out.OutPoint,
		Height:      out.Height,
		Blacklisted: out.Blacklisted,
	})

	return idx, mapIndexErr(err)
}

// SetBlacklisted marks the output at idx as unusable as a decoy.
func (s *SQLAnonIndex) SetBlacklisted(ctx context.Context, idx int64,
	blacklisted bool) error {

	return mapIndexErr(s.idx.SetBlacklisted(ctx, idx, blacklisted))
}

// Stats summarizes the index.
func (s *SQLAnonIndex) Stats(ctx context.Context) (*AnonIndexStats, error) {
	st, err := s.idx.Stats(ctx)
	if err != nil {
		return nil, err
	}

	return &AnonIndexStats{
		Count:       st.Count,
		Blacklisted: st.Blacklisted,
		MaxHeight:   st.MaxHeight,
	}, nil
}

// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

const (
	// PubKeySize is the size of a compressed output key.
	PubKeySize = 33

	// CommitmentSize is the size of a serialized commitment.
	CommitmentSize = 33
)

// AnonOutput is a row of the anonymous output set.
type AnonOutput struct {
	// Index is the dense position of the output in the set.
	Index int64

	PubKey      [PubKeySize]byte
	Commitment  [CommitmentSize]byte
	OutPoint    wire.OutPoint
	Height      int32
	Blacklisted bool
}

// Stats summarizes the set.
type Stats struct {
	Count       int64
	Blacklisted int64
	MaxHeight   int32
}

// dialect adapts queries to a database engine.
type dialect interface {
	// rebind rewrites the ? placeholders of query.
	rebind(query string) string

	// name is the engine name used in logs.
	name() string
}

// AnonIndex is the SQL backed anonymous output set.
type AnonIndex struct {
	db      *sql.DB
	dialect dialect
}

const (
	selectColumns = `SELECT idx, pub_key, commitment, tx_hash, out_index,
		height, blacklisted FROM anon_outputs`

	queryLastIndex = `SELECT COALESCE(MAX(idx), -1) FROM anon_outputs`

	queryByIndex = selectColumns + ` WHERE idx = ?`

	queryByPubKey = selectColumns + ` WHERE pub_key = ?`

	queryInsert = `INSERT INTO anon_outputs (idx, pub_key, commitment,
		tx_hash, out_index, height, blacklisted)
		VALUES (?, ?, ?, ?, ?, ?, ?)`

	queryBlacklist = `UPDATE anon_outputs SET blacklisted = ? WHERE idx = ?`

	queryStats = `SELECT COUNT(*),
		COALESCE(SUM(CASE WHEN blacklisted THEN 1 ELSE 0 END), 0),
		COALESCE(MAX(height), 0) FROM anon_outputs`

	queryDeleteAbove = `DELETE FROM anon_outputs WHERE height > ?`
)

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanAnonOutput reads one row of selectColumns.
func scanAnonOutput(row rowScanner) (*AnonOutput, error) {
	var (
		out                     AnonOutput
		pub, commitment, txHash []byte
		outIndex, height        int64
	)
	err := row.Scan(
		&out.Index, &pub, &commitment, &txHash, &outIndex, &height,
		&out.Blacklisted,
	)
	if err != nil {
		return nil, err
	}

	if len(pub) != PubKeySize || len(commitment) != CommitmentSize ||
		len(txHash) != chainhash.HashSize {

		return nil, newError(ErrDatabase, fmt.Sprintf("malformed anon "+
			"output %d", out.Index), nil)
	}
	copy(out.PubKey[:], pub)
	copy(out.Commitment[:], commitment)
	copy(out.OutPoint.Hash[:], txHash)

	out.OutPoint.Index, err = int64ToUint32(outIndex)
	if err != nil {
		return nil, err
	}
	out.Height, err = int64ToInt32(height)
	if err != nil {
		return nil, err
	}

	return &out, nil
}

// LastIndex returns the highest index, or -1 when the set is empty.
func (a *AnonIndex) LastIndex(ctx context.Context) (int64, error) {
	var last int64
	err := a.db.QueryRowContext(
		ctx, a.dialect.rebind(queryLastIndex),
	).Scan(&last)
	if err != nil {
		return 0, newError(ErrDatabase, "query last index", err)
	}

	return last, nil
}

// fetch runs a single row query.
func (a *AnonIndex) fetch(ctx context.Context, query, what string,
	arg any) (*AnonOutput, error) {

	row := a.db.QueryRowContext(ctx, a.dialect.rebind(query), arg)
	out, err := scanAnonOutput(row)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, newError(ErrAnonOutputNotFound,
			"no anon output with "+what, nil)

	case err != nil:
		return nil, newError(ErrDatabase, "query anon output", err)
	}

	return out, nil
}

// FetchByIndex returns the output at idx.
func (a *AnonIndex) FetchByIndex(ctx context.Context,
	idx int64) (*AnonOutput, error) {

	return a.fetch(ctx, queryByIndex, "index "+strconv.FormatInt(idx, 10),
		idx)
}

// FetchByPubKey returns the output with key pub.
func (a *AnonIndex) FetchByPubKey(ctx context.Context,
	pub [PubKeySize]byte) (*AnonOutput, error) {

	return a.fetch(ctx, queryByPubKey, fmt.Sprintf("key %x", pub), pub[:])
}

// InsertAnonOutput appends out at the next index and returns it. out.Index
// is ignored.
func (a *AnonIndex) InsertAnonOutput(ctx context.Context,
	out *AnonOutput) (int64, error) {

	var idx int64
	err := execInTx(ctx, a.db, func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(
			ctx, a.dialect.rebind(
				`SELECT 1 FROM anon_outputs WHERE pub_key = ?`,
			), out.PubKey[:],
		).Scan(&exists)
		switch {
		case err == nil:
			return newError(ErrDuplicateAnonOutput,
				fmt.Sprintf("anon output %x exists", out.PubKey),
				nil)

		case !errors.Is(err, sql.ErrNoRows):
			return newError(ErrDatabase, "query anon output", err)
		}

		var last int64
		err = tx.QueryRowContext(
			ctx, a.dialect.rebind(queryLastIndex),
		).Scan(&last)
		if err != nil {
			return newError(ErrDatabase, "query last index", err)
		}
		idx = last + 1

		_, err = tx.ExecContext(
			ctx, a.dialect.rebind(queryInsert), idx, out.PubKey[:],
			out.Commitment[:], out.OutPoint.Hash[:],
			int64(out.OutPoint.Index), int64(out.Height),
			out.Blacklisted,
		)
		if err != nil {
			return newError(ErrDatabase, "insert anon output", err)
		}

		return nil
	})
	if err != nil {
		return 0, err
	}

	log.Tracef("Indexed anon output %d at %v in %s", idx, out.OutPoint,
		a.dialect.name())

	return idx, nil
}

// SetBlacklisted marks the output at idx as unusable as a decoy.
func (a *AnonIndex) SetBlacklisted(ctx context.Context, idx int64,
	blacklisted bool) error {

	res, err := a.db.ExecContext(
		ctx, a.dialect.rebind(queryBlacklist), blacklisted, idx,
	)
	if err != nil {
		return newError(ErrDatabase, "update anon output", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return newError(ErrDatabase, "update anon output", err)
	}
	if n == 0 {
		return newError(ErrAnonOutputNotFound,
			fmt.Sprintf("no anon output with index %d", idx), nil)
	}

	return nil
}

// Rollback deletes the outputs above height, as after a reorg. Indexes
// stay dense as outputs are appended in height order.
func (a *AnonIndex) Rollback(ctx context.Context, height int32) (int64,
	error) {

	res, err := a.db.ExecContext(
		ctx, a.dialect.rebind(queryDeleteAbove), int64(height),
	)
	if err != nil {
		return 0, newError(ErrDatabase, "delete anon outputs", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, newError(ErrDatabase, "delete anon outputs", err)
	}
	if n > 0 {
		log.Infof("Removed %d anon outputs above height %d", n, height)
	}

	return n, nil
}

// Stats returns a summary of the set.
func (a *AnonIndex) Stats(ctx context.Context) (*Stats, error) {
	var (
		s         Stats
		maxHeight int64
	)
	err := a.db.QueryRowContext(ctx, a.dialect.rebind(queryStats)).Scan(
		&s.Count, &s.Blacklisted, &maxHeight,
	)
	if err != nil {
		return nil, newError(ErrDatabase, "query anon stats", err)
	}

	s.MaxHeight, err = int64ToInt32(maxHeight)
	if err != nil {
		return nil, err
	}

	return &s, nil
}

// questionRebind leaves ? placeholders in place.
type questionRebind struct{}

func (questionRebind) rebind(query string) string { return query }

// dollarRebind numbers placeholders as $1, $2 and so on.
type dollarRebind struct{}

func (dollarRebind) rebind(query string) string {
	var (
		b strings.Builder
		n int
	)
	b.Grow(len(query) + 8)
	for _, r := range query {
		if r != '?' {
			b.WriteRune(r)
			continue
		}

		n++
		b.WriteByte('$')
		b.WriteString(strconv.Itoa(n))
	}

	return b.String()
}

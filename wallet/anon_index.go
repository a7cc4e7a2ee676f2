// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrDuplicateAnonOutput is returned when an anonymous output key is
// inserted twice.
var ErrDuplicateAnonOutput = errors.New("duplicate anon output")

// MemAnonIndex is an in-memory AnonIndexWriter. Indexes are dense and start
// at zero.
type MemAnonIndex struct {
	mu sync.RWMutex

	outputs  []*AnonOutput
	byPubKey map[[33]byte]int64
}

// A compile-time assertion to ensure MemAnonIndex implements
// AnonIndexWriter.
var _ AnonIndexWriter = (*MemAnonIndex)(nil)

// NewMemAnonIndex returns an empty index.
func NewMemAnonIndex() *MemAnonIndex {
	return &MemAnonIndex{byPubKey: make(map[[33]byte]int64)}
}

// LastIndex returns the highest index, or -1 when empty.
func (m *MemAnonIndex) LastIndex(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	return int64(len(m.outputs)) - 1, nil
}

// FetchByIndex returns the output at idx.
func (m *MemAnonIndex) FetchByIndex(ctx context.Context,
	idx int64) (*AnonOutput, error) {

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if idx < 0 || idx >= int64(len(m.outputs)) {
		return nil, fmt.Errorf("%w: index %d", ErrAnonOutputNotFound, idx)
	}
	out := *m.outputs[idx]

	return &out, nil
}

// FetchByPubKey returns the output with key pub.
func (m *MemAnonIndex) FetchByPubKey(ctx context.Context,
	pub [33]byte) (*AnonOutput, error) {

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	idx, ok := m.byPubKey[pub]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: key %x", ErrAnonOutputNotFound, pub)
	}

	return m.FetchByIndex(ctx, idx)
}

// InsertAnonOutput appends out and returns its index. out.Index is
// ignored.
func (m *MemAnonIndex) InsertAnonOutput(ctx context.Context,
	out *AnonOutput) (int64, error) {

	if err := ctx.Err(); err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.byPubKey[out.PubKey]; ok {
		return 0, fmt.Errorf("%w: key %x", ErrDuplicateAnonOutput,
			out.PubKey)
	}

	stored := *out
	stored.Index = int64(len(m.outputs))
	m.outputs = append(m.outputs, &stored)
	m.byPubKey[out.PubKey] = stored.Index

	log.Tracef("Indexed anon output %d at %v", stored.Index, out.OutPoint)

	return stored.Index, nil
}

// SetBlacklisted marks the output at idx as unusable as a decoy.
func (m *MemAnonIndex) SetBlacklisted(ctx context.Context, idx int64,
	blacklisted bool) error {

	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if idx < 0 || idx >= int64(len(m.outputs)) {
		return fmt.Errorf("%w: index %d", ErrAnonOutputNotFound, idx)
	}
	m.outputs[idx].Blacklisted = blacklisted

	return nil
}

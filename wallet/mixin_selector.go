// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/dmuralov/particl-core/blind"
	"github.com/lightningnetwork/lnd/fn/v2"
)

const (
	// drawsPerDecoy bounds the random draws spent per wanted decoy before
	// a window is enumerated.
	drawsPerDecoy = 64

	// maxEnumerate is the largest window that is enumerated when random
	// draws come up short.
	maxEnumerate = 1 << 16

	// minNearbyRadius is the first half width of a MixinNearby window.
	minNearbyRadius = 16
)

// RealAnonInput is an owned anonymous output to be spent through a ring.
type RealAnonInput struct {
	Coin *Coin
}

// Ring is one MLSAG group: the real inputs, one per row, hidden in a column
// among decoys.
type Ring struct {
	// Inputs are the real inputs.
	Inputs []*Coin

	// RealColumn is the column holding Inputs.
	RealColumn int

	// Indices are the global indices of the members, [column][row].
	Indices [][]int64

	// Members are the keys and commitments of the members,
	// [column][row].
	Members [][]blind.RingMember

	// PseudoBlind opens PseudoCommitment, which commits to Value.
	PseudoBlind      blind.Blind
	PseudoCommitment blind.Commitment
}

// Value is the total of the real inputs.
func (r *Ring) Value() btcutil.Amount {
	var total btcutil.Amount
	for _, c := range r.Inputs {
		total += c.Value
	}

	return total
}

// Size is the number of columns.
func (r *Ring) Size() int {
	return len(r.Indices)
}

// mixinSelector draws decoys from an AnonIndex.
type mixinSelector struct {
	index  AnonIndex
	mode   MixinMode
	group1 int64
	group2 int64
	last   int64

	// explicit holds the MixinExplicit decoys per real input.
	explicit map[[33]byte][]int64

	// cache holds fetched outputs, nil for unusable indices.
	cache map[int64]*AnonOutput

	// reals are the keys of every real input of the transaction.
	reals fn.Set[[33]byte]
}

// fetch returns the usable output at idx, or nil.
func (m *mixinSelector) fetch(ctx context.Context,
	idx int64) (*AnonOutput, error) {

	if ao, ok := m.cache[idx]; ok {
		return ao, nil
	}

	ao, err := m.index.FetchByIndex(ctx, idx)
	switch {
	case errors.Is(err, ErrAnonOutputNotFound):
		ao = nil

	case err != nil:
		return nil, err

	case ao.Blacklisted || m.reals.Contains(ao.PubKey):
		ao = nil
	}
	m.cache[idx] = ao

	return ao, nil
}

// window is an inclusive index range.
type window struct {
	lo, hi int64
}

// clip bounds w to the index range.
func (m *mixinSelector) clip(w window) window {
	if w.lo < 0 {
		w.lo = 0
	}
	if w.hi > m.last {
		w.hi = m.last
	}

	return w
}

// windows returns the windows searched in order for a real input at center.
func (m *mixinSelector) windows(center int64, want int) []window {
	full := window{0, m.last}

	switch m.mode {
	case MixinRecent:
		return []window{
			m.clip(window{m.last - m.group1 + 1, m.last}),
			m.clip(window{m.last - m.group2 + 1, m.last}),
			full,
		}

	case MixinNearby:
		radius := int64(want) * 2
		if radius < minNearbyRadius {
			radius = minNearbyRadius
		}

		var ws []window
		for {
			w := m.clip(window{center - radius, center + radius})
			ws = append(ws, w)
			if w == full {
				return ws
			}
			radius *= 2
		}

	default:
		return []window{full}
	}
}

// pickFrom adds decoys from w to picked until it holds want entries.
func (m *mixinSelector) pickFrom(ctx context.Context, w window, want int,
	used fn.Set[int64], picked []*AnonOutput) ([]*AnonOutput, error) {

	size := w.hi - w.lo + 1
	if size <= 0 {
		return picked, nil
	}

	take := func(idx int64) (bool, error) {
		if used.Contains(idx) {
			return false, nil
		}
		ao, err := m.fetch(ctx, idx)
		if err != nil || ao == nil {
			return false, err
		}
		used.Add(idx)
		picked = append(picked, ao)

		return true, nil
	}

	for draws := 0; len(picked) < want &&
		draws < want*drawsPerDecoy; draws++ {

		if _, err := take(w.lo + rand.Int64N(size)); err != nil {
			return nil, err
		}
	}
	if len(picked) >= want || size > maxEnumerate {
		return picked, nil
	}

	// Random draws came up short: walk the window in random order.
	for _, off := range rand.Perm(int(size)) {
		if len(picked) >= want {
			break
		}
		if _, err := take(w.lo + int64(off)); err != nil {
			return nil, err
		}
	}

	return picked, nil
}

// decoys returns want decoys for the real input coin.
func (m *mixinSelector) decoys(ctx context.Context, coin *Coin, want int,
	used fn.Set[int64]) ([]*AnonOutput, error) {

	if m.mode == MixinExplicit {
		return m.explicitDecoys(ctx, coin, want, used)
	}

	picked := make([]*AnonOutput, 0, want)
	for _, w := range m.windows(coin.AnonIndex, want) {
		var err error
		picked, err = m.pickFrom(ctx, w, want, used, picked)
		if err != nil {
			return nil, err
		}
		if len(picked) == want {
			return picked, nil
		}
	}

	return nil, fmt.Errorf("%w: found %d of %d decoys for %v in %d "+
		"outputs", ErrInsufficientMixins, len(picked), want,
		coin.OutPoint, m.last+1)
}

// explicitDecoys validates the caller supplied decoys of coin.
func (m *mixinSelector) explicitDecoys(ctx context.Context, coin *Coin,
	want int, used fn.Set[int64]) ([]*AnonOutput, error) {

	indices, ok := m.explicit[coin.PubKey]
	if !ok || len(indices) != want {
		return nil, fmt.Errorf("%w: %v needs %d decoys, got %d",
			ErrInvalidMixin, coin.OutPoint, want, len(indices))
	}

	picked := make([]*AnonOutput, 0, want)
	for _, idx := range indices {
		if idx < 0 || idx > m.last || used.Contains(idx) {
			return nil, fmt.Errorf("%w: index %d unusable for %v",
				ErrInvalidMixin, idx, coin.OutPoint)
		}

		ao, err := m.fetch(ctx, idx)
		if err != nil {
			return nil, err
		}
		if ao == nil {
			return nil, fmt.Errorf("%w: index %d is unknown, "+
				"blacklisted or spent here", ErrInvalidMixin, idx)
		}

		used.Add(idx)
		picked = append(picked, ao)
	}

	return picked, nil
}

// buildRing places the real inputs of a group in a random column and fills
// the others with decoys.
func (m *mixinSelector) buildRing(ctx context.Context, group []*Coin,
	ringSize int, used fn.Set[int64]) (*Ring, error) {

	rows := len(group)
	ring := &Ring{
		Inputs:     group,
		RealColumn: rand.IntN(ringSize),
		Indices:    make([][]int64, ringSize),
		Members:    make([][]blind.RingMember, ringSize),
	}
	for col := range ring.Indices {
		ring.Indices[col] = make([]int64, rows)
		ring.Members[col] = make([]blind.RingMember, rows)
	}

	for row, coin := range group {
		ring.Indices[ring.RealColumn][row] = coin.AnonIndex
		ring.Members[ring.RealColumn][row] = blind.RingMember{
			PubKey:     coin.PubKey,
			Commitment: coin.Commitment,
		}

		decoys, err := m.decoys(ctx, coin, ringSize-1, used)
		if err != nil {
			return nil, err
		}

		// Decoys come out in draw order, so the real column is the
		// only thing placing the real input.
		next := 0
		for col := 0; col < ringSize; col++ {
			if col == ring.RealColumn {
				continue
			}
			ao := decoys[next]
			next++

			ring.Indices[col][row] = ao.Index
			ring.Members[col][row] = blind.RingMember{
				PubKey:     ao.PubKey,
				Commitment: ao.Commitment,
			}
		}
	}

	return ring, nil
}

// SelectMixins groups the real inputs into rings of ringSize columns and
// inputsPerSig rows. Every ring member is distinct within its ring and no
// decoy is a real input of the transaction.
func (w *Wallet) SelectMixins(ctx context.Context, reals []RealAnonInput,
	ringSize, inputsPerSig int, cc *CoinControl) ([]*Ring, error) {

	if cc == nil {
		cc = &CoinControl{}
	}

	return selectMixins(
		ctx, w.cfg.AnonIndex, reals, ringSize, inputsPerSig, cc,
		w.cfg.RCTSelectionGroup1, w.cfg.RCTSelectionGroup2,
	)
}

// selectMixins is SelectMixins on an explicit index.
func selectMixins(ctx context.Context, index AnonIndex,
	reals []RealAnonInput, ringSize, inputsPerSig int, cc *CoinControl,
	group1, group2 int64) ([]*Ring, error) {

	if len(reals) == 0 {
		return nil, nil
	}
	if ringSize < MinRingSize || ringSize > MaxRingSize {
		return nil, fmt.Errorf("%w: ring size %d outside [%d, %d]",
			ErrInvalidMixin, ringSize, MinRingSize, MaxRingSize)
	}
	if inputsPerSig < 1 {
		inputsPerSig = 1
	}

	last, err := index.LastIndex(ctx)
	if err != nil {
		return nil, err
	}

	m := &mixinSelector{
		index:    index,
		mode:     cc.MixinMode,
		group1:   group1,
		group2:   group2,
		last:     last,
		cache:    make(map[int64]*AnonOutput),
		reals:    fn.NewSet[[33]byte](),
		explicit: make(map[[33]byte][]int64),
	}

	realIdx := fn.NewSet[int64]()
	for _, r := range reals {
		m.reals.Add(r.Coin.PubKey)
		realIdx.Add(r.Coin.AnonIndex)
		if ids, ok := cc.MixinIndices[r.Coin.OutPoint]; ok {
			m.explicit[r.Coin.PubKey] = ids
		}
	}

	// Fail early when the set cannot hold a single ring.
	rows := min(inputsPerSig, len(reals))
	available := last + 1 - int64(len(reals))
	if need := int64(rows * (ringSize - 1)); available < need {
		return nil, fmt.Errorf("%w: ring of %d needs %d decoys, %d "+
			"outputs available", ErrInsufficientMixins, ringSize,
			need, max(available, 0))
	}

	var rings []*Ring
	for start := 0; start < len(reals); start += inputsPerSig {
		end := min(start+inputsPerSig, len(reals))

		group := make([]*Coin, 0, end-start)
		for _, r := range reals[start:end] {
			group = append(group, r.Coin)
		}

		// Decoys are unique within a ring and never a real input.
		used := fn.NewSet(realIdx.ToSlice()...)
		ring, err := m.buildRing(ctx, group, ringSize, used)
		if err != nil {
			return nil, err
		}

		log.Tracef("Ring %d: real column %d of %d, %d rows",
			len(rings), ring.RealColumn, ringSize, len(group))
		rings = append(rings, ring)
	}

	return rings, nil
}

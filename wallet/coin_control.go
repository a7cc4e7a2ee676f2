// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
	"github.com/dmuralov/particl-core/pkg/feeunit"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// DefaultMaxDepth is the max depth used when a coin control leaves it unset.
const DefaultMaxDepth = 9999999

// MixinMode selects how decoys are drawn from the anonymous output set.
type MixinMode uint8

const (
	// MixinRange draws decoys uniformly from the whole valid index range.
	MixinRange MixinMode = iota

	// MixinRecent prefers the newest outputs: the last RCTSelectionGroup1
	// indices, then the last RCTSelectionGroup2, then the whole range.
	MixinRecent

	// MixinNearby draws decoys close to the real index. It exists for
	// testing and compatibility and is never chosen implicitly.
	MixinNearby

	// MixinExplicit uses the indices given in CoinControl.MixinIndices.
	MixinExplicit
)

// String returns the mode name.
func (m MixinMode) String() string {
	switch m {
	case MixinRange:
		return "range"

	case MixinRecent:
		return "recent"

	case MixinNearby:
		return "nearby"

	case MixinExplicit:
		return "explicit"

	default:
		return fmt.Sprintf("MixinMode(%d)", uint8(m))
	}
}

// CoinControl is the read-only configuration of a build. The zero value
// selects inputs automatically under the wallet defaults and signs the
// result.
type CoinControl struct {
	// Inputs are pinned and always spent.
	Inputs []wire.OutPoint

	// AllowOtherInputs lets the selector add inputs beyond the pinned
	// ones. Without pinned inputs selection is always automatic.
	AllowOtherInputs bool

	// AllowLocked allows spending outputs leased by someone else.
	AllowLocked bool

	// MinDepth and MaxDepth bound the confirmations of selected coins.
	// A zero MaxDepth means DefaultMaxDepth.
	MinDepth int32
	MaxDepth int32

	// IncludeImmature lists immature coins. They are never spent.
	IncludeImmature bool

	// AvoidReuse skips coins on scripts already spent from.
	AvoidReuse bool

	// SpendFrozenBlinded allows spending frozen blinded and anonymous
	// outputs.
	SpendFrozenBlinded bool

	// IncludeTaintedFrozen additionally allows blacklisted anonymous
	// outputs when SpendFrozenBlinded is set.
	IncludeTaintedFrozen bool

	// MaxInputs caps the number of inputs. Zero is unlimited.
	MaxInputs int

	// FeeRate overrides the wallet fee rate.
	FeeRate fn.Option[feeunit.SatPerKVByte]

	// ExtraFee is added to the computed fee.
	ExtraFee btcutil.Amount

	// ChangeDestination overrides the change key.
	ChangeDestination fn.Option[Destination]

	// ChangeKind overrides the representation of the change output.
	ChangeKind fn.Option[OutputKind]

	// ChangePosition fixes the output index of the change. It is random
	// otherwise.
	ChangePosition fn.Option[int]

	// Strategy orders candidate coins. The wallet picks best fit, or
	// random order for large anonymous selections, when nil.
	Strategy CoinSelectionStrategy

	// RingSize and InputsPerSig override the wallet defaults.
	RingSize     int
	InputsPerSig int

	// MixinMode selects the decoy strategy.
	MixinMode MixinMode

	// MixinIndices are the decoys of MixinExplicit, RingSize-1 per real
	// input.
	MixinIndices map[wire.OutPoint][]int64

	// DontSign leaves the transaction unsigned.
	DontSign bool

	// FeeProbe builds without reserving or recording anything.
	FeeProbe bool

	// LockUnspents leases the selected inputs until the transaction is
	// committed or the lease expires.
	LockUnspents bool

	// SplitBlindOutput splits the only hidden recipient of a plain-input
	// build into two outputs to the same destination, so no zero value
	// change is needed to balance.
	SplitBlindOutput bool
}

// maxDepth returns the effective max depth.
func (cc *CoinControl) maxDepth() int32 {
	if cc.MaxDepth <= 0 {
		return DefaultMaxDepth
	}

	return cc.MaxDepth
}

// validate checks the coin control against the wallet policy.
func (cc *CoinControl) validate(kind OutputKind) error {
	if err := validateOutPoints(cc.Inputs); err != nil {
		return err
	}

	if cc.MinDepth < 0 || cc.maxDepth() < cc.MinDepth {
		return fmt.Errorf("%w: depth range [%d, %d]", errInvalidControl,
			cc.MinDepth, cc.maxDepth())
	}

	if cc.MaxInputs < 0 {
		return fmt.Errorf("%w: max inputs %d", errInvalidControl,
			cc.MaxInputs)
	}

	if cc.ExtraFee < 0 {
		return fmt.Errorf("%w: extra fee %v", errInvalidControl,
			cc.ExtraFee)
	}

	if kind == KindAnon {
		if cc.RingSize != 0 && (cc.RingSize < MinRingSize ||
			cc.RingSize > MaxRingSize) {

			return fmt.Errorf("%w: ring size %d outside [%d, %d]",
				ErrInvalidMixin, cc.RingSize, MinRingSize,
				MaxRingSize)
		}
		if cc.InputsPerSig < 0 || cc.InputsPerSig > MaxInputsPerSig {
			return fmt.Errorf("%w: inputs per signature %d",
				errInvalidControl, cc.InputsPerSig)
		}
		if cc.MixinMode == MixinExplicit && len(cc.MixinIndices) == 0 {
			return fmt.Errorf("%w: explicit mode without indices",
				ErrInvalidMixin)
		}
	}

	return nil
}

// validateOutPoints rejects duplicated pinned inputs.
func validateOutPoints(outpoints []wire.OutPoint) error {
	seen := fn.NewSet[wire.OutPoint]()
	for _, op := range outpoints {
		if seen.Contains(op) {
			return fmt.Errorf("%w: %v", ErrDuplicatedUtxo, op)
		}
		seen.Add(op)
	}

	return nil
}

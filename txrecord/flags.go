// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package txrecord

import (
	"fmt"
	"strings"

	"github.com/dmuralov/particl-core/ctwire"
)

// OutputKind is the value representation of an output.
type OutputKind uint8

const (
	// KindPlain is an output with a visible amount.
	KindPlain OutputKind = OutputKind(ctwire.OutputStandard)

	// KindBlinded is a Pedersen committed output with a range proof.
	KindBlinded OutputKind = OutputKind(ctwire.OutputCT)

	// KindAnon is a blinded output spent through a ring signature.
	KindAnon OutputKind = OutputKind(ctwire.OutputRingCT)
)

// String returns the kind name.
func (k OutputKind) String() string {
	switch k {
	case KindPlain:
		return "plain"

	case KindBlinded:
		return "blind"

	case KindAnon:
		return "anon"

	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

// IsConfidential reports whether values of this kind are hidden.
func (k OutputKind) IsConfidential() bool {
	return k == KindBlinded || k == KindAnon
}

// KindOf returns the kind of an on-wire output type. Data outputs have no
// kind.
func KindOf(t ctwire.OutputType) (OutputKind, bool) {
	switch t {
	case ctwire.OutputStandard, ctwire.OutputCT, ctwire.OutputRingCT:
		return OutputKind(t), true
	}

	return 0, false
}

// OutputFlags describe the relation of an output to the wallet.
type OutputFlags uint32

const (
	// FlagOwned marks an output paying the wallet.
	FlagOwned OutputFlags = 1 << 0

	// FlagFrom marks an output sent by the wallet.
	FlagFrom OutputFlags = 1 << 1

	// FlagChange marks change returned to the wallet.
	FlagChange OutputFlags = 1 << 2

	// FlagSpent marks an owned output as spent.
	FlagSpent OutputFlags = 1 << 3

	// FlagLocked marks an output excluded from selection.
	FlagLocked OutputFlags = 1 << 4

	// FlagStakeOnly marks an output the wallet can only stake.
	FlagStakeOnly OutputFlags = 1 << 5

	// FlagWatchOnly marks an output the wallet can see but not sign.
	FlagWatchOnly OutputFlags = 1 << 6

	// FlagHardware marks an output whose key lives on a hardware device.
	FlagHardware OutputFlags = 1 << 7

	// FlagBlindIn marks a transaction with blinded inputs.
	FlagBlindIn OutputFlags = 1 << 14

	// FlagAnonIn marks a transaction with anonymous inputs.
	FlagAnonIn OutputFlags = 1 << 15
)

var flagNames = []struct {
	flag OutputFlags
	name string
}{
	{FlagOwned, "owned"},
	{FlagFrom, "from"},
	{FlagChange, "change"},
	{FlagSpent, "spent"},
	{FlagLocked, "locked"},
	{FlagStakeOnly, "stakeonly"},
	{FlagWatchOnly, "watchonly"},
	{FlagHardware, "hardware"},
	{FlagBlindIn, "blind_in"},
	{FlagAnonIn, "anon_in"},
}

// Has reports whether all bits of flag are set.
func (f OutputFlags) Has(flag OutputFlags) bool {
	return f&flag == flag
}

// String lists the set flags.
func (f OutputFlags) String() string {
	var names []string
	for _, fn := range flagNames {
		if f.Has(fn.flag) {
			names = append(names, fn.name)
		}
	}
	if len(names) == 0 {
		return "none"
	}

	return strings.Join(names, "|")
}

// AddressType tags how the key of an owned output was derived.
type AddressType uint8

const (
	// AddrExtKey is a key from an extended key chain.
	AddrExtKey AddressType = 1

	// AddrStealth is a one-time key of a stealth payment.
	AddrStealth AddressType = 2

	// AddrStandard is a plain key.
	AddrStandard AddressType = 3
)

// ValueKey indexes the free form values map of a TransactionRecord.
type ValueKey uint8

const (
	// ValueEphemPath holds the derivation path of ephemeral keys.
	ValueEphemPath ValueKey = 1

	// ValueReplaces holds the hash of a transaction this one replaces.
	ValueReplaces ValueKey = 2

	// ValueReplacedBy holds the hash of the replacing transaction.
	ValueReplacedBy ValueKey = 3

	// ValueComment holds a user comment.
	ValueComment ValueKey = 4

	// ValueTo holds a user supplied recipient label.
	ValueTo ValueKey = 5
)

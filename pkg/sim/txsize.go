package sim

import (
	"bytes"
	"sort"

	"github.com/fortiblox/X1-Testbench/internal/types"
	"github.com/fortiblox/X1-Testbench/pkg/svm"
)

// MaxTransactionSize is the serialized transaction byte limit, the IPv6
// MTU minus per-packet overhead.
const MaxTransactionSize = 1232

// keyMeta folds the access flags of every reference to one account key.
type keyMeta struct {
	pubkey     types.Pubkey
	isSigner   bool
	isWritable bool
}

// compileKeys builds the static account key list of a v0 message: the
// payer first, then the remaining writable signers, readonly signers,
// writable non-signers, and readonly non-signers, each group ordered by
// key bytes. Program ids count as readonly non-signers unless a meta
// grants them more.
func compileKeys(payer types.Pubkey, instructions []svm.Instruction) []keyMeta {
	metas := make(map[types.Pubkey]*keyMeta)
	upsert := func(pubkey types.Pubkey, isSigner, isWritable bool) {
		m, ok := metas[pubkey]
		if !ok {
			m = &keyMeta{pubkey: pubkey}
			metas[pubkey] = m
		}
		m.isSigner = m.isSigner || isSigner
		m.isWritable = m.isWritable || isWritable
	}

	upsert(payer, true, true)
	for _, ix := range instructions {
		upsert(ix.ProgramID, false, false)
		for _, a := range ix.Accounts {
			upsert(a.Pubkey, a.IsSigner, a.IsWritable)
		}
	}

	var groups [4][]keyMeta
	for _, m := range metas {
		if m.pubkey == payer {
			continue
		}
		switch {
		case m.isSigner && m.isWritable:
			groups[0] = append(groups[0], *m)
		case m.isSigner:
			groups[1] = append(groups[1], *m)
		case m.isWritable:
			groups[2] = append(groups[2], *m)
		default:
			groups[3] = append(groups[3], *m)
		}
	}

	keys := make([]keyMeta, 0, len(metas))
	keys = append(keys, *metas[payer])
	for _, group := range groups {
		sort.Slice(group, func(i, j int) bool {
			return bytes.Compare(group[i].pubkey[:], group[j].pubkey[:]) < 0
		})
		keys = append(keys, group...)
	}
	return keys
}

// compactU16Len returns the encoded length of a compact-u16 value.
func compactU16Len(n int) int {
	switch {
	case n < 0x80:
		return 1
	case n < 0x4000:
		return 2
	default:
		return 3
	}
}

// EstimateTransactionSize returns the serialized byte size of a signed
// v0 transaction carrying the instructions with the given fee payer.
// The estimate assumes no address lookup tables, so every key is static.
// Compare the result against MaxTransactionSize to decide whether the
// batch fits one wire packet.
func EstimateTransactionSize(payer types.Pubkey, instructions []svm.Instruction) int {
	keys := compileKeys(payer, instructions)

	numSigners := 0
	for _, k := range keys {
		if k.isSigner {
			numSigners++
		}
	}

	// Version prefix, header, static keys, blockhash.
	message := 1 + 3 + compactU16Len(len(keys)) + 32*len(keys) + 32

	message += compactU16Len(len(instructions))
	for _, ix := range instructions {
		// Program id index, account index array, data.
		message += 1 + compactU16Len(len(ix.Accounts)) + len(ix.Accounts)
		message += compactU16Len(len(ix.Data)) + len(ix.Data)
	}

	// Empty address table lookup array.
	message++

	return compactU16Len(numSigners) + 64*numSigners + message
}

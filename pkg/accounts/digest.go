package accounts

import (
	"encoding/binary"
	"sort"

	"github.com/zeebo/blake3"

	"github.com/fortiblox/X1-Testbench/internal/types"
)

// AccountDigest computes the digest of a single account.
// Digest input: lamports || rent_epoch || data || executable || owner || pubkey
//
// The field order matches the layout used for account hashing on Solana,
// though the hash function here is BLAKE3 rather than SHA256. Digests are
// for detecting state drift between batches, not for chain verification.
func AccountDigest(pubkey types.Pubkey, account *Account) types.Hash {
	// lamports (8) + rent_epoch (8) + data + executable (1) + owner (32) + pubkey (32)
	size := 8 + 8 + len(account.Data) + 1 + 32 + 32
	buf := make([]byte, size)
	offset := 0

	binary.LittleEndian.PutUint64(buf[offset:], account.Lamports)
	offset += 8

	binary.LittleEndian.PutUint64(buf[offset:], account.RentEpoch)
	offset += 8

	copy(buf[offset:], account.Data)
	offset += len(account.Data)

	if account.Executable {
		buf[offset] = 1
	}
	offset += 1

	copy(buf[offset:], account.Owner[:])
	offset += 32

	copy(buf[offset:], pubkey[:])

	h := blake3.New()
	h.Write(buf)

	var digest types.Hash
	h.Sum(digest[:0])
	return digest
}

// StateDigest computes a digest over a full account set.
// Entries are visited in pubkey order so the digest is deterministic
// regardless of map iteration order.
func StateDigest(accounts map[types.Pubkey]*Account) types.Hash {
	pubkeys := make([]types.Pubkey, 0, len(accounts))
	for pubkey := range accounts {
		pubkeys = append(pubkeys, pubkey)
	}
	SortPubkeys(pubkeys)

	h := blake3.New()
	for _, pubkey := range pubkeys {
		digest := AccountDigest(pubkey, accounts[pubkey])
		h.Write(digest[:])
	}

	var digest types.Hash
	h.Sum(digest[:0])
	return digest
}

// StoreDigest computes the digest of everything in a store.
func StoreDigest(store Store) (types.Hash, error) {
	accounts, err := store.Accounts()
	if err != nil {
		return types.Hash{}, err
	}
	return StateDigest(accounts), nil
}

// comparePubkeys compares two pubkeys lexicographically.
// Returns -1 if a < b, 0 if a == b, 1 if a > b.
func comparePubkeys(a, b types.Pubkey) int {
	for i := 0; i < 32; i++ {
		if a[i] < b[i] {
			return -1
		}
		if a[i] > b[i] {
			return 1
		}
	}
	return 0
}

// SortPubkeys sorts a slice of pubkeys in ascending order.
func SortPubkeys(pubkeys []types.Pubkey) {
	sort.Slice(pubkeys, func(i, j int) bool {
		return comparePubkeys(pubkeys[i], pubkeys[j]) < 0
	})
}

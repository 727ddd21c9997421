// Package accounts implements the account store backing the testbench.
//
// The store maps 32-byte addresses to account records, mirroring Solana's
// account model: every account carries a lamport balance, an owner program,
// an opaque data payload, an executable flag, and rent bookkeeping. The
// execution engine mutates the store in place as instructions run; the
// batch layer brackets those mutations with snapshots.
//
// # Snapshots
//
// A Snapshot is an independent full copy of the store taken at a point in
// time. Restoring it rewrites the store wholesale: accounts created after
// the snapshot are removed, accounts deleted after it are recreated, and
// every surviving account is reset byte for byte. This is a whole-store
// operation rather than a per-account undo log; the testbench pays the
// restore cost once per batch regardless of how many instructions ran.
//
// Two Store implementations are provided: MemoryStore for ordinary tests
// and BadgerStore for fixture sets too large to rebuild per run. Neither is
// safe for concurrent use; the testbench is a single-threaded harness.
package accounts

import (
	"encoding/binary"
	"errors"

	"github.com/fortiblox/X1-Testbench/internal/types"
)

var (
	// ErrAccountNotFound is returned when an account doesn't exist.
	ErrAccountNotFound = errors.New("account not found")

	// ErrClosed is returned when operating on a closed store.
	ErrClosed = errors.New("store closed")

	// ErrInvalidData is returned when serialized account data is malformed.
	ErrInvalidData = errors.New("invalid account data")

	// ErrFixtureNotFound is returned when no fixture exists at the path.
	ErrFixtureNotFound = errors.New("fixture not found")
)

// MaxAccountDataSize is the maximum account data size (10 MB).
const MaxAccountDataSize = 10 * 1024 * 1024

// Account represents a single account record.
// This matches Solana's account structure.
type Account struct {
	// Lamports is the account balance in lamports (1e9 lamports per whole token).
	Lamports uint64

	// Data is the account data. For program accounts, this holds the program
	// image; for token accounts, the packed token state.
	Data []byte

	// Owner is the program that owns this account.
	Owner types.Pubkey

	// Executable indicates a program account.
	Executable bool

	// RentEpoch is the epoch at which rent was last collected.
	// Rent-exempt accounts carry u64 max.
	RentEpoch uint64
}

// NewAccount creates a system-style account with the given balance and a
// zeroed data region of the given size.
func NewAccount(lamports, space uint64, owner types.Pubkey) *Account {
	return &Account{
		Lamports: lamports,
		Data:     make([]byte, space),
		Owner:    owner,
	}
}

// Clone creates a deep copy of the account.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	dataCopy := make([]byte, len(a.Data))
	copy(dataCopy, a.Data)
	return &Account{
		Lamports:   a.Lamports,
		Data:       dataCopy,
		Owner:      a.Owner,
		Executable: a.Executable,
		RentEpoch:  a.RentEpoch,
	}
}

// IsZero returns true if the account has no lamports and no data.
// Zero accounts are deleted from storage.
func (a *Account) IsZero() bool {
	return a.Lamports == 0 && len(a.Data) == 0
}

// DataLen returns the length of account data.
func (a *Account) DataLen() int {
	return len(a.Data)
}

// Size returns the total serialized size of the account.
func (a *Account) Size() int {
	// 8 (lamports) + 8 (data_len) + data + 32 (owner) + 1 (executable) + 8 (rent_epoch)
	return 8 + 8 + len(a.Data) + 32 + 1 + 8
}

// Serialize encodes the account to bytes for storage.
// Format: lamports (8) + data_len (8) + data + owner (32) + executable (1) + rent_epoch (8)
func (a *Account) Serialize() []byte {
	buf := make([]byte, a.Size())
	offset := 0

	binary.LittleEndian.PutUint64(buf[offset:], a.Lamports)
	offset += 8

	binary.LittleEndian.PutUint64(buf[offset:], uint64(len(a.Data)))
	offset += 8

	copy(buf[offset:], a.Data)
	offset += len(a.Data)

	copy(buf[offset:], a.Owner[:])
	offset += 32

	if a.Executable {
		buf[offset] = 1
	}
	offset++

	binary.LittleEndian.PutUint64(buf[offset:], a.RentEpoch)

	return buf
}

// DeserializeAccount decodes an account from bytes.
func DeserializeAccount(data []byte) (*Account, error) {
	if len(data) < 57 { // Minimum: 8 + 8 + 0 + 32 + 1 + 8
		return nil, ErrInvalidData
	}

	offset := 0

	lamports := binary.LittleEndian.Uint64(data[offset:])
	offset += 8

	dataLen := binary.LittleEndian.Uint64(data[offset:])
	offset += 8

	if dataLen > MaxAccountDataSize {
		return nil, ErrInvalidData
	}
	if uint64(len(data)-offset) < dataLen+41 { // 32 (owner) + 1 (executable) + 8 (rent_epoch)
		return nil, ErrInvalidData
	}

	accountData := make([]byte, dataLen)
	copy(accountData, data[offset:offset+int(dataLen)])
	offset += int(dataLen)

	var owner types.Pubkey
	copy(owner[:], data[offset:offset+32])
	offset += 32

	executable := data[offset] != 0
	offset++

	rentEpoch := binary.LittleEndian.Uint64(data[offset:])

	return &Account{
		Lamports:   lamports,
		Data:       accountData,
		Owner:      owner,
		Executable: executable,
		RentEpoch:  rentEpoch,
	}, nil
}

// Store is the account store interface consumed by the execution engine and
// the batch layer. Implementations are not required to be safe for
// concurrent use.
type Store interface {
	// GetAccount retrieves a copy of an account by address.
	// Returns ErrAccountNotFound if the account doesn't exist.
	GetAccount(pubkey types.Pubkey) (*Account, error)

	// SetAccount stores an account.
	// If the account is zero (no lamports and no data), it is deleted.
	SetAccount(pubkey types.Pubkey, account *Account) error

	// DeleteAccount removes an account.
	// Returns nil if the account doesn't exist.
	DeleteAccount(pubkey types.Pubkey) error

	// HasAccount checks if an account exists.
	HasAccount(pubkey types.Pubkey) (bool, error)

	// Accounts returns a deep copy of every account in the store.
	Accounts() (map[types.Pubkey]*Account, error)

	// ReplaceAll discards the store's contents and installs the given set.
	// Addresses not present in the set no longer exist afterwards.
	ReplaceAll(accounts map[types.Pubkey]*Account) error

	// Count returns the total number of accounts.
	Count() (uint64, error)

	// Close releases the store's resources.
	Close() error
}

// MemoryStore is the in-memory Store used for ordinary test runs.
type MemoryStore struct {
	accounts map[types.Pubkey]*Account
	closed   bool
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory account store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts: make(map[types.Pubkey]*Account),
	}
}

// GetAccount retrieves an account.
func (m *MemoryStore) GetAccount(pubkey types.Pubkey) (*Account, error) {
	if m.closed {
		return nil, ErrClosed
	}
	acc, ok := m.accounts[pubkey]
	if !ok {
		return nil, ErrAccountNotFound
	}
	return acc.Clone(), nil
}

// SetAccount stores an account.
func (m *MemoryStore) SetAccount(pubkey types.Pubkey, account *Account) error {
	if m.closed {
		return ErrClosed
	}
	if account.IsZero() {
		delete(m.accounts, pubkey)
		return nil
	}
	m.accounts[pubkey] = account.Clone()
	return nil
}

// DeleteAccount removes an account.
func (m *MemoryStore) DeleteAccount(pubkey types.Pubkey) error {
	if m.closed {
		return ErrClosed
	}
	delete(m.accounts, pubkey)
	return nil
}

// HasAccount checks if an account exists.
func (m *MemoryStore) HasAccount(pubkey types.Pubkey) (bool, error) {
	if m.closed {
		return false, ErrClosed
	}
	_, ok := m.accounts[pubkey]
	return ok, nil
}

// Accounts returns a deep copy of all accounts.
func (m *MemoryStore) Accounts() (map[types.Pubkey]*Account, error) {
	if m.closed {
		return nil, ErrClosed
	}
	result := make(map[types.Pubkey]*Account, len(m.accounts))
	for k, v := range m.accounts {
		result[k] = v.Clone()
	}
	return result, nil
}

// ReplaceAll swaps in a new account set, cloning every record.
func (m *MemoryStore) ReplaceAll(accounts map[types.Pubkey]*Account) error {
	if m.closed {
		return ErrClosed
	}
	fresh := make(map[types.Pubkey]*Account, len(accounts))
	for k, v := range accounts {
		if v.IsZero() {
			continue
		}
		fresh[k] = v.Clone()
	}
	m.accounts = fresh
	return nil
}

// Count returns the number of accounts.
func (m *MemoryStore) Count() (uint64, error) {
	if m.closed {
		return 0, ErrClosed
	}
	return uint64(len(m.accounts)), nil
}

// Close closes the store.
func (m *MemoryStore) Close() error {
	m.closed = true
	m.accounts = nil
	return nil
}

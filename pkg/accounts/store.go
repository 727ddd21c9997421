package accounts

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dgraph-io/badger/v4"
	"github.com/fortiblox/X1-Testbench/internal/types"
)

// Key prefixes for BadgerDB storage.
var (
	// prefixAccount is the prefix for account records.
	// Key format: prefixAccount + pubkey (32 bytes)
	prefixAccount = []byte{0x01}
)

// BadgerConfig contains configuration for the Badger-backed store.
type BadgerConfig struct {
	// Path is the directory path for the database.
	Path string

	// InMemory runs the database in memory (no files on disk).
	InMemory bool

	// SyncWrites ensures writes are synced to disk.
	// Fixture stores are rebuildable, so this defaults to off.
	SyncWrites bool

	// Logger is an optional badger logger. Nil disables logging.
	Logger badger.Logger
}

// DefaultBadgerConfig returns the default configuration.
func DefaultBadgerConfig(path string) BadgerConfig {
	return BadgerConfig{
		Path:       path,
		InMemory:   false,
		SyncWrites: false,
		Logger:     nil,
	}
}

// BadgerStore is a Badger-backed Store for account fixtures too large to
// rebuild on every run (for example a captured mainnet state slice). It
// satisfies the same Store interface as MemoryStore, so batches snapshot
// and roll back against it unchanged.
type BadgerStore struct {
	db *badger.DB

	// count is cached in memory; recomputed once at open.
	count atomic.Uint64

	// mu serializes writes so the cached count stays consistent.
	mu sync.Mutex

	closed atomic.Bool
}

var _ Store = (*BadgerStore)(nil)

// NewBadgerStore opens a Badger-backed account store.
func NewBadgerStore(cfg BadgerConfig) (*BadgerStore, error) {
	opts := badger.DefaultOptions(cfg.Path)
	if cfg.InMemory {
		opts = opts.WithInMemory(true)
		opts.Dir = ""
		opts.ValueDir = ""
	}
	opts = opts.
		WithSyncWrites(cfg.SyncWrites).
		WithLogger(cfg.Logger)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}

	s := &BadgerStore{db: db}
	n, err := s.countKeys()
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("count accounts: %w", err)
	}
	s.count.Store(n)
	return s, nil
}

// countKeys scans the account keyspace without loading values.
func (b *BadgerStore) countKeys() (uint64, error) {
	var n uint64
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefixAccount
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			n++
		}
		return nil
	})
	return n, err
}

// accountKey returns the badger key for an account.
func accountKey(pubkey types.Pubkey) []byte {
	key := make([]byte, 1+32)
	key[0] = prefixAccount[0]
	copy(key[1:], pubkey[:])
	return key
}

// GetAccount retrieves an account by public key.
func (b *BadgerStore) GetAccount(pubkey types.Pubkey) (*Account, error) {
	if b.closed.Load() {
		return nil, ErrClosed
	}

	var account *Account
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(accountKey(pubkey))
		if err == badger.ErrKeyNotFound {
			return ErrAccountNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			acc, err := DeserializeAccount(val)
			if err != nil {
				return err
			}
			account = acc
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return account, nil
}

// SetAccount stores an account. Zero accounts are deleted.
func (b *BadgerStore) SetAccount(pubkey types.Pubkey, account *Account) error {
	if b.closed.Load() {
		return ErrClosed
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	exists, err := b.hasAccount(pubkey)
	if err != nil {
		return err
	}

	if account.IsZero() {
		if exists {
			err := b.db.Update(func(txn *badger.Txn) error {
				return txn.Delete(accountKey(pubkey))
			})
			if err != nil {
				return err
			}
			b.count.Add(^uint64(0)) // Decrement
		}
		return nil
	}

	data := account.Serialize()
	err = b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(accountKey(pubkey), data)
	})
	if err != nil {
		return err
	}
	if !exists {
		b.count.Add(1)
	}
	return nil
}

// DeleteAccount removes an account.
func (b *BadgerStore) DeleteAccount(pubkey types.Pubkey) error {
	if b.closed.Load() {
		return ErrClosed
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	exists, err := b.hasAccount(pubkey)
	if err != nil {
		return err
	}
	if !exists {
		return nil
	}

	err = b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(accountKey(pubkey))
	})
	if err != nil {
		return err
	}
	b.count.Add(^uint64(0)) // Decrement
	return nil
}

// HasAccount checks if an account exists.
func (b *BadgerStore) HasAccount(pubkey types.Pubkey) (bool, error) {
	if b.closed.Load() {
		return false, ErrClosed
	}
	return b.hasAccount(pubkey)
}

func (b *BadgerStore) hasAccount(pubkey types.Pubkey) (bool, error) {
	var exists bool
	err := b.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(accountKey(pubkey))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		exists = true
		return nil
	})
	return exists, err
}

// Accounts returns every account in the store.
func (b *BadgerStore) Accounts() (map[types.Pubkey]*Account, error) {
	if b.closed.Load() {
		return nil, ErrClosed
	}

	result := make(map[types.Pubkey]*Account, b.count.Load())
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefixAccount
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			key := item.Key()
			if len(key) != 33 { // 1 prefix + 32 pubkey
				continue
			}
			var pubkey types.Pubkey
			copy(pubkey[:], key[1:])

			err := item.Value(func(val []byte) error {
				account, err := DeserializeAccount(val)
				if err != nil {
					return err
				}
				result[pubkey] = account
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ReplaceAll drops the current contents and installs the given account set.
func (b *BadgerStore) ReplaceAll(accounts map[types.Pubkey]*Account) error {
	if b.closed.Load() {
		return ErrClosed
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.db.DropAll(); err != nil {
		return fmt.Errorf("drop accounts: %w", err)
	}

	wb := b.db.NewWriteBatch()
	defer wb.Cancel()

	var n uint64
	for pubkey, account := range accounts {
		if account.IsZero() {
			continue
		}
		if err := wb.Set(accountKey(pubkey), account.Serialize()); err != nil {
			return err
		}
		n++
	}
	if err := wb.Flush(); err != nil {
		return err
	}
	b.count.Store(n)
	return nil
}

// Count returns the total number of accounts.
func (b *BadgerStore) Count() (uint64, error) {
	if b.closed.Load() {
		return 0, ErrClosed
	}
	return b.count.Load(), nil
}

// Close closes the database.
func (b *BadgerStore) Close() error {
	if b.closed.Swap(true) {
		return ErrClosed
	}
	return b.db.Close()
}

package accounts

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"

	"github.com/fortiblox/X1-Testbench/internal/types"
)

// Snapshot is a point-in-time copy of an entire account store. Every record
// is deep copied at capture time, so later writes to the store (or to
// accounts handed out by it) never reach the snapshot.
//
// A snapshot can be restored any number of times. Restoring brings the store
// back to exactly the captured set: accounts created after the capture are
// removed and accounts deleted after the capture come back.
type Snapshot struct {
	accounts map[types.Pubkey]*Account
}

// TakeSnapshot captures the full contents of a store.
func TakeSnapshot(store Store) (*Snapshot, error) {
	accounts, err := store.Accounts()
	if err != nil {
		return nil, fmt.Errorf("capture accounts: %w", err)
	}
	return &Snapshot{accounts: accounts}, nil
}

// Restore writes the captured account set back into the store, replacing
// whatever the store currently holds.
func (s *Snapshot) Restore(store Store) error {
	if err := store.ReplaceAll(s.accounts); err != nil {
		return fmt.Errorf("restore accounts: %w", err)
	}
	return nil
}

// Count returns the number of accounts held by the snapshot.
func (s *Snapshot) Count() int {
	return len(s.accounts)
}

// Has reports whether the snapshot holds an account for the pubkey.
func (s *Snapshot) Has(pubkey types.Pubkey) bool {
	_, ok := s.accounts[pubkey]
	return ok
}

// Account returns a copy of the captured account, or nil if absent.
func (s *Snapshot) Account(pubkey types.Pubkey) *Account {
	account, ok := s.accounts[pubkey]
	if !ok {
		return nil
	}
	return account.Clone()
}

// Digest returns the state digest of the captured account set.
func (s *Snapshot) Digest() types.Hash {
	return StateDigest(s.accounts)
}

// Fixture file format version.
const fixtureVersion uint32 = 1

// Fixture file magic bytes for format validation.
var fixtureMagic = []byte{'X', '1', 'T', 'B'} // X1 Testbench

// FixtureHeader contains metadata about a fixture file.
type FixtureHeader struct {
	// Version is the fixture format version.
	Version uint32

	// AccountsCount is the number of accounts in the fixture.
	AccountsCount uint64

	// Digest is the state digest of the account set.
	Digest types.Hash
}

// FixtureWriter writes an account set to a fixture file.
// Fixture format:
//   - Magic (4 bytes): "X1TB"
//   - Version (4 bytes, little-endian)
//   - AccountsCount (8 bytes, little-endian)
//   - Digest (32 bytes)
//   - Accounts data (zstd compressed):
//   - For each account:
//   - Pubkey (32 bytes)
//   - AccountSize (4 bytes, little-endian)
//   - AccountData (variable, serialized account)
type FixtureWriter struct {
	file    *os.File
	encoder *zstd.Encoder
	writer  *bufio.Writer
	header  FixtureHeader
	count   uint64
}

// NewFixtureWriter creates a fixture writer. The digest must be computed
// over the same account set that will be written.
func NewFixtureWriter(path string, digest types.Hash) (*FixtureWriter, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create fixture directory: %w", err)
	}

	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create fixture file: %w", err)
	}

	fw := &FixtureWriter{
		file: file,
		header: FixtureHeader{
			Version: fixtureVersion,
			Digest:  digest,
		},
	}

	// Placeholder header, rewritten with the final count at close.
	if err := fw.writeHeader(); err != nil {
		file.Close()
		os.Remove(path)
		return nil, err
	}

	encoder, err := zstd.NewWriter(file, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		file.Close()
		os.Remove(path)
		return nil, fmt.Errorf("init zstd writer: %w", err)
	}
	fw.encoder = encoder
	fw.writer = bufio.NewWriter(encoder)

	return fw, nil
}

// writeHeader writes the fixture header at the current file position.
func (fw *FixtureWriter) writeHeader() error {
	if _, err := fw.file.Write(fixtureMagic); err != nil {
		return err
	}

	buf := make([]byte, 44) // 4 + 8 + 32
	offset := 0

	binary.LittleEndian.PutUint32(buf[offset:], fw.header.Version)
	offset += 4

	binary.LittleEndian.PutUint64(buf[offset:], fw.header.AccountsCount)
	offset += 8

	copy(buf[offset:], fw.header.Digest[:])

	_, err := fw.file.Write(buf)
	return err
}

// WriteAccount appends a single account to the fixture.
func (fw *FixtureWriter) WriteAccount(pubkey types.Pubkey, account *Account) error {
	if _, err := fw.writer.Write(pubkey[:]); err != nil {
		return err
	}

	data := account.Serialize()

	sizeBuf := make([]byte, 4)
	binary.LittleEndian.PutUint32(sizeBuf, uint32(len(data)))
	if _, err := fw.writer.Write(sizeBuf); err != nil {
		return err
	}

	if _, err := fw.writer.Write(data); err != nil {
		return err
	}

	fw.count++
	return nil
}

// Close finalizes and closes the fixture.
func (fw *FixtureWriter) Close() error {
	if err := fw.writer.Flush(); err != nil {
		return err
	}
	if err := fw.encoder.Close(); err != nil {
		return err
	}

	// Rewrite header with the final count.
	fw.header.AccountsCount = fw.count
	if _, err := fw.file.Seek(0, 0); err != nil {
		return err
	}
	if err := fw.writeHeader(); err != nil {
		return err
	}

	return fw.file.Close()
}

// FixtureReader reads accounts from a fixture file.
type FixtureReader struct {
	file    *os.File
	decoder *zstd.Decoder
	reader  *bufio.Reader
	Header  FixtureHeader
	read    uint64
}

// OpenFixture opens a fixture file for reading.
func OpenFixture(path string) (*FixtureReader, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrFixtureNotFound
		}
		return nil, fmt.Errorf("open fixture: %w", err)
	}

	fr := &FixtureReader{file: file}

	if err := fr.readHeader(); err != nil {
		file.Close()
		return nil, err
	}

	decoder, err := zstd.NewReader(file)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("init zstd reader: %w", err)
	}
	fr.decoder = decoder
	fr.reader = bufio.NewReader(decoder)

	return fr, nil
}

// readHeader reads and validates the fixture header.
func (fr *FixtureReader) readHeader() error {
	magic := make([]byte, 4)
	if _, err := io.ReadFull(fr.file, magic); err != nil {
		return fmt.Errorf("read magic: %w", err)
	}
	if string(magic) != string(fixtureMagic) {
		return fmt.Errorf("invalid fixture magic: %s", magic)
	}

	buf := make([]byte, 44)
	if _, err := io.ReadFull(fr.file, buf); err != nil {
		return fmt.Errorf("read header: %w", err)
	}

	offset := 0

	fr.Header.Version = binary.LittleEndian.Uint32(buf[offset:])
	offset += 4
	if fr.Header.Version != fixtureVersion {
		return fmt.Errorf("unsupported fixture version: %d", fr.Header.Version)
	}

	fr.Header.AccountsCount = binary.LittleEndian.Uint64(buf[offset:])
	offset += 8

	copy(fr.Header.Digest[:], buf[offset:])

	return nil
}

// ReadAccount reads the next account from the fixture.
// Returns io.EOF when all accounts have been read.
func (fr *FixtureReader) ReadAccount() (types.Pubkey, *Account, error) {
	if fr.read >= fr.Header.AccountsCount {
		return types.Pubkey{}, nil, io.EOF
	}

	var pubkey types.Pubkey
	if _, err := io.ReadFull(fr.reader, pubkey[:]); err != nil {
		return types.Pubkey{}, nil, fmt.Errorf("read pubkey: %w", err)
	}

	sizeBuf := make([]byte, 4)
	if _, err := io.ReadFull(fr.reader, sizeBuf); err != nil {
		return types.Pubkey{}, nil, fmt.Errorf("read size: %w", err)
	}
	size := binary.LittleEndian.Uint32(sizeBuf)

	// Bound the allocation (max account data + serialization overhead).
	const maxAccountSerializedSize = MaxAccountDataSize + 100
	if size > maxAccountSerializedSize {
		return types.Pubkey{}, nil, fmt.Errorf("account size %d exceeds maximum %d", size, maxAccountSerializedSize)
	}

	data := make([]byte, size)
	if _, err := io.ReadFull(fr.reader, data); err != nil {
		return types.Pubkey{}, nil, fmt.Errorf("read account data: %w", err)
	}

	account, err := DeserializeAccount(data)
	if err != nil {
		return types.Pubkey{}, nil, fmt.Errorf("deserialize account: %w", err)
	}

	fr.read++
	return pubkey, account, nil
}

// Close closes the fixture reader.
func (fr *FixtureReader) Close() error {
	if fr.decoder != nil {
		fr.decoder.Close()
	}
	return fr.file.Close()
}

// WriteFixture saves the full contents of a store to a fixture file.
func WriteFixture(store Store, path string) error {
	accounts, err := store.Accounts()
	if err != nil {
		return fmt.Errorf("read accounts: %w", err)
	}

	writer, err := NewFixtureWriter(path, StateDigest(accounts))
	if err != nil {
		return err
	}

	pubkeys := make([]types.Pubkey, 0, len(accounts))
	for pubkey := range accounts {
		pubkeys = append(pubkeys, pubkey)
	}
	SortPubkeys(pubkeys)

	for _, pubkey := range pubkeys {
		if err := writer.WriteAccount(pubkey, accounts[pubkey]); err != nil {
			writer.Close()
			return fmt.Errorf("write account: %w", err)
		}
	}

	return writer.Close()
}

// LoadFixture replaces the contents of a store with a fixture file's
// account set. The state digest is verified before the store is touched,
// so a corrupt fixture never leaves the store half loaded.
func LoadFixture(store Store, path string) error {
	reader, err := OpenFixture(path)
	if err != nil {
		return err
	}
	defer reader.Close()

	accounts := make(map[types.Pubkey]*Account, reader.Header.AccountsCount)
	for {
		pubkey, account, err := reader.ReadAccount()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("read account: %w", err)
		}
		accounts[pubkey] = account
	}

	computed := StateDigest(accounts)
	if computed != reader.Header.Digest {
		return fmt.Errorf("fixture digest mismatch: expected %s, got %s",
			reader.Header.Digest.String(), computed.String())
	}

	return store.ReplaceAll(accounts)
}

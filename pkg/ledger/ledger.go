// Package ledger provides a persistent flight recorder for executed
// batches. Each batch run appends one record with its label, policy,
// per-instruction outcomes, and the store digests taken before and
// after execution. Records are append-only; the testbench never
// rewrites history.
package ledger

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fortiblox/X1-Testbench/internal/types"
	bolt "go.etcd.io/bbolt"
)

var (
	// ErrRecordNotFound is returned when no record exists for a sequence.
	ErrRecordNotFound = errors.New("record not found")

	// ErrClosed is returned when operating on a closed ledger.
	ErrClosed = errors.New("ledger closed")
)

// Bucket names for BoltDB.
var (
	// bucketRecords stores gob-encoded records keyed by sequence number.
	bucketRecords = []byte("records")

	// bucketLabels indexes sequence numbers by batch label.
	bucketLabels = []byte("labels")

	// bucketMetadata stores ledger metadata.
	bucketMetadata = []byte("metadata")
)

// Metadata keys.
var (
	keyRecordCount = []byte("record_count")
)

// Outcome is the recorded result of one instruction in a batch.
type Outcome struct {
	// Index is the instruction's position in the batch.
	Index int

	// Err is the failure message, empty for a success.
	Err string

	// ComputeUnits is the compute consumed by the instruction.
	ComputeUnits uint64
}

// Record is one executed batch.
type Record struct {
	// Seq is the ledger-assigned sequence number, starting at 1.
	Seq uint64

	// Label is the batch label, empty when none was set.
	Label string

	// Policy is the rollback policy the batch ran under.
	Policy string

	// Status is the aggregate batch status.
	Status string

	// Restored reports whether the store was rolled back.
	Restored bool

	// Outcomes holds one entry per executed instruction, in order.
	Outcomes []Outcome

	// ComputeUnits is the total consumed across all outcomes.
	ComputeUnits uint64

	// Duration is the wall-clock time the batch took.
	Duration time.Duration

	// DigestBefore is the store state digest before the batch.
	DigestBefore types.Hash

	// DigestAfter is the store state digest after the batch settled.
	DigestAfter types.Hash

	// RecordedAt is when the record was appended.
	RecordedAt time.Time
}

// Ledger is a BoltDB-backed batch record store.
type Ledger struct {
	db *bolt.DB

	// count is cached in memory; loaded once at open.
	mu    sync.Mutex
	count uint64

	closed bool
}

// Open creates or opens a ledger at the given file path.
func Open(path string) (*Ledger, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}

	opts := &bolt.Options{
		Timeout: 5 * time.Second,
	}

	db, err := bolt.Open(path, 0600, opts)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	l := &Ledger{db: db}

	if err := l.initBuckets(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init buckets: %w", err)
	}

	if err := l.loadCount(); err != nil {
		db.Close()
		return nil, fmt.Errorf("load record count: %w", err)
	}

	return l, nil
}

// initBuckets creates all required buckets.
func (l *Ledger) initBuckets() error {
	return l.db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketRecords,
			bucketLabels,
			bucketMetadata,
		}
		for _, name := range buckets {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	})
}

// loadCount loads the cached record count.
func (l *Ledger) loadCount() error {
	return l.db.View(func(tx *bolt.Tx) error {
		meta := tx.Bucket(bucketMetadata)
		if meta == nil {
			return nil
		}
		if v := meta.Get(keyRecordCount); v != nil {
			l.count = decodeSeqKey(v)
		}
		return nil
	})
}

// Append stores a record, assigning it the next sequence number.
// The record's Seq field is set on success.
func (l *Ledger) Append(record *Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrClosed
	}

	record.Seq = l.count + 1
	if record.RecordedAt.IsZero() {
		record.RecordedAt = time.Now().UTC()
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(record); err != nil {
		return fmt.Errorf("encode record: %w", err)
	}

	err := l.db.Update(func(tx *bolt.Tx) error {
		seqKey := encodeSeqKey(record.Seq)

		if err := tx.Bucket(bucketRecords).Put(seqKey, buf.Bytes()); err != nil {
			return err
		}

		if record.Label != "" {
			if err := tx.Bucket(bucketLabels).Put(labelKey(record.Label, record.Seq), seqKey); err != nil {
				return err
			}
		}

		return tx.Bucket(bucketMetadata).Put(keyRecordCount, seqKey)
	})
	if err != nil {
		return err
	}

	l.count = record.Seq
	return nil
}

// Get retrieves a record by sequence number.
func (l *Ledger) Get(seq uint64) (*Record, error) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil, ErrClosed
	}
	l.mu.Unlock()

	var record Record
	err := l.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRecords)
		if b == nil {
			return ErrRecordNotFound
		}

		data := b.Get(encodeSeqKey(seq))
		if data == nil {
			return ErrRecordNotFound
		}

		return gob.NewDecoder(bytes.NewReader(data)).Decode(&record)
	})
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// ByLabel returns every record appended under the given label, in
// sequence order.
func (l *Ledger) ByLabel(label string) ([]*Record, error) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil, ErrClosed
	}
	l.mu.Unlock()

	var records []*Record
	err := l.db.View(func(tx *bolt.Tx) error {
		labels := tx.Bucket(bucketLabels)
		recordsBucket := tx.Bucket(bucketRecords)
		if labels == nil || recordsBucket == nil {
			return nil
		}

		prefix := append([]byte(label), 0x00)
		c := labels.Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			data := recordsBucket.Get(v)
			if data == nil {
				continue
			}
			var record Record
			if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&record); err != nil {
				return fmt.Errorf("decode record: %w", err)
			}
			records = append(records, &record)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// Count returns the number of records stored.
func (l *Ledger) Count() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.count
}

// Close shuts down the ledger.
func (l *Ledger) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()

	return l.db.Close()
}

// encodeSeqKey encodes a sequence number as a big-endian 8-byte key so
// cursor order equals append order.
func encodeSeqKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}

// decodeSeqKey decodes a sequence number from a big-endian 8-byte key.
func decodeSeqKey(key []byte) uint64 {
	if len(key) < 8 {
		return 0
	}
	return binary.BigEndian.Uint64(key)
}

// labelKey builds a label index key: label bytes, a zero separator, and
// the big-endian sequence number.
func labelKey(label string, seq uint64) []byte {
	key := make([]byte, 0, len(label)+1+8)
	key = append(key, label...)
	key = append(key, 0x00)
	key = append(key, encodeSeqKey(seq)...)
	return key
}

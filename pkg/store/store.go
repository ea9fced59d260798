package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"marketchat/pkg/logger"
	"marketchat/pkg/store/keys"

	"github.com/cockroachdb/pebble"
)

var ErrNotOpen = errors.New("store not opened")

type Options struct {
	// DisableWAL trades crash durability for write throughput. Tests only.
	DisableWAL bool
}

// Store is the single pebble database backing conversations, messages,
// indexes, directory records and the delivery outbox.
type Store struct {
	db          *pebble.DB
	path        string
	walDisabled bool
}

func Open(path string, opts Options) (*Store, error) {
	db, err := pebble.Open(path, &pebble.Options{DisableWAL: opts.DisableWAL})
	if err != nil {
		logger.Error("pebble_open_failed", "path", path, "error", err)
		return nil, fmt.Errorf("open pebble at %s: %w", path, err)
	}
	s := &Store{db: db, path: path, walDisabled: opts.DisableWAL}
	if err := s.ensureVersion(); err != nil {
		_ = db.Close()
		return nil, err
	}
	logger.Info("store_opened", "path", path, "wal_disabled", opts.DisableWAL)
	return s, nil
}

func (s *Store) ensureVersion() error {
	v, err := s.Get(keys.SystemVersionKey)
	switch {
	case IsNotFound(err):
		return s.Set(keys.SystemVersionKey, []byte(keys.SchemaVersion))
	case err != nil:
		return err
	case string(v) != keys.SchemaVersion:
		return fmt.Errorf("unsupported store schema version %q", v)
	}
	return nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	if err := s.db.Close(); err != nil {
		return err
	}
	s.db = nil
	return nil
}

func (s *Store) Ready() bool { return s != nil && s.db != nil }

func (s *Store) Path() string { return s.path }

func IsNotFound(err error) bool {
	return errors.Is(err, pebble.ErrNotFound)
}

func (s *Store) writeOpt() *pebble.WriteOptions {
	if s.walDisabled {
		return pebble.NoSync
	}
	return pebble.Sync
}

// Get returns a copy of the value stored at key.
func (s *Store) Get(key string) ([]byte, error) {
	if !s.Ready() {
		return nil, ErrNotOpen
	}
	v, closer, err := s.db.Get([]byte(key))
	if err != nil {
		if !IsNotFound(err) {
			logger.Error("get_key_failed", "key", key, "error", err)
		}
		return nil, err
	}
	defer closer.Close()
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

// GetJSON decodes the JSON record at key into v.
func (s *Store) GetJSON(key string, v any) error {
	b, err := s.Get(key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

func (s *Store) Has(key string) (bool, error) {
	_, err := s.Get(key)
	if IsNotFound(err) {
		return false, nil
	}
	return err == nil, err
}

func (s *Store) Set(key string, value []byte) error {
	if !s.Ready() {
		return ErrNotOpen
	}
	if err := s.db.Set([]byte(key), value, s.writeOpt()); err != nil {
		logger.Error("save_key_failed", "key", key, "error", err)
		return err
	}
	return nil
}

func (s *Store) SetJSON(key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return s.Set(key, b)
}

func (s *Store) Delete(key string) error {
	if !s.Ready() {
		return ErrNotOpen
	}
	if err := s.db.Delete([]byte(key), s.writeOpt()); err != nil {
		logger.Error("delete_key_failed", "key", key, "error", err)
		return err
	}
	return nil
}

// Batch groups writes that must land atomically.
type Batch struct {
	b   *pebble.Batch
	err error
}

func (s *Store) NewBatch() *Batch {
	return &Batch{b: s.db.NewBatch()}
}

func (b *Batch) Set(key string, value []byte) {
	if b.err != nil {
		return
	}
	b.err = b.b.Set([]byte(key), value, nil)
}

// SetJSON stages v encoded as JSON; encoding errors surface at Commit.
func (b *Batch) SetJSON(key string, v any) {
	if b.err != nil {
		return
	}
	enc, err := json.Marshal(v)
	if err != nil {
		b.err = fmt.Errorf("encode %s: %w", key, err)
		return
	}
	b.Set(key, enc)
}

func (b *Batch) Delete(key string) {
	if b.err != nil {
		return
	}
	b.err = b.b.Delete([]byte(key), nil)
}

func (b *Batch) Count() uint32 { return b.b.Count() }

func (b *Batch) Close() error { return b.b.Close() }

// Commit applies the batch atomically; nothing is written if staging failed.
func (s *Store) Commit(b *Batch) error {
	defer b.b.Close()
	if b.err != nil {
		return b.err
	}
	if !s.Ready() {
		return ErrNotOpen
	}
	if err := b.b.Commit(s.writeOpt()); err != nil {
		logger.Error("batch_commit_failed", "ops", b.b.Count(), "error", err)
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}

// ScanFunc receives each key/value; returning false stops the scan. The
// value slice is only valid for the duration of the call.
type ScanFunc func(key string, value []byte) (bool, error)

func prefixUpperBound(prefix []byte) []byte {
	end := bytes.Clone(prefix)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}

// ScanPrefix visits keys with prefix in ascending order, starting after
// the key `after` when it is non-empty.
func (s *Store) ScanPrefix(prefix, after string, fn ScanFunc) error {
	if !s.Ready() {
		return ErrNotOpen
	}
	lower := []byte(prefix)
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: prefixUpperBound(lower)})
	if err != nil {
		return err
	}
	defer iter.Close()

	valid := iter.First()
	if after != "" {
		valid = iter.SeekGE([]byte(after))
		if valid && string(iter.Key()) == after {
			valid = iter.Next()
		}
	}
	for ; valid; valid = iter.Next() {
		cont, err := fn(string(iter.Key()), iter.Value())
		if err != nil {
			return err
		}
		if !cont {
			break
		}
	}
	return iter.Error()
}

// ScanPrefixReverse visits keys with prefix in descending order.
func (s *Store) ScanPrefixReverse(prefix string, fn ScanFunc) error {
	if !s.Ready() {
		return ErrNotOpen
	}
	lower := []byte(prefix)
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: prefixUpperBound(lower)})
	if err != nil {
		return err
	}
	defer iter.Close()
	for valid := iter.Last(); valid; valid = iter.Prev() {
		cont, err := fn(string(iter.Key()), iter.Value())
		if err != nil {
			return err
		}
		if !cont {
			break
		}
	}
	return iter.Error()
}

// CountPrefix counts keys under prefix.
func (s *Store) CountPrefix(prefix string) (int, error) {
	n := 0
	err := s.ScanPrefix(prefix, "", func(string, []byte) (bool, error) {
		n++
		return true, nil
	})
	return n, err
}

func (s *Store) Flush() error {
	if !s.Ready() {
		return ErrNotOpen
	}
	return s.db.Flush()
}

type Stats struct {
	DiskSpaceUsage uint64 `json:"disk_space_usage"`
	WALSize        uint64 `json:"wal_size"`
	Compactions    int64  `json:"compactions"`
	MemtableSize   uint64 `json:"memtable_size"`
}

func (s *Store) Metrics() Stats {
	if !s.Ready() {
		return Stats{}
	}
	m := s.db.Metrics()
	return Stats{
		DiskSpaceUsage: m.DiskSpaceUsage(),
		WALSize:        m.WAL.Size,
		Compactions:    m.Compact.Count,
		MemtableSize:   m.MemTable.Size,
	}
}

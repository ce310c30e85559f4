// Package leveldb stores the block index in a LevelDB key/value database.
//
// Records live in one-byte prefixed pools:
//
//	H account ':' height(8 bytes BE)            -> empty       account height set
//	P account ':' height ':' asset ':' ordinal  -> tx position asset position lists
//	M height(8 bytes BE)                        -> unix millis indexed markers
//	X height(8 bytes BE)                        -> since, reason, block  pending blocks
//
// The P key embeds index.AccountAssetKey.String(); identifiers never contain the
// ':' delimiter, so every pool prefix scan is unambiguous.
package leveldb

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	ldb_opt "github.com/syndtr/goleveldb/leveldb/opt"
	ldb_storage "github.com/syndtr/goleveldb/leveldb/storage"
	ldb_util "github.com/syndtr/goleveldb/leveldb/util"
	"go.uber.org/zap"

	"github.com/pakloong/iroha/pkg/index"
	"github.com/pakloong/iroha/pkg/ledger"
)

const (
	prefixAccountHeight = 'H'
	prefixAssetPosition = 'P'
	prefixIndexed       = 'M'
	prefixPending       = 'X'
)

var versionKey = []byte{0x00, 'V', 'E', 'R', 'S', 'I', 'O', 'N'}

const currentVersion = 0x100

// ErrTransactionInUse is returned by Begin while another write transaction is open.
var ErrTransactionInUse = errors.New("leveldb: write transaction already in use")

// Store is the LevelDB index backend.
type Store struct {
	db     *leveldb.DB
	logger *zap.Logger

	mu    sync.Mutex
	inUse bool
}

var _ index.Backend = (*Store)(nil)

// Open opens or creates the database directory at path.
func Open(path string, logger *zap.Logger) (*Store, error) {
	db, err := leveldb.OpenFile(path, &ldb_opt.Options{ErrorIfMissing: false})
	if err != nil {
		return nil, fmt.Errorf("open leveldb %s: %w", path, err)
	}
	logger.Info("LevelDB block index opened", zap.String("path", path))
	return newStore(db, logger)
}

// OpenMemory opens an empty database held in memory.
func OpenMemory(logger *zap.Logger) (*Store, error) {
	db, err := leveldb.Open(ldb_storage.NewMemStorage(), nil)
	if err != nil {
		return nil, fmt.Errorf("open memory leveldb: %w", err)
	}
	return newStore(db, logger)
}

func newStore(db *leveldb.DB, logger *zap.Logger) (*Store, error) {
	version, err := getVersion(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	switch {
	case version == 0:
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, currentVersion)
		if err := db.Put(versionKey, buf, nil); err != nil {
			db.Close()
			return nil, fmt.Errorf("write index version: %w", err)
		}
	case version != currentVersion:
		db.Close()
		return nil, fmt.Errorf("index database version: %d, want %d", version, currentVersion)
	}
	return &Store{db: db, logger: logger}, nil
}

func getVersion(db *leveldb.DB) (uint64, error) {
	buf, err := db.Get(versionKey, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read index version: %w", err)
	}
	if len(buf) != 8 {
		return 0, fmt.Errorf("index version has %d bytes", len(buf))
	}
	return binary.BigEndian.Uint64(buf), nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Begin opens the single write transaction.
func (s *Store) Begin(_ context.Context) (index.Tx, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inUse {
		return nil, ErrTransactionInUse
	}
	s.inUse = true
	return &Tx{store: s, batch: new(leveldb.Batch), pending: make(map[string]bool)}, nil
}

func (s *Store) release() {
	s.mu.Lock()
	s.inUse = false
	s.mu.Unlock()
}

// LastIndexedHeight returns the highest marked height, 0 when nothing is indexed.
func (s *Store) LastIndexedHeight(_ context.Context) (uint64, error) {
	it := s.db.NewIterator(ldb_util.BytesPrefix([]byte{prefixIndexed}), nil)
	defer it.Release()

	var height uint64
	if it.Last() {
		height = binary.BigEndian.Uint64(it.Key()[1:])
	}
	if err := it.Error(); err != nil {
		return 0, fmt.Errorf("scan indexed markers: %w", err)
	}
	return height, nil
}

// AccountHeights returns the heights the account took part in, ascending.
func (s *Store) AccountHeights(_ context.Context, account ledger.AccountID) ([]uint64, error) {
	prefix := accountHeightPrefix(account)
	it := s.db.NewIterator(ldb_util.BytesPrefix(prefix), nil)
	defer it.Release()

	var heights []uint64
	for it.Next() {
		heights = append(heights, binary.BigEndian.Uint64(it.Key()[len(prefix):]))
	}
	if err := it.Error(); err != nil {
		return nil, fmt.Errorf("scan account heights %s: %w", account, err)
	}
	return heights, nil
}

// AccountAssetPositions returns the transaction positions stored under key.
func (s *Store) AccountAssetPositions(_ context.Context, key index.AccountAssetKey) ([]int, error) {
	it := s.db.NewIterator(ldb_util.BytesPrefix(assetPositionPrefix(key)), nil)
	defer it.Release()

	var positions []int
	for it.Next() {
		positions = append(positions, int(binary.BigEndian.Uint32(it.Value())))
	}
	if err := it.Error(); err != nil {
		return nil, fmt.Errorf("scan positions %s: %w", key, err)
	}
	return positions, nil
}

// IsIndexed reports whether height carries the indexed marker.
func (s *Store) IsIndexed(_ context.Context, height uint64) (bool, error) {
	ok, err := s.db.Has(indexedKey(height), nil)
	if err != nil {
		return false, fmt.Errorf("read indexed marker %d: %w", height, err)
	}
	return ok, nil
}

// SavePending stores rec under its height, replacing any earlier record.
func (s *Store) SavePending(_ context.Context, rec index.PendingRecord) error {
	value := binary.BigEndian.AppendUint64(nil, uint64(rec.Since.UnixMilli()))
	value = binary.BigEndian.AppendUint32(value, uint32(len(rec.Reason)))
	value = append(value, rec.Reason...)
	value = append(value, rec.Block...)
	if err := s.db.Put(pendingKey(rec.Height), value, &ldb_opt.WriteOptions{Sync: true}); err != nil {
		return fmt.Errorf("save pending block %d: %w", rec.Height, err)
	}
	return nil
}

// DeletePending removes the pending record at height. A missing record is not an error.
func (s *Store) DeletePending(_ context.Context, height uint64) error {
	if err := s.db.Delete(pendingKey(height), &ldb_opt.WriteOptions{Sync: true}); err != nil {
		return fmt.Errorf("delete pending block %d: %w", height, err)
	}
	return nil
}

// LoadPending returns every pending record, ascending by height.
func (s *Store) LoadPending(_ context.Context) ([]index.PendingRecord, error) {
	it := s.db.NewIterator(ldb_util.BytesPrefix([]byte{prefixPending}), nil)
	defer it.Release()

	var records []index.PendingRecord
	for it.Next() {
		height := binary.BigEndian.Uint64(it.Key()[1:])
		value := it.Value()
		if len(value) < 12 {
			return nil, fmt.Errorf("pending block %d: record has %d bytes", height, len(value))
		}
		n := int(binary.BigEndian.Uint32(value[8:12]))
		if len(value) < 12+n {
			return nil, fmt.Errorf("pending block %d: reason overruns record", height)
		}
		records = append(records, index.PendingRecord{
			Height: height,
			Since:  time.UnixMilli(int64(binary.BigEndian.Uint64(value[:8]))).UTC(),
			Reason: string(value[12 : 12+n]),
			Block:  append([]byte(nil), value[12+n:]...),
		})
	}
	if err := it.Error(); err != nil {
		return nil, fmt.Errorf("scan pending blocks: %w", err)
	}
	return records, nil
}

// Tx buffers writes in a batch that is applied atomically on Commit.
type Tx struct {
	store   *Store
	batch   *leveldb.Batch
	pending map[string]bool
	done    bool
}

func (t *Tx) MarkIndexed(_ context.Context, height uint64) (bool, error) {
	if t.done {
		return false, leveldb.ErrClosed
	}
	key := indexedKey(height)
	if t.pending[string(key)] {
		return false, nil
	}
	exists, err := t.store.db.Has(key, nil)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}
	value := make([]byte, 8)
	binary.BigEndian.PutUint64(value, uint64(time.Now().UnixMilli()))
	t.put(key, value)
	return true, nil
}

func (t *Tx) InsertAccountHeight(_ context.Context, account ledger.AccountID, height uint64) error {
	if t.done {
		return leveldb.ErrClosed
	}
	key := append(accountHeightPrefix(account), uint64Bytes(height)...)
	t.put(key, nil)
	return nil
}

func (t *Tx) AppendAccountAssetPosition(_ context.Context, key index.AccountAssetKey, ordinal, position int) error {
	if t.done {
		return leveldb.ErrClosed
	}
	if ordinal < 0 || position < 0 {
		return fmt.Errorf("negative ordinal %d or position %d", ordinal, position)
	}
	k := binary.BigEndian.AppendUint32(assetPositionPrefix(key), uint32(ordinal))
	t.put(k, binary.BigEndian.AppendUint32(nil, uint32(position)))
	return nil
}

func (t *Tx) put(key, value []byte) {
	t.batch.Put(key, value)
	t.pending[string(key)] = true
}

// Commit writes the batch synchronously and releases the store for the next transaction.
func (t *Tx) Commit(_ context.Context) error {
	if t.done {
		return leveldb.ErrClosed
	}
	t.done = true
	defer t.store.release()

	if err := t.store.db.Write(t.batch, &ldb_opt.WriteOptions{Sync: true}); err != nil {
		return fmt.Errorf("commit index batch: %w", err)
	}
	return nil
}

// Rollback discards the batch. It is a no-op after Commit.
func (t *Tx) Rollback(_ context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	t.batch.Reset()
	t.store.release()
	return nil
}

func accountHeightPrefix(account ledger.AccountID) []byte {
	key := make([]byte, 0, len(account)+2)
	key = append(key, prefixAccountHeight)
	key = append(key, string(account)...)
	return append(key, index.Delimiter...)
}

func assetPositionPrefix(key index.AccountAssetKey) []byte {
	s := key.String()
	k := make([]byte, 0, len(s)+2)
	k = append(k, prefixAssetPosition)
	k = append(k, s...)
	return append(k, index.Delimiter...)
}

func indexedKey(height uint64) []byte {
	return append([]byte{prefixIndexed}, uint64Bytes(height)...)
}

func pendingKey(height uint64) []byte {
	return append([]byte{prefixPending}, uint64Bytes(height)...)
}

func uint64Bytes(n uint64) []byte {
	return binary.BigEndian.AppendUint64(make([]byte, 0, 8), n)
}

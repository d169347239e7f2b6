// leveldb_store.go is a second disk-layer backend, proving the layered
// state database is not tied to a single storage engine. It implements the
// same KVStore interface as MemoryKVStore and PebbleKVStore.
package rawdb

import (
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// LevelDBKVStore is a KVStore backed by goleveldb.
type LevelDBKVStore struct {
	db *leveldb.DB
}

// OpenLevelDBKVStore opens (or creates) a LevelDB database at dir.
func OpenLevelDBKVStore(dir string) (*LevelDBKVStore, error) {
	db, err := leveldb.OpenFile(dir, nil)
	if err != nil {
		return nil, err
	}
	return &LevelDBKVStore{db: db}, nil
}

func (l *LevelDBKVStore) Get(key []byte) ([]byte, error) {
	v, err := l.db.Get(key, nil)
	if err == leveldb.ErrNotFound {
		return nil, ErrKVNotFound
	}
	return v, err
}

func (l *LevelDBKVStore) Put(key, value []byte) error {
	return l.db.Put(key, value, nil)
}

func (l *LevelDBKVStore) Delete(key []byte) error {
	return l.db.Delete(key, nil)
}

func (l *LevelDBKVStore) Has(key []byte) (bool, error) {
	return l.db.Has(key, nil)
}

func (l *LevelDBKVStore) NewBatch() *WriteBatch {
	// LevelDB applies its own batch type; KVStore callers that need
	// cross-backend batching go through Put/Delete directly for this
	// backend rather than the MemoryKVStore-specific *WriteBatch type.
	return &WriteBatch{}
}

func (l *LevelDBKVStore) NewKVIterator(prefix, start []byte) KVIterator {
	rng := util.BytesPrefix(prefix)
	if len(start) > 0 {
		rng.Start = start
	}
	it := l.db.NewIterator(rng, nil)
	return &levelDBIterator{it: it, started: false}
}

func (l *LevelDBKVStore) Close() error {
	return l.db.Close()
}

type levelDBIterator struct {
	it      iterator
	started bool
}

// iterator is the subset of goleveldb's Iterator used here, declared
// locally so levelDBIterator doesn't leak the goleveldb type into callers
// that only expect the local KVIterator interface.
type iterator interface {
	Next() bool
	First() bool
	Key() []byte
	Value() []byte
	Release()
}

func (it *levelDBIterator) Next() bool {
	if !it.started {
		it.started = true
		return it.it.First()
	}
	return it.it.Next()
}

func (it *levelDBIterator) Key() []byte   { return it.it.Key() }
func (it *levelDBIterator) Value() []byte { return it.it.Value() }
func (it *levelDBIterator) Release()      { it.it.Release() }

// pebble_store.go backs the KVStore interface with a real LSM-tree engine
// (cockroachdb/pebble) fronted by an in-process fastcache read cache, for
// deployments that need the disk layer to survive a process restart instead
// of living only in MemoryKVStore.
package rawdb

import (
	"errors"

	"github.com/VictoriaMetrics/fastcache"
	"github.com/cockroachdb/pebble"
)

// PebbleKVStore is a KVStore backed by a Pebble database, with a fastcache
// front for hot reads (account and code lookups during block execution hit
// the same keys repeatedly across transactions in a block).
type PebbleKVStore struct {
	db    *pebble.DB
	cache *fastcache.Cache
}

// PebbleOptions configures a PebbleKVStore.
type PebbleOptions struct {
	// CacheSizeBytes sizes the fastcache read cache in front of Pebble.
	// A zero value selects a small default suitable for tests.
	CacheSizeBytes int
}

// OpenPebbleKVStore opens (or creates) a Pebble database at dir.
func OpenPebbleKVStore(dir string, opts PebbleOptions) (*PebbleKVStore, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, err
	}
	cacheSize := opts.CacheSizeBytes
	if cacheSize <= 0 {
		cacheSize = 32 * 1024 * 1024
	}
	return &PebbleKVStore{
		db:    db,
		cache: fastcache.New(cacheSize),
	}, nil
}

func (p *PebbleKVStore) Get(key []byte) ([]byte, error) {
	if v, ok := p.cache.HasGet(nil, key); ok {
		return v, nil
	}
	v, closer, err := p.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, ErrKVNotFound
	}
	if err != nil {
		return nil, err
	}
	cp := make([]byte, len(v))
	copy(cp, v)
	closer.Close()
	p.cache.Set(key, cp)
	return cp, nil
}

func (p *PebbleKVStore) Put(key, value []byte) error {
	if err := p.db.Set(key, value, pebble.Sync); err != nil {
		return err
	}
	p.cache.Set(key, value)
	return nil
}

func (p *PebbleKVStore) Delete(key []byte) error {
	if err := p.db.Delete(key, pebble.Sync); err != nil {
		return err
	}
	p.cache.Del(key)
	return nil
}

func (p *PebbleKVStore) Has(key []byte) (bool, error) {
	if p.cache.Has(key) {
		return true, nil
	}
	_, closer, err := p.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	closer.Close()
	return true, nil
}

// NewBatch returns a Pebble-backed write batch. Unlike MemoryKVStore's
// batch, PebbleBatch writes directly through the pebble.Batch type; it does
// not satisfy the *WriteBatch concrete type used by MemoryKVStore, so
// callers that need backend-agnostic batching should go through the
// KVStore interface methods rather than the concrete batch type.
func (p *PebbleKVStore) NewPebbleBatch() *PebbleBatch {
	return &PebbleBatch{batch: p.db.NewBatch(), cache: p.cache}
}

func (p *PebbleKVStore) NewKVIterator(prefix, start []byte) KVIterator {
	lower := start
	if len(lower) == 0 {
		lower = prefix
	}
	upper := upperBound(prefix)
	iterOpts := &pebble.IterOptions{LowerBound: lower, UpperBound: upper}
	it, err := p.db.NewIter(iterOpts)
	if err != nil {
		return &kvIterator{}
	}
	return &pebbleIterator{it: it, started: false}
}

func (p *PebbleKVStore) Close() error {
	return p.db.Close()
}

// upperBound computes the smallest key greater than every key sharing the
// given prefix, used to bound a prefix scan in Pebble's iterator.
func upperBound(prefix []byte) []byte {
	if len(prefix) == 0 {
		return nil
	}
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil // prefix was all 0xff, no upper bound
}

// PebbleBatch buffers writes for atomic application to a PebbleKVStore.
type PebbleBatch struct {
	batch *pebble.Batch
	cache *fastcache.Cache
	ops   []writeBatchOp
}

func (b *PebbleBatch) Put(key, value []byte) {
	b.batch.Set(key, value, nil)
	b.ops = append(b.ops, writeBatchOp{key: key, value: value})
}

func (b *PebbleBatch) Delete(key []byte) {
	b.batch.Delete(key, nil)
	b.ops = append(b.ops, writeBatchOp{key: key, delete: true})
}

func (b *PebbleBatch) Write() error {
	if err := b.batch.Commit(pebble.Sync); err != nil {
		return err
	}
	for _, op := range b.ops {
		if op.delete {
			b.cache.Del(op.key)
		} else {
			b.cache.Set(op.key, op.value)
		}
	}
	return nil
}

func (b *PebbleBatch) Len() int { return len(b.ops) }

// pebbleIterator adapts pebble.Iterator to the KVIterator interface.
type pebbleIterator struct {
	it      *pebble.Iterator
	started bool
}

func (it *pebbleIterator) Next() bool {
	if !it.started {
		it.started = true
		return it.it.First()
	}
	return it.it.Next()
}

func (it *pebbleIterator) Key() []byte   { return it.it.Key() }
func (it *pebbleIterator) Value() []byte { return it.it.Value() }
func (it *pebbleIterator) Release()      { it.it.Close() }

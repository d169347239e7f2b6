package state

import (
	"runtime"
	"sync"

	"github.com/eth2030/eth2030/core/types"
)

// storageRootPool computes per-account storage trie roots across a worker
// pool of background goroutines, the same fixed-worker/task-channel shape
// TxPrefetcher uses to warm state ahead of transaction execution. Each
// account's storage root is independent of every other account's — workers
// only read their own stateObject and write into a pre-sized result slot, so
// this is read/compute-ahead parallelism across accounts, not in-block
// transaction parallelism.
type storageRootPool struct {
	workers int
}

// storageRootJob is one unit of work: compute the storage root for a single
// account's stateObject.
type storageRootJob struct {
	index int
	obj   *stateObject
}

// storageRootResult pairs a job's index with its computed root, so results
// can be written back into the caller's slice regardless of completion
// order.
type storageRootResult struct {
	index int
	root  types.Hash
}

// defaultStorageRootPool sizes itself to the host's available CPUs, capped
// to avoid oversubscribing on small accounts sets.
func defaultStorageRootPool() *storageRootPool {
	workers := runtime.GOMAXPROCS(0)
	if workers > 8 {
		workers = 8
	}
	if workers < 1 {
		workers = 1
	}
	return &storageRootPool{workers: workers}
}

// parallelStorageRootThreshold is the minimum number of live accounts before
// spinning up the worker pool is worth the goroutine/channel overhead; below
// it a plain serial loop is faster.
const parallelStorageRootThreshold = 8

// computeStorageRoots computes computeTrieStorageRoot for every entry in
// objs, returning a map from address to storage root. When len(objs) is
// below parallelStorageRootThreshold it falls back to a serial loop.
func (p *storageRootPool) computeStorageRoots(objs map[types.Address]*stateObject) map[types.Address]types.Hash {
	roots := make(map[types.Address]types.Hash, len(objs))

	if len(objs) < parallelStorageRootThreshold {
		for addr, obj := range objs {
			roots[addr] = computeTrieStorageRoot(obj)
		}
		return roots
	}

	addrs := make([]types.Address, 0, len(objs))
	jobObjs := make([]*stateObject, 0, len(objs))
	for addr, obj := range objs {
		addrs = append(addrs, addr)
		jobObjs = append(jobObjs, obj)
	}

	jobs := make(chan storageRootJob, len(jobObjs))
	results := make(chan storageRootResult, len(jobObjs))

	var wg sync.WaitGroup
	for w := 0; w < p.workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobs {
				results <- storageRootResult{
					index: job.index,
					root:  computeTrieStorageRoot(job.obj),
				}
			}
		}()
	}

	for i, obj := range jobObjs {
		jobs <- storageRootJob{index: i, obj: obj}
	}
	close(jobs)

	go func() {
		wg.Wait()
		close(results)
	}()

	computed := make([]types.Hash, len(jobObjs))
	for res := range results {
		computed[res.index] = res.root
	}

	for i, addr := range addrs {
		roots[addr] = computed[i]
	}
	return roots
}

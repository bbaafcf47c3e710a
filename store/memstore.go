package store

import (
	"context"
	"hash/fnv"
	"sync"

	"github.com/INLOpen/expirebin/core"
)

const defaultShardCount = 64

// MemStore is an in-memory RecordStore. Records are partitioned into
// shards; a shard's mutex is held for the whole read-modify-write of
// any record in it, which gives per-record serializability.
type MemStore struct {
	shards []*memShard
	closed sync.Once
}

type memShard struct {
	mu sync.RWMutex
	// set name -> primary key -> record
	sets map[string]map[string]core.Record
}

var _ RecordStore = (*MemStore)(nil)

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	shards := make([]*memShard, defaultShardCount)
	for i := range shards {
		shards[i] = &memShard{sets: make(map[string]map[string]core.Record)}
	}
	return &MemStore{shards: shards}
}

func (s *MemStore) shardFor(key core.Key) *memShard {
	h := fnv.New32a()
	h.Write([]byte(key.Set))
	h.Write([]byte{0})
	h.Write([]byte(key.PK))
	return s.shards[h.Sum32()%uint32(len(s.shards))]
}

func (s *MemStore) View(ctx context.Context, key core.Key, fn ViewFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	shard := s.shardFor(key)
	shard.mu.RLock()
	defer shard.mu.RUnlock()
	rec, ok := shard.sets[key.Set][key.PK]
	if !ok {
		return core.ErrKeyNotFound
	}
	return fn(rec)
}

func (s *MemStore) Update(ctx context.Context, key core.Key, fn UpdateFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	shard := s.shardFor(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()
	return shard.updateLocked(key, fn)
}

// updateLocked applies fn under the shard lock. The record is cloned
// before fn sees it so an aborted transaction leaves nothing behind.
func (sh *memShard) updateLocked(key core.Key, fn UpdateFunc) error {
	cur, ok := sh.sets[key.Set][key.PK]
	var work core.Record
	if ok {
		work = cur.Clone()
	} else {
		work = make(core.Record)
	}
	next, err := fn(work)
	if err != nil {
		return err
	}
	if len(next) == 0 {
		if ok {
			delete(sh.sets[key.Set], key.PK)
			if len(sh.sets[key.Set]) == 0 {
				delete(sh.sets, key.Set)
			}
		}
		return nil
	}
	pks, ok := sh.sets[key.Set]
	if !ok {
		pks = make(map[string]core.Record)
		sh.sets[key.Set] = pks
	}
	pks[key.PK] = next
	return nil
}

func (s *MemStore) Scan(ctx context.Context, set string, fn ScanFunc) error {
	for _, shard := range s.shards {
		// Snapshot the shard's keys so visits do not hold the lock
		// across the whole scan; each visit reacquires it.
		shard.mu.RLock()
		pks := make([]string, 0, len(shard.sets[set]))
		for pk := range shard.sets[set] {
			pks = append(pks, pk)
		}
		shard.mu.RUnlock()

		for _, pk := range pks {
			if err := ctx.Err(); err != nil {
				return err
			}
			key := core.Key{Set: set, PK: pk}
			shard.mu.Lock()
			cur, ok := shard.sets[set][pk]
			if !ok {
				// Deleted since the snapshot; nothing to visit.
				shard.mu.Unlock()
				continue
			}
			next, mutate, err := fn(key, cur.Clone(), nil)
			if err == nil && mutate {
				if len(next) == 0 {
					delete(shard.sets[set], pk)
				} else {
					shard.sets[set][pk] = next
				}
			}
			shard.mu.Unlock()
			if err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *MemStore) Close() error {
	s.closed.Do(func() {
		for _, shard := range s.shards {
			shard.mu.Lock()
			shard.sets = make(map[string]map[string]core.Record)
			shard.mu.Unlock()
		}
	})
	return nil
}

// Package kvstore implements a historized byte-key/byte-value map: ordered
// keys, exact lookup, and a "floor query" (the stored key/value pair whose
// suffix-fuzzed key is largest but still at most the probe's suffix). The
// versioned sparse Merkle tree (internal/vsmt) is built entirely on top of
// this contract.
//
// Grounded on the Rust original's KVQSimpleMemoryBackingStore
// (_examples/original_source/city_mono/src/store/kvq/store/simplemem/smstore.rs),
// which keeps a BTreeMap<Vec<u8>, Vec<u8>> and answers get_leq via a
// range(base_key..key_end).next_back() scan. Go's standard library has no
// ordered map, and no ordered-map library appears anywhere in the retrieved
// pack (DESIGN.md records this as the one stdlib-justified data structure);
// this package keeps an explicit sorted key index instead and performs the
// same range scan with sort.Search. A bounded LRU (golang-lru/v2) caches
// exact-key reads the way orbas1-Synnergy's ledger keeps hot state in memory.
package kvstore

import (
	"sort"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/cityrollup/rollup/internal/cityerr"
)

// Pair is a key/value pair used by the batched Set/Delete operations.
type Pair struct {
	Key   []byte
	Value []byte
}

// Store is an ordered, historized byte-key/byte-value map.
type Store struct {
	mu    sync.RWMutex
	keys  []string // sorted ascending
	data  map[string][]byte
	cache *lru.Cache[string, []byte]
}

// New creates an empty Store. cacheSize bounds the exact-read cache; 0
// disables caching.
func New(cacheSize int) *Store {
	s := &Store{data: make(map[string][]byte)}
	if cacheSize > 0 {
		c, _ := lru.New[string, []byte](cacheSize)
		s.cache = c
	}
	return s
}

// GetExact returns the value stored at key, or a NotFound error.
func (s *Store) GetExact(key []byte) ([]byte, error) {
	k := string(key)
	if s.cache != nil {
		if v, ok := s.cache.Get(k); ok {
			return v, nil
		}
	}
	s.mu.RLock()
	v, ok := s.data[k]
	s.mu.RUnlock()
	if !ok {
		return nil, cityerr.New(cityerr.KindNotFound, "kvstore.GetExact", nil)
	}
	if s.cache != nil {
		s.cache.Add(k, v)
	}
	return v, nil
}

// Set stores value at key, inserting key into the sorted index if new.
func (s *Store) Set(key, value []byte) error {
	k := string(key)
	s.mu.Lock()
	if _, exists := s.data[k]; !exists {
		s.insertSorted(k)
	}
	s.data[k] = value
	s.mu.Unlock()
	if s.cache != nil {
		s.cache.Add(k, value)
	}
	return nil
}

// SetMany stores every pair atomically with respect to the sorted index.
func (s *Store) SetMany(pairs []Pair) error {
	s.mu.Lock()
	for _, p := range pairs {
		k := string(p.Key)
		if _, exists := s.data[k]; !exists {
			s.insertSorted(k)
		}
		s.data[k] = p.Value
	}
	s.mu.Unlock()
	if s.cache != nil {
		for _, p := range pairs {
			s.cache.Add(string(p.Key), p.Value)
		}
	}
	return nil
}

// Delete removes key, if present.
func (s *Store) Delete(key []byte) error {
	k := string(key)
	s.mu.Lock()
	if _, exists := s.data[k]; exists {
		delete(s.data, k)
		s.removeSorted(k)
	}
	s.mu.Unlock()
	if s.cache != nil {
		s.cache.Remove(k)
	}
	return nil
}

// DeleteMany removes every key, if present.
func (s *Store) DeleteMany(keys [][]byte) error {
	for _, k := range keys {
		if err := s.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

// GetFloor returns the stored key/value pair whose first len(key)-fuzzyBytes
// bytes match key's and whose last fuzzyBytes-byte suffix is the greatest
// such suffix ≤ key's own suffix. It reports found=false, not an error, when
// no such entry exists. fuzzyBytes greater than len(key) is InvalidArgument.
func (s *Store) GetFloor(key []byte, fuzzyBytes int) (storedKey, value []byte, found bool, err error) {
	n := len(key)
	if fuzzyBytes > n {
		return nil, nil, false, cityerr.New(cityerr.KindInvalidArgument, "kvstore.GetFloor", nil)
	}
	if fuzzyBytes == 0 {
		v, gerr := s.GetExact(key)
		if gerr != nil {
			if cityerr.Is(gerr, cityerr.KindNotFound) {
				return nil, nil, false, nil
			}
			return nil, nil, false, gerr
		}
		return append([]byte(nil), key...), v, true, nil
	}

	base := append([]byte(nil), key...)
	allZero := true
	for i := n - fuzzyBytes; i < n; i++ {
		if base[i] != 0 {
			allZero = false
		}
		base[i] = 0
	}
	if allZero {
		v, gerr := s.GetExact(key)
		if gerr != nil {
			if cityerr.Is(gerr, cityerr.KindNotFound) {
				return nil, nil, false, nil
			}
			return nil, nil, false, gerr
		}
		return append([]byte(nil), key...), v, true, nil
	}

	baseStr := string(base)
	endStr := string(key)

	s.mu.RLock()
	defer s.mu.RUnlock()

	// Largest index i such that keys[i] <= endStr.
	idx := sort.Search(len(s.keys), func(i int) bool { return s.keys[i] > endStr })
	idx--
	if idx < 0 {
		return nil, nil, false, nil
	}
	if s.keys[idx] < baseStr {
		return nil, nil, false, nil
	}
	k := s.keys[idx]
	v := s.data[k]
	return []byte(k), append([]byte(nil), v...), true, nil
}

// FloorResult is a single GetManyFloor answer.
type FloorResult struct {
	Key   []byte
	Value []byte
	Found bool
}

// GetManyFloor is the batched form of GetFloor.
func (s *Store) GetManyFloor(keys [][]byte, fuzzyBytes int) ([]FloorResult, error) {
	out := make([]FloorResult, len(keys))
	for i, k := range keys {
		sk, v, found, err := s.GetFloor(k, fuzzyBytes)
		if err != nil {
			return nil, err
		}
		out[i] = FloorResult{Key: sk, Value: v, Found: found}
	}
	return out, nil
}

// GetManyFloorKV is an alias of GetManyFloor kept for callers that also
// want the matched key alongside the value.
func (s *Store) GetManyFloorKV(keys [][]byte, fuzzyBytes int) ([]FloorResult, error) {
	return s.GetManyFloor(keys, fuzzyBytes)
}

func (s *Store) insertSorted(k string) {
	i := sort.SearchStrings(s.keys, k)
	s.keys = append(s.keys, "")
	copy(s.keys[i+1:], s.keys[i:])
	s.keys[i] = k
}

func (s *Store) removeSorted(k string) {
	i := sort.SearchStrings(s.keys, k)
	if i < len(s.keys) && s.keys[i] == k {
		s.keys = append(s.keys[:i], s.keys[i+1:]...)
	}
}

// Len returns the number of keys currently stored.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.keys)
}

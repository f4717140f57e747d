package store

import (
	"sort"
	"strings"
	"sync"
)

// Tx is the view of a KV inside one transaction. Writes become visible to
// other transactions only when the transaction function returns nil.
type Tx interface {
	Get(bucket, key string) ([]byte, bool)
	Put(bucket, key string, value []byte) error
	Delete(bucket, key string) error
	// ForEach visits keys with the given prefix in lexical order.
	ForEach(bucket, prefix string, fn func(key string, value []byte) error) error
}

// KV is a keyed byte store with transactional writes.
type KV interface {
	View(fn func(tx Tx) error) error
	Update(fn func(tx Tx) error) error
}

type buckets map[string]map[string][]byte

// MemoryKV keeps all data in memory. Update transactions are serialized;
// View transactions run concurrently with each other.
type MemoryKV struct {
	mu   sync.RWMutex
	data buckets
	// commit, when set, must durably store next before it becomes current.
	commit func(next buckets) error
}

// NewMemoryKV returns an empty MemoryKV.
func NewMemoryKV() *MemoryKV { return &MemoryKV{data: buckets{}} }

func (m *MemoryKV) View(fn func(tx Tx) error) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return fn(&tx{base: m.data, readOnly: true})
}

func (m *MemoryKV) Update(fn func(tx Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t := &tx{base: m.data, writes: map[string]map[string][]byte{}}
	if err := fn(t); err != nil {
		return err
	}
	if len(t.writes) == 0 {
		return nil
	}
	next := t.merged()
	if m.commit != nil {
		if err := m.commit(next); err != nil {
			return err
		}
	}
	m.data = next
	return nil
}

type tx struct {
	base     buckets
	readOnly bool
	// writes holds pending values; a nil value marks a deletion.
	writes map[string]map[string][]byte
}

func (t *tx) Get(bucket, key string) ([]byte, bool) {
	if w, ok := t.writes[bucket]; ok {
		if v, ok := w[key]; ok {
			if v == nil {
				return nil, false
			}
			return append([]byte(nil), v...), true
		}
	}
	v, ok := t.base[bucket][key]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), v...), true
}

func (t *tx) Put(bucket, key string, value []byte) error {
	if t.readOnly {
		return ErrReadOnly
	}
	t.pending(bucket)[key] = append([]byte{}, value...)
	return nil
}

func (t *tx) Delete(bucket, key string) error {
	if t.readOnly {
		return ErrReadOnly
	}
	t.pending(bucket)[key] = nil
	return nil
}

func (t *tx) ForEach(bucket, prefix string, fn func(key string, value []byte) error) error {
	seen := map[string]struct{}{}
	var keys []string
	for k := range t.writes[bucket] {
		if strings.HasPrefix(k, prefix) {
			seen[k] = struct{}{}
			keys = append(keys, k)
		}
	}
	for k := range t.base[bucket] {
		if _, dup := seen[k]; !dup && strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		v, ok := t.Get(bucket, k)
		if !ok {
			continue
		}
		if err := fn(k, v); err != nil {
			return err
		}
	}
	return nil
}

func (t *tx) pending(bucket string) map[string][]byte {
	w, ok := t.writes[bucket]
	if !ok {
		w = map[string][]byte{}
		t.writes[bucket] = w
	}
	return w
}

// merged returns a new snapshot with the pending writes applied. Untouched
// buckets are shared with the base snapshot; emptied buckets are dropped.
func (t *tx) merged() buckets {
	next := make(buckets, len(t.base)+len(t.writes))
	for name, b := range t.base {
		next[name] = b
	}
	for name, w := range t.writes {
		b := make(map[string][]byte, len(t.base[name])+len(w))
		for k, v := range t.base[name] {
			b[k] = v
		}
		for k, v := range w {
			if v == nil {
				delete(b, k)
			} else {
				b[k] = v
			}
		}
		if len(b) == 0 {
			delete(next, name)
			continue
		}
		next[name] = b
	}
	return next
}

// Compile-time assertion that MemoryKV implements KV.
var _ KV = (*MemoryKV)(nil)

package testutil

import (
	"fmt"
	"sync"
)

// SequentialKeys generates primary keys "<prefix>-1", "<prefix>-2", ...
// so stores that generate string keys produce stable output in tests.
//
// Thread-safety: All methods are safe for concurrent use.
type SequentialKeys struct {
	mu     sync.Mutex
	prefix string
	seq    int64
}

// NewSequentialKeys creates a generator. An empty prefix becomes "key".
func NewSequentialKeys(prefix string) *SequentialKeys {
	if prefix == "" {
		prefix = "key"
	}
	return &SequentialKeys{prefix: prefix}
}

// Next returns the next key. It matches the func() string shape of
// memory.WithKeyGenerator.
func (k *SequentialKeys) Next() string {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.seq++
	return fmt.Sprintf("%s-%d", k.prefix, k.seq)
}

// Issued returns how many keys have been generated.
func (k *SequentialKeys) Issued() int64 {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.seq
}

// Reset restarts the sequence so a scenario can be replayed with the same
// keys.
func (k *SequentialKeys) Reset() {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.seq = 0
}

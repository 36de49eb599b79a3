package ledger

// Package ledger remembers which transaction signatures have already been
// notified, per watched address. Each address owns its own lock so monitors
// for different addresses never wait on each other's sets.

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

type Ledger struct {
	maxPerAddress int

	mu    sync.RWMutex
	byKey map[string]*addressSet
}

type Option func(*Ledger)

// WithMaxPerAddress caps each address's set at n signatures, evicting the
// least recently recorded ones. n <= 0 keeps sets unbounded.
func WithMaxPerAddress(n int) Option {
	return func(l *Ledger) {
		if n > 0 {
			l.maxPerAddress = n
		}
	}
}

func New(opts ...Option) *Ledger {
	l := &Ledger{byKey: make(map[string]*addressSet)}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// IsNew reports whether signature has not been recorded for address.
func (l *Ledger) IsNew(address, signature string) bool {
	set := l.lookup(address)
	if set == nil {
		return true
	}
	return !set.contains(signature)
}

// Record adds signature to address's set. Recording twice is a no-op.
func (l *Ledger) Record(address, signature string) {
	l.set(address).add(signature)
}

// MarkIfNew records signature and returns true if it was not already present.
// Check and insert happen under one lock.
func (l *Ledger) MarkIfNew(address, signature string) bool {
	return l.set(address).add(signature)
}

// Len returns the number of signatures held for address.
func (l *Ledger) Len(address string) int {
	set := l.lookup(address)
	if set == nil {
		return 0
	}
	return set.len()
}

// Addresses returns the number of addresses with at least one record.
func (l *Ledger) Addresses() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.byKey)
}

func (l *Ledger) lookup(address string) *addressSet {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.byKey[address]
}

func (l *Ledger) set(address string) *addressSet {
	if set := l.lookup(address); set != nil {
		return set
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if set, ok := l.byKey[address]; ok {
		return set
	}
	set := newAddressSet(l.maxPerAddress)
	l.byKey[address] = set
	return set
}

type addressSet struct {
	mu      sync.Mutex
	seen    map[string]struct{}
	bounded *lru.Cache[string, struct{}]
}

func newAddressSet(max int) *addressSet {
	if max > 0 {
		cache, err := lru.New[string, struct{}](max)
		if err == nil {
			return &addressSet{bounded: cache}
		}
	}
	return &addressSet{seen: make(map[string]struct{})}
}

func (s *addressSet) contains(signature string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bounded != nil {
		return s.bounded.Contains(signature)
	}
	_, ok := s.seen[signature]
	return ok
}

// add returns true when signature was inserted.
func (s *addressSet) add(signature string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bounded != nil {
		found, _ := s.bounded.ContainsOrAdd(signature, struct{}{})
		return !found
	}
	if _, ok := s.seen[signature]; ok {
		return false
	}
	s.seen[signature] = struct{}{}
	return true
}

func (s *addressSet) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bounded != nil {
		return s.bounded.Len()
	}
	return len(s.seen)
}

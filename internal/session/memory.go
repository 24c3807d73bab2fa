package session

import (
	"context"
	"sync"
	"time"

	"github.com/vocdoni/gofirma/qessign/internal/model"
	"github.com/vocdoni/gofirma/qessign/internal/signerr"
)

type memoryRecord struct {
	data      []byte
	expiresAt time.Time
}

// MemoryStore keeps records in process memory. It does not survive restarts
// and is not shared between instances.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]memoryRecord
	codec   codec
	now     func() time.Time
}

func NewMemoryStore(secret []byte) *MemoryStore {
	return &MemoryStore{
		records: make(map[string]memoryRecord),
		codec:   codec{secret: secret},
		now:     time.Now,
	}
}

func (s *MemoryStore) Put(ctx context.Context, p *model.PendingSignature) error {
	now := s.now()
	if _, err := ttl(p, now); err != nil {
		return err
	}
	data, err := s.codec.encode(p)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for k, r := range s.records {
		if now.After(r.expiresAt) {
			delete(s.records, k)
		}
	}
	s.records[key(p.Authorization.State)] = memoryRecord{data: data, expiresAt: p.ExpiresAt}
	return nil
}

func (s *MemoryStore) Take(ctx context.Context, state string) (*model.PendingSignature, error) {
	k := key(state)
	s.mu.Lock()
	r, ok := s.records[k]
	delete(s.records, k)
	s.mu.Unlock()

	if !ok {
		return nil, signerr.ErrSessionNotFound
	}
	p, err := s.codec.decode(r.data)
	if err != nil {
		return nil, err
	}
	return checkTaken(p, s.now())
}

func (s *MemoryStore) Delete(ctx context.Context, state string) error {
	s.mu.Lock()
	delete(s.records, key(state))
	s.mu.Unlock()
	return nil
}

// Len returns the number of stored records, expired ones included.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

func (s *MemoryStore) Close() error { return nil }

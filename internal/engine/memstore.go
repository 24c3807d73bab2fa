package engine

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memoryDocument struct {
	data     []byte
	prepared time.Time
}

// MemoryStore is an in-process Store for tests and development.
type MemoryStore struct {
	mu      sync.Mutex
	pending map[string]memoryDocument
	signed  map[string][]byte
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		pending: make(map[string]memoryDocument),
		signed:  make(map[string][]byte),
		now:     time.Now,
	}
}

func (s *MemoryStore) Prepare(ctx context.Context, name string, content []byte, field string) (string, error) {
	now := s.now()
	env, err := NewEnvelope(name, content, field, now)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := env.Save(&buf); err != nil {
		return "", err
	}
	ref := uuid.New().String()

	s.mu.Lock()
	s.pending[ref] = memoryDocument{data: buf.Bytes(), prepared: now}
	s.mu.Unlock()
	return ref, nil
}

func (s *MemoryStore) Open(ctx context.Context, ref string) (Document, error) {
	s.mu.Lock()
	doc, ok := s.pending[ref]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDocumentNotFound, ref)
	}
	return ParseEnvelope(bytes.NewReader(doc.data))
}

func (s *MemoryStore) Commit(ctx context.Context, ref string, doc Document) error {
	var buf bytes.Buffer
	if err := doc.Save(&buf); err != nil {
		return fmt.Errorf("failed to serialize document: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pending[ref]; !ok {
		return fmt.Errorf("%w: %s", ErrDocumentNotFound, ref)
	}
	delete(s.pending, ref)
	s.signed[ref] = buf.Bytes()
	return nil
}

func (s *MemoryStore) Discard(ctx context.Context, ref string) error {
	s.mu.Lock()
	delete(s.pending, ref)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Signed(ctx context.Context, ref string) (io.ReadCloser, string, error) {
	s.mu.Lock()
	data, ok := s.signed[ref]
	s.mu.Unlock()
	if !ok {
		return nil, "", fmt.Errorf("%w: %s", ErrDocumentNotFound, ref)
	}
	return io.NopCloser(bytes.NewReader(data)), ref + ".json", nil
}

func (s *MemoryStore) Prune(ctx context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for ref, doc := range s.pending {
		if doc.prepared.Before(cutoff) {
			delete(s.pending, ref)
			removed++
		}
	}
	return removed, nil
}

func (s *MemoryStore) Pending(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending), nil
}

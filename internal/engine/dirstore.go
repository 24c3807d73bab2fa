package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	pendingExt = ".pending"
	signedExt  = ".signed"
)

// DirStore keeps envelopes as files under a directory. Prepared documents
// are stored as <ref>.pending and committed ones as <ref>.signed.
type DirStore struct {
	mu  sync.Mutex
	dir string
	now func() time.Time
}

func NewDirStore(dir string) (*DirStore, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create document dir: %w", err)
	}
	return &DirStore{dir: dir, now: time.Now}, nil
}

func (s *DirStore) path(ref, ext string) (string, error) {
	// refs come back from the browser; only accept what Prepare hands out.
	if _, err := uuid.Parse(ref); err != nil {
		return "", fmt.Errorf("%w: invalid reference", ErrDocumentNotFound)
	}
	return filepath.Join(s.dir, ref+ext), nil
}

func (s *DirStore) Prepare(ctx context.Context, name string, content []byte, field string) (string, error) {
	env, err := NewEnvelope(name, content, field, s.now())
	if err != nil {
		return "", err
	}
	ref := uuid.New().String()
	p, _ := s.path(ref, pendingExt)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := writeEnvelope(p, env); err != nil {
		return "", err
	}
	return ref, nil
}

func (s *DirStore) Open(ctx context.Context, ref string) (Document, error) {
	p, err := s.path(ref, pendingExt)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrDocumentNotFound, ref)
		}
		return nil, fmt.Errorf("failed to open document: %w", err)
	}
	defer f.Close()
	return ParseEnvelope(f)
}

func (s *DirStore) Commit(ctx context.Context, ref string, doc Document) error {
	pending, err := s.path(ref, pendingExt)
	if err != nil {
		return err
	}
	signed, _ := s.path(ref, signedExt)

	var buf bytes.Buffer
	if err := doc.Save(&buf); err != nil {
		return fmt.Errorf("failed to serialize document: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := os.Stat(pending); err != nil {
		return fmt.Errorf("%w: %s", ErrDocumentNotFound, ref)
	}
	if err := writeFileAtomic(signed, buf.Bytes()); err != nil {
		return err
	}
	if err := os.Remove(pending); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove pending document: %w", err)
	}
	return nil
}

func (s *DirStore) Discard(ctx context.Context, ref string) error {
	p, err := s.path(ref, pendingExt)
	if err != nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to discard document: %w", err)
	}
	return nil
}

func (s *DirStore) Signed(ctx context.Context, ref string) (io.ReadCloser, string, error) {
	p, err := s.path(ref, signedExt)
	if err != nil {
		return nil, "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, "", fmt.Errorf("%w: %s", ErrDocumentNotFound, ref)
		}
		return nil, "", fmt.Errorf("failed to open signed document: %w", err)
	}
	return f, ref + ".json", nil
}

// Prune removes .pending files last written before cutoff, together with
// temp files left behind by an interrupted write.
func (s *DirStore) Prune(ctx context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("failed to list documents: %w", err)
	}
	removed := 0
	for _, e := range entries {
		name := e.Name()
		isPending := strings.HasSuffix(name, pendingExt)
		if e.IsDir() || (!isPending && !strings.HasPrefix(name, ".tmp-")) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return removed, fmt.Errorf("failed to stat document: %w", err)
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, name)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return removed, fmt.Errorf("failed to prune document: %w", err)
		}
		if isPending {
			removed++
		}
	}
	return removed, nil
}

func (s *DirStore) Pending(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("failed to list documents: %w", err)
	}
	n := 0
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), pendingExt) {
			n++
		}
	}
	return n, nil
}

func writeEnvelope(path string, env *Envelope) error {
	var buf bytes.Buffer
	if err := env.Save(&buf); err != nil {
		return err
	}
	return writeFileAtomic(path, buf.Bytes())
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write document: %w", err)
	}
	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to set permissions: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write document: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to store document: %w", err)
	}
	return nil
}

package session

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/vocdoni/gofirma/qessign/internal/model"
	"github.com/vocdoni/gofirma/qessign/internal/signerr"
)

var sessionsBucket = []byte("sessions")

// BoltStore keeps records in a bbolt file, so pending attempts survive a
// restart of a single-host deployment.
type BoltStore struct {
	db    *bolt.DB
	codec codec
	now   func() time.Time
}

func OpenBoltStore(path string, secret []byte) (*BoltStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open session db: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(sessionsBucket)
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create session bucket: %w", err)
	}
	return &BoltStore{db: db, codec: codec{secret: secret}, now: time.Now}, nil
}

// Values are an 8 byte big-endian expiry in unix seconds followed by the
// encoded record.
func (s *BoltStore) Put(ctx context.Context, p *model.PendingSignature) error {
	now := s.now()
	if _, err := ttl(p, now); err != nil {
		return err
	}
	data, err := s.codec.encode(p)
	if err != nil {
		return err
	}
	value := make([]byte, 8, 8+len(data))
	binary.BigEndian.PutUint64(value, uint64(p.ExpiresAt.Unix()))
	value = append(value, data...)

	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(sessionsBucket)
		if err := s.sweep(b, now); err != nil {
			return err
		}
		return b.Put([]byte(key(p.Authorization.State)), value)
	})
}

// sweep drops expired records.
func (s *BoltStore) sweep(b *bolt.Bucket, now time.Time) error {
	var stale [][]byte
	if err := b.ForEach(func(k, v []byte) error {
		if len(v) < 8 || now.Unix() > int64(binary.BigEndian.Uint64(v[:8])) {
			stale = append(stale, append([]byte(nil), k...))
		}
		return nil
	}); err != nil {
		return err
	}
	for _, k := range stale {
		if err := b.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

func (s *BoltStore) Take(ctx context.Context, state string) (*model.PendingSignature, error) {
	var data []byte
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(sessionsBucket)
		k := []byte(key(state))
		v := b.Get(k)
		if v == nil {
			return signerr.ErrSessionNotFound
		}
		if len(v) > 8 {
			// v is only valid for the life of the transaction.
			data = append([]byte(nil), v[8:]...)
		}
		return b.Delete(k)
	})
	if err != nil {
		return nil, err
	}
	p, err := s.codec.decode(data)
	if err != nil {
		return nil, err
	}
	return checkTaken(p, s.now())
}

func (s *BoltStore) Delete(ctx context.Context, state string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(sessionsBucket).Delete([]byte(key(state)))
	})
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

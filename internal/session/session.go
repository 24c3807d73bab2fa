// Package session keeps pending signing attempts between the redirect to the
// provider and the callback. Records are keyed by the authorization state and
// can be taken exactly once.
package session

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/vocdoni/gofirma/qessign/internal/model"
	"github.com/vocdoni/gofirma/qessign/internal/signerr"
)

// DefaultTTL bounds how long a user may stay at the provider.
const DefaultTTL = 10 * time.Minute

// Store persists PendingSignature records.
type Store interface {
	// Put stores p under its authorization state until p.ExpiresAt.
	Put(ctx context.Context, p *model.PendingSignature) error
	// Take atomically reads and removes the record for state. Unknown and
	// already taken records yield signerr.ErrSessionNotFound. A record past
	// its expiry is returned together with signerr.ErrSessionExpired.
	Take(ctx context.Context, state string) (*model.PendingSignature, error)
	Delete(ctx context.Context, state string) error
	Close() error
}

// key derives the storage key from state so the raw value is never written
// to disk or to a shared cache.
func key(state string) string {
	sum := sha256.Sum256([]byte(state))
	return hex.EncodeToString(sum[:])
}

// codec serializes records, sealing them when a secret is configured.
type codec struct {
	secret []byte
}

func (c codec) encode(p *model.PendingSignature) ([]byte, error) {
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pending signature: %w", err)
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to encode session: %w", err)
	}
	if len(c.secret) == 0 {
		return data, nil
	}
	return seal(data, c.secret)
}

func (c codec) decode(data []byte) (*model.PendingSignature, error) {
	if len(c.secret) > 0 {
		var err error
		if data, err = open(data, c.secret); err != nil {
			return nil, fmt.Errorf("%w: record cannot be opened", signerr.ErrSessionNotFound)
		}
	}
	var p model.PendingSignature
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("%w: record cannot be decoded", signerr.ErrSessionNotFound)
	}
	return &p, nil
}

// ttl returns how long p should be kept from now.
func ttl(p *model.PendingSignature, now time.Time) (time.Duration, error) {
	if p.ExpiresAt.IsZero() {
		return 0, errors.New("pending signature has no expiry")
	}
	d := p.ExpiresAt.Sub(now)
	if d <= 0 {
		return 0, errors.New("pending signature already expired")
	}
	return d, nil
}

// checkTaken applies the expiry rule to a record that was just removed.
func checkTaken(p *model.PendingSignature, now time.Time) (*model.PendingSignature, error) {
	if p.Expired(now) {
		return p, signerr.ErrSessionExpired
	}
	return p, nil
}

//go:build darwin && cgo

package clientcert

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/github/smimesign/certstore"
)

// ListOSIdentities returns the keychain identities usable as a client
// certificate: currently valid and with an accessible private key.
func ListOSIdentities() ([]*Identity, error) {
	st, err := certstore.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open system store: %w", err)
	}
	defer st.Close()

	identities, err := st.Identities()
	if err != nil {
		return nil, fmt.Errorf("failed to list system identities: %w", err)
	}
	now := time.Now()
	var out []*Identity
	for _, id := range identities {
		cert, err := id.Certificate()
		if err != nil || cert == nil {
			continue
		}
		if now.After(cert.NotAfter) || now.Before(cert.NotBefore) {
			continue
		}
		signer, err := id.Signer()
		if err != nil || signer == nil {
			continue
		}
		out = append(out, &Identity{
			Certificate: cert,
			Signer:      signer,
			Source:      "os:" + FingerprintHex(cert),
		})
	}
	return out, nil
}

// LoadOSIdentity finds the identity whose certificate has the given SHA-256
// fingerprint in the macOS keychain.
func LoadOSIdentity(fingerprintHex string) (*Identity, error) {
	target, err := hex.DecodeString(strings.ToLower(strings.ReplaceAll(fingerprintHex, ":", "")))
	if err != nil || len(target) != sha256.Size {
		return nil, fmt.Errorf("invalid OS store fingerprint %q", fingerprintHex)
	}

	st, err := certstore.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open system store: %w", err)
	}
	defer st.Close()

	identities, err := st.Identities()
	if err != nil {
		return nil, fmt.Errorf("failed to list system identities: %w", err)
	}

	for _, id := range identities {
		cert, certErr := id.Certificate()
		if certErr != nil || cert == nil {
			continue
		}
		fp := sha256.Sum256(cert.Raw)
		if !bytes.Equal(fp[:], target) {
			continue
		}
		signer, signErr := id.Signer()
		if signErr != nil || signer == nil {
			if signErr == nil {
				signErr = fmt.Errorf("signer is nil")
			}
			return nil, fmt.Errorf("failed to access signer from system store: %w", signErr)
		}
		chain, _ := id.CertificateChain()
		var intermediates = chain
		if len(chain) > 0 && chain[0].Equal(cert) {
			intermediates = chain[1:]
		}
		return &Identity{
			Certificate: cert,
			Chain:       intermediates,
			Signer:      signer,
			Source:      "os:" + hex.EncodeToString(fp[:]),
		}, nil
	}

	return nil, fmt.Errorf("%w: no system certificate with fingerprint %s", ErrNotFound, fingerprintHex)
}

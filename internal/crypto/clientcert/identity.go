// Package clientcert loads the client identity presented to the signing
// provider's mutually authenticated endpoints.
package clientcert

import (
	"crypto"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

// Identity is a client certificate with its private key handle.
type Identity struct {
	Certificate *x509.Certificate
	Chain       []*x509.Certificate
	Signer      crypto.Signer
	// Source describes where the identity was loaded from, for logs.
	Source string
}

// Fingerprint returns the SHA-256 fingerprint for a certificate.
func Fingerprint(cert *x509.Certificate) [32]byte {
	return sha256.Sum256(cert.Raw)
}

// FingerprintHex is the lowercase hex form of Fingerprint.
func FingerprintHex(cert *x509.Certificate) string {
	fp := Fingerprint(cert)
	return hex.EncodeToString(fp[:])
}

// TLSCertificate converts the identity for use in a tls.Config. The signer
// is used as the private key, so hardware-backed keys never leave the token.
func (id *Identity) TLSCertificate() (*tls.Certificate, error) {
	if id == nil || id.Certificate == nil {
		return nil, errors.New("identity has no certificate")
	}
	if id.Signer == nil {
		return nil, errors.New("identity has no private key")
	}
	chain := make([][]byte, 0, 1+len(id.Chain))
	chain = append(chain, id.Certificate.Raw)
	for _, c := range id.Chain {
		chain = append(chain, c.Raw)
	}
	return &tls.Certificate{
		Certificate: chain,
		PrivateKey:  id.Signer,
		Leaf:        id.Certificate,
	}, nil
}

// Validate checks that the certificate is within its validity window at now
// and that the signer matches the certificate key.
func (id *Identity) Validate(now time.Time) error {
	if id.Certificate == nil || id.Signer == nil {
		return errors.New("incomplete identity")
	}
	if now.Before(id.Certificate.NotBefore) {
		return fmt.Errorf("client certificate not valid before %s", id.Certificate.NotBefore.Format(time.RFC3339))
	}
	if now.After(id.Certificate.NotAfter) {
		return fmt.Errorf("client certificate expired at %s", id.Certificate.NotAfter.Format(time.RFC3339))
	}
	type equaler interface {
		Equal(crypto.PublicKey) bool
	}
	pub, ok := id.Signer.Public().(equaler)
	if ok && !pub.Equal(id.Certificate.PublicKey) {
		return errors.New("private key does not match client certificate")
	}
	return nil
}

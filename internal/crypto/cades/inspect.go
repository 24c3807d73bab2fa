package cades

import (
	"bytes"
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/x509"
	"errors"
	"fmt"
	"time"

	"github.com/smallstep/pkcs7"

	"github.com/vocdoni/gofirma/qessign/internal/digest"
)

// ErrDigestMismatch means the signature does not cover the submitted digest.
var ErrDigestMismatch = errors.New("signature message digest does not match the submitted digest")

// Signature is a parsed CMS SignedData returned by the signing service.
type Signature struct {
	Signer       *x509.Certificate
	Certificates []*x509.Certificate
	// MessageDigest is nil when the signer info has no signed attributes.
	MessageDigest []byte
	SigningTime   time.Time
	Hash          crypto.Hash

	p7 *pkcs7.PKCS7
}

// Inspect parses der and locates the single signer certificate.
func Inspect(der []byte) (*Signature, error) {
	p7, err := pkcs7.Parse(der)
	if err != nil {
		return nil, fmt.Errorf("failed to parse CMS: %w", err)
	}
	if len(p7.Signers) != 1 {
		return nil, fmt.Errorf("expected exactly one signer, found %d", len(p7.Signers))
	}
	signer := p7.GetOnlySigner()
	if signer == nil {
		return nil, errors.New("signer certificate not included in CMS")
	}

	si := p7.Signers[0]
	alg, ok := digest.ByOID(si.DigestAlgorithm.Algorithm.String())
	if !ok {
		return nil, fmt.Errorf("unsupported digest algorithm %s", si.DigestAlgorithm.Algorithm)
	}

	sig := &Signature{
		Signer:       signer,
		Certificates: p7.Certificates,
		Hash:         alg.Hash,
		p7:           p7,
	}
	if len(si.AuthenticatedAttributes) > 0 {
		var md []byte
		if err := p7.UnmarshalSignedAttribute(pkcs7.OIDAttributeMessageDigest, &md); err != nil {
			return nil, fmt.Errorf("missing messageDigest attribute: %w", err)
		}
		sig.MessageDigest = md
		var st time.Time
		if err := p7.UnmarshalSignedAttribute(pkcs7.OIDAttributeSigningTime, &st); err == nil {
			sig.SigningTime = st
		}
	}
	return sig, nil
}

// Chain returns the certificates other than the signer.
func (s *Signature) Chain() []*x509.Certificate {
	var out []*x509.Certificate
	for _, c := range s.Certificates {
		if !c.Equal(s.Signer) {
			out = append(out, c)
		}
	}
	return out
}

// VerifyDigest checks that the signature covers digest and that the signer's
// key produced it.
func (s *Signature) VerifyDigest(digest []byte) error {
	si := s.p7.Signers[0]

	signed := digest
	if len(si.AuthenticatedAttributes) > 0 {
		if !bytes.Equal(s.MessageDigest, digest) {
			return ErrDigestMismatch
		}
		attrs := make([]attribute, len(si.AuthenticatedAttributes))
		for i, a := range si.AuthenticatedAttributes {
			attrs[i] = attribute{Type: a.Type, Value: a.Value}
		}
		der, err := marshalSignedAttributes(attrs)
		if err != nil {
			return fmt.Errorf("failed to marshal signed attributes: %w", err)
		}
		h := s.Hash.New()
		h.Write(der)
		signed = h.Sum(nil)
	}

	switch pub := s.Signer.PublicKey.(type) {
	case *rsa.PublicKey:
		if si.DigestEncryptionAlgorithm.Algorithm.Equal(oidRSASSAPSS) {
			return rsa.VerifyPSS(pub, s.Hash, signed, si.EncryptedDigest, &rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthAuto})
		}
		return rsa.VerifyPKCS1v15(pub, s.Hash, signed, si.EncryptedDigest)
	case *ecdsa.PublicKey:
		if !ecdsa.VerifyASN1(pub, signed, si.EncryptedDigest) {
			return errors.New("ecdsa signature verification failed")
		}
		return nil
	}
	return fmt.Errorf("unsupported signer key type %T", s.Signer.PublicKey)
}

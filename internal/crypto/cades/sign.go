package cades

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"errors"
	"fmt"
	"time"

	"github.com/smallstep/pkcs7"
)

type SignOpts struct {
	SigningTime time.Time
	// Hash is the algorithm that produced the digest. Zero means SHA-256.
	Hash crypto.Hash
}

// SignDigest creates a detached CAdES signature over a precomputed content
// digest. The messageDigest signed attribute carries digest unchanged, which
// is how a remote signing service signs documents it never sees.
func SignDigest(signer crypto.Signer, cert *x509.Certificate, chain []*x509.Certificate, digest []byte, opts SignOpts) ([]byte, error) {
	if signer == nil || cert == nil {
		return nil, errors.New("signer and certificate are required")
	}
	h := opts.Hash
	if h == 0 {
		h = crypto.SHA256
	}
	if len(digest) != h.Size() {
		return nil, fmt.Errorf("digest length %d does not match %v", len(digest), h)
	}
	digestAlg, err := NewAlgorithmIdentifier(h)
	if err != nil {
		return nil, err
	}
	encAlg, err := encryptionAlgorithm(signer.Public(), h)
	if err != nil {
		return nil, err
	}
	signingTime := opts.SigningTime
	if signingTime.IsZero() {
		signingTime = time.Now()
	}

	essCert, err := signingCertificateV2(cert, h)
	if err != nil {
		return nil, err
	}

	var attrs []attribute
	for _, a := range []struct {
		t asn1.ObjectIdentifier
		v any
	}{
		{pkcs7.OIDAttributeContentType, pkcs7.OIDData},
		{pkcs7.OIDAttributeMessageDigest, digest},
		{pkcs7.OIDAttributeSigningTime, signingTime.UTC()},
		{OidSigningCertificateV2, essCert},
	} {
		attr, err := newAttribute(a.t, a.v)
		if err != nil {
			return nil, err
		}
		attrs = append(attrs, attr)
	}
	if err := sortAttributes(attrs); err != nil {
		return nil, fmt.Errorf("failed to sort signed attributes: %w", err)
	}

	signedBytes, err := marshalSignedAttributes(attrs)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal signed attributes: %w", err)
	}
	hasher := h.New()
	hasher.Write(signedBytes)
	signature, err := signer.Sign(rand.Reader, hasher.Sum(nil), h)
	if err != nil {
		return nil, fmt.Errorf("failed to sign attributes: %w", err)
	}

	certs := append([]*x509.Certificate{cert}, chain...)
	sd := signedData{
		Version:                    1,
		DigestAlgorithmIdentifiers: []pkix.AlgorithmIdentifier{digestAlg},
		ContentInfo:                contentInfo{ContentType: pkcs7.OIDData},
		Certificates:               rawCertificates(certs),
		SignerInfos: []signerInfo{{
			Version: 1,
			IssuerAndSerialNumber: issuerAndSerial{
				IssuerName:   asn1.RawValue{FullBytes: cert.RawIssuer},
				SerialNumber: cert.SerialNumber,
			},
			DigestAlgorithm:           digestAlg,
			AuthenticatedAttributes:   attrs,
			DigestEncryptionAlgorithm: encAlg,
			EncryptedDigest:           signature,
		}},
	}
	inner, err := asn1.Marshal(sd)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal signed data: %w", err)
	}
	return asn1.Marshal(contentInfo{
		ContentType: pkcs7.OIDSignedData,
		Content:     asn1.RawValue{Class: asn1.ClassContextSpecific, Tag: 0, Bytes: inner, IsCompound: true},
	})
}

func encryptionAlgorithm(pub crypto.PublicKey, h crypto.Hash) (pkix.AlgorithmIdentifier, error) {
	switch pub.(type) {
	case *rsa.PublicKey:
		return pkix.AlgorithmIdentifier{Algorithm: oidRSAEncryption, Parameters: asn1.NullRawValue}, nil
	case *ecdsa.PublicKey:
		switch h {
		case crypto.SHA256:
			return pkix.AlgorithmIdentifier{Algorithm: oidECDSAWithSHA256}, nil
		case crypto.SHA384:
			return pkix.AlgorithmIdentifier{Algorithm: oidECDSAWithSHA384}, nil
		case crypto.SHA512:
			return pkix.AlgorithmIdentifier{Algorithm: oidECDSAWithSHA512}, nil
		}
	}
	return pkix.AlgorithmIdentifier{}, fmt.Errorf("unsupported key type %T", pub)
}

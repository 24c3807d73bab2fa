package cades

import (
	"crypto"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"fmt"
	"math/big"
)

var (
	// id-aa-signingCertificateV2
	OidSigningCertificateV2 = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 16, 2, 47}

	OidSHA256 = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 1}
	OidSHA384 = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 2}
	OidSHA512 = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 3}

	oidRSAEncryption   = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 1}
	oidRSASSAPSS       = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 10}
	oidECDSAWithSHA256 = asn1.ObjectIdentifier{1, 2, 840, 10045, 4, 3, 2}
	oidECDSAWithSHA384 = asn1.ObjectIdentifier{1, 2, 840, 10045, 4, 3, 3}
	oidECDSAWithSHA512 = asn1.ObjectIdentifier{1, 2, 840, 10045, 4, 3, 4}
)

type SigningCertificateV2 struct {
	Certs    []ESSCertIDv2
	Policies []PolicyInformation `asn1:"optional"`
}

type ESSCertIDv2 struct {
	HashAlgorithm pkix.AlgorithmIdentifier `asn1:"default:sha256"`
	CertHash      []byte
	IssuerSerial  IssuerSerial `asn1:"optional"`
}

type IssuerSerial struct {
	Issuer asn1.RawValue
	Serial *big.Int
}

type PolicyInformation struct {
	PolicyIdentifier asn1.ObjectIdentifier
	PolicyQualifiers []interface{} `asn1:"optional"`
}

// NewAlgorithmIdentifier returns the AlgorithmIdentifier of h with explicit
// NULL parameters.
func NewAlgorithmIdentifier(h crypto.Hash) (pkix.AlgorithmIdentifier, error) {
	oid, err := hashOID(h)
	if err != nil {
		return pkix.AlgorithmIdentifier{}, err
	}
	return pkix.AlgorithmIdentifier{Algorithm: oid, Parameters: asn1.NullRawValue}, nil
}

func hashOID(h crypto.Hash) (asn1.ObjectIdentifier, error) {
	switch h {
	case crypto.SHA256:
		return OidSHA256, nil
	case crypto.SHA384:
		return OidSHA384, nil
	case crypto.SHA512:
		return OidSHA512, nil
	}
	return nil, fmt.Errorf("unsupported hash %v", h)
}

// signingCertificateV2 builds the ESS signing-certificate-v2 attribute value
// binding cert to the signature.
func signingCertificateV2(cert *x509.Certificate, h crypto.Hash) (SigningCertificateV2, error) {
	alg, err := NewAlgorithmIdentifier(h)
	if err != nil {
		return SigningCertificateV2{}, err
	}
	hasher := h.New()
	hasher.Write(cert.Raw)
	return SigningCertificateV2{
		Certs: []ESSCertIDv2{{
			HashAlgorithm: alg,
			CertHash:      hasher.Sum(nil),
		}},
	}, nil
}

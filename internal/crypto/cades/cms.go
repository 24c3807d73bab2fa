package cades

import (
	"bytes"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"fmt"
	"math/big"
	"sort"
)

// The types below mirror the CMS SignedData layout so that signatures can be
// assembled around an externally computed message digest.

type contentInfo struct {
	ContentType asn1.ObjectIdentifier
	Content     asn1.RawValue `asn1:"explicit,optional,tag:0"`
}

type signedData struct {
	Version                    int
	DigestAlgorithmIdentifiers []pkix.AlgorithmIdentifier `asn1:"set"`
	ContentInfo                contentInfo
	Certificates               asn1.RawValue `asn1:"optional,tag:0"`
	SignerInfos                []signerInfo  `asn1:"set"`
}

type issuerAndSerial struct {
	IssuerName   asn1.RawValue
	SerialNumber *big.Int
}

type signerInfo struct {
	Version                   int
	IssuerAndSerialNumber     issuerAndSerial
	DigestAlgorithm           pkix.AlgorithmIdentifier
	AuthenticatedAttributes   []attribute `asn1:"optional,omitempty,tag:0"`
	DigestEncryptionAlgorithm pkix.AlgorithmIdentifier
	EncryptedDigest           []byte
}

type attribute struct {
	Type  asn1.ObjectIdentifier
	Value asn1.RawValue `asn1:"set"`
}

// newAttribute wraps the DER of value in a single-element SET.
func newAttribute(t asn1.ObjectIdentifier, value any) (attribute, error) {
	der, err := asn1.Marshal(value)
	if err != nil {
		return attribute{}, fmt.Errorf("marshal attribute %s: %w", t, err)
	}
	return attribute{
		Type:  t,
		Value: asn1.RawValue{Tag: asn1.TagSet, IsCompound: true, Bytes: der},
	}, nil
}

// sortAttributes orders attrs by their DER encoding as required for SET OF.
func sortAttributes(attrs []attribute) error {
	type keyed struct {
		der  []byte
		attr attribute
	}
	ks := make([]keyed, len(attrs))
	for i, a := range attrs {
		der, err := asn1.Marshal(a)
		if err != nil {
			return err
		}
		ks[i] = keyed{der: der, attr: a}
	}
	sort.Slice(ks, func(i, j int) bool { return bytes.Compare(ks[i].der, ks[j].der) < 0 })
	for i := range ks {
		attrs[i] = ks[i].attr
	}
	return nil
}

// marshalSignedAttributes returns the DER SET OF attrs, which is what the
// signature covers.
func marshalSignedAttributes(attrs []attribute) ([]byte, error) {
	encoded, err := asn1.Marshal(struct {
		A []attribute `asn1:"set"`
	}{A: attrs})
	if err != nil {
		return nil, err
	}
	var raw asn1.RawValue
	if _, err := asn1.Unmarshal(encoded, &raw); err != nil {
		return nil, err
	}
	return raw.Bytes, nil
}

func rawCertificates(certs []*x509.Certificate) asn1.RawValue {
	var buf bytes.Buffer
	for _, c := range certs {
		buf.Write(c.Raw)
	}
	return asn1.RawValue{Class: asn1.ClassContextSpecific, Tag: 0, IsCompound: true, Bytes: buf.Bytes()}
}

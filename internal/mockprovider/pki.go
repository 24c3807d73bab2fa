package mockprovider

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"fmt"
	"math/big"
	"sync/atomic"
	"time"

	"golang.org/x/crypto/ocsp"
)

var (
	oidGivenName = asn1.ObjectIdentifier{2, 5, 4, 42}
	oidSurname   = asn1.ObjectIdentifier{2, 5, 4, 4}
)

// PKI is a throwaway trust hierarchy: a CA that also answers OCSP and issues
// CRLs, and one qualified signer certificate.
type PKI struct {
	CA        *x509.Certificate
	CAKey     crypto.Signer
	Signer    *x509.Certificate
	SignerKey crypto.Signer

	crlNumber atomic.Int64
}

// Subject of the generated signer certificate.
type Subject struct {
	GivenName    string
	Surname      string
	SerialNumber string
	Country      string
}

func NewPKI(subject Subject) (*PKI, error) {
	caKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate CA key: %w", err)
	}
	now := time.Now()
	caTpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "Mock Qualified CA", Organization: []string{"Mock Trust Services"}, Country: []string{"CH"}},
		NotBefore:             now.Add(-time.Hour),
		NotAfter:              now.Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	ca, err := createCertificate(caTpl, caTpl, caKey, caKey)
	if err != nil {
		return nil, err
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate signer key: %w", err)
	}
	serial, err := rand.Int(rand.Reader, big.NewInt(1<<62))
	if err != nil {
		return nil, err
	}
	name := pkix.Name{
		CommonName:   subject.GivenName + " " + subject.Surname,
		SerialNumber: subject.SerialNumber,
		ExtraNames: []pkix.AttributeTypeAndValue{
			{Type: oidGivenName, Value: subject.GivenName},
			{Type: oidSurname, Value: subject.Surname},
		},
	}
	if subject.Country != "" {
		name.Country = []string{subject.Country}
	}
	signer, err := createCertificate(&x509.Certificate{
		SerialNumber: serial,
		Subject:      name,
		NotBefore:    now.Add(-time.Minute),
		NotAfter:     now.Add(time.Hour),
		KeyUsage:     x509.KeyUsageContentCommitment | x509.KeyUsageDigitalSignature,
	}, ca, key, caKey)
	if err != nil {
		return nil, err
	}

	return &PKI{CA: ca, CAKey: caKey, Signer: signer, SignerKey: key}, nil
}

func createCertificate(tpl, parent *x509.Certificate, key, parentKey crypto.Signer) (*x509.Certificate, error) {
	der, err := x509.CreateCertificate(rand.Reader, tpl, parent, key.Public(), parentKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create certificate: %w", err)
	}
	return x509.ParseCertificate(der)
}

// OCSP returns a signed "good" response for cert. The CA signs as its own
// responder and embeds its certificate.
func (p *PKI) OCSP(cert *x509.Certificate) ([]byte, error) {
	now := time.Now()
	return ocsp.CreateResponse(p.CA, p.CA, ocsp.Response{
		Status:       ocsp.Good,
		SerialNumber: cert.SerialNumber,
		ThisUpdate:   now.Add(-time.Minute),
		NextUpdate:   now.Add(time.Hour),
		Certificate:  p.CA,
	}, p.CAKey)
}

// CRL returns an empty CRL signed by the CA. Each call increments the CRL
// number.
func (p *PKI) CRL() ([]byte, error) {
	n := p.crlNumber.Add(1)
	now := time.Now()
	return x509.CreateRevocationList(rand.Reader, &x509.RevocationList{
		Number:     big.NewInt(n),
		ThisUpdate: now.Add(-time.Minute),
		NextUpdate: now.Add(time.Hour),
	}, p.CA, p.CAKey)
}

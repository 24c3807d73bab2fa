// Package evidence turns the validation information returned with a
// signature into long-term validation material and hands it to the document
// engine.
package evidence

import (
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/ocsp"

	"github.com/vocdoni/gofirma/qessign/internal/model"
	"github.com/vocdoni/gofirma/qessign/internal/signerr"
)

// Evidence is decoded validation material, in the order the provider sent it.
type Evidence struct {
	CRLs          [][]byte
	OCSPResponses []*ocsp.Response
	// Certificates holds every certificate embedded in the OCSP responses,
	// followed by the standalone certificates. Duplicates are kept.
	Certificates []*x509.Certificate
}

// Decode decodes every entry of info. It fails on the first malformed entry
// and returns nothing in that case.
func Decode(info model.ValidationInfo) (*Evidence, error) {
	ev := &Evidence{}

	for i, s := range info.CRL {
		der, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return nil, &signerr.EvidenceDecodeError{Kind: signerr.KindCRL, Index: i, Err: err}
		}
		if len(der) == 0 {
			return nil, &signerr.EvidenceDecodeError{Kind: signerr.KindCRL, Index: i, Err: errors.New("empty entry")}
		}
		ev.CRLs = append(ev.CRLs, der)
	}

	for i, s := range info.OCSP {
		der, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return nil, &signerr.EvidenceDecodeError{Kind: signerr.KindOCSP, Index: i, Err: err}
		}
		resp, err := ocsp.ParseResponse(der, nil)
		if err != nil {
			return nil, &signerr.EvidenceDecodeError{Kind: signerr.KindOCSP, Index: i, Err: err}
		}
		certs, err := embeddedCertificates(der)
		if err != nil {
			return nil, &signerr.EvidenceDecodeError{Kind: signerr.KindOCSP, Index: i, Err: err}
		}
		ev.OCSPResponses = append(ev.OCSPResponses, resp)
		ev.Certificates = append(ev.Certificates, certs...)
	}

	for i, s := range info.Certificates {
		der, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return nil, &signerr.EvidenceDecodeError{Kind: signerr.KindCertificate, Index: i, Err: err}
		}
		cert, err := x509.ParseCertificate(der)
		if err != nil {
			return nil, &signerr.EvidenceDecodeError{Kind: signerr.KindCertificate, Index: i, Err: err}
		}
		ev.Certificates = append(ev.Certificates, cert)
	}

	return ev, nil
}

type ocspResponse struct {
	Status   asn1.Enumerated
	Response struct {
		ResponseType asn1.ObjectIdentifier
		Response     []byte
	} `asn1:"explicit,tag:0,optional"`
}

type basicOCSPResponse struct {
	TBSResponseData    asn1.RawValue
	SignatureAlgorithm pkix.AlgorithmIdentifier
	Signature          asn1.BitString
	Certificates       []asn1.RawValue `asn1:"explicit,tag:0,optional"`
}

// embeddedCertificates returns all certificates of the BasicOCSPResponse
// certs field. ocsp.ParseResponse only exposes the first one.
func embeddedCertificates(der []byte) ([]*x509.Certificate, error) {
	var resp ocspResponse
	if _, err := asn1.Unmarshal(der, &resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal OCSP response: %w", err)
	}
	var basic basicOCSPResponse
	if _, err := asn1.Unmarshal(resp.Response.Response, &basic); err != nil {
		return nil, fmt.Errorf("failed to unmarshal basic OCSP response: %w", err)
	}
	certs := make([]*x509.Certificate, 0, len(basic.Certificates))
	for i, raw := range basic.Certificates {
		c, err := x509.ParseCertificate(raw.FullBytes)
		if err != nil {
			return nil, fmt.Errorf("embedded certificate %d: %w", i, err)
		}
		certs = append(certs, c)
	}
	return certs, nil
}

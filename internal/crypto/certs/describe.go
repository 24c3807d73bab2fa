package certs

import (
	"crypto/sha256"
	"crypto/x509"
	"encoding/asn1"
	"encoding/hex"
	"regexp"
	"strings"
)

var (
	oidGivenName              = asn1.ObjectIdentifier{2, 5, 4, 42}
	oidSurname                = asn1.ObjectIdentifier{2, 5, 4, 4}
	oidSerialNumber           = asn1.ObjectIdentifier{2, 5, 4, 5}
	oidOrganization           = asn1.ObjectIdentifier{2, 5, 4, 10}
	oidPseudonym              = asn1.ObjectIdentifier{2, 5, 4, 65}
	oidOrganizationIdentifier = asn1.ObjectIdentifier{2, 5, 4, 97}
)

var (
	// ETSI EN 319 412-1 natural person semantics identifier, e.g. IDCCH-123.
	rePersonID = regexp.MustCompile(`^(?:PAS|IDC|PNO|TAX|TIN)[A-Z]{2}[-:](.+)$`)
	// ETSI EN 319 412-1 legal person semantics identifier, e.g. VATCH-CHE123.
	reOrgID = regexp.MustCompile(`^(?:VAT|NTR|PSD|LEI)[A-Z]{2}[-:](.+)$`)
)

// SignerInfo is a display and audit friendly view of a signer certificate.
type SignerInfo struct {
	CommonName     string `json:"commonName,omitempty"`
	GivenName      string `json:"givenName,omitempty"`
	Surname        string `json:"surname,omitempty"`
	Pseudonym      string `json:"pseudonym,omitempty"`
	SerialNumber   string `json:"serialNumber,omitempty"`
	Organization   string `json:"organization,omitempty"`
	OrganizationID string `json:"organizationId,omitempty"`
	Country        string `json:"country,omitempty"`
	IsLegalPerson  bool   `json:"isLegalPerson"`
	Issuer         string `json:"issuer,omitempty"`
	ValidFrom      string `json:"validFrom,omitempty"`
	ValidUntil     string `json:"validUntil,omitempty"`
	Fingerprint    string `json:"fingerprint"`
}

// Describe extracts the identity attributes of cert.
func Describe(cert *x509.Certificate) SignerInfo {
	if cert == nil {
		return SignerInfo{}
	}
	sum := sha256.Sum256(cert.Raw)
	info := SignerInfo{
		CommonName: normalizeSpace(cert.Subject.CommonName),
		Issuer:     normalizeSpace(cert.Issuer.CommonName),
		ValidFrom:  cert.NotBefore.UTC().Format("2006-01-02"),
		ValidUntil: cert.NotAfter.UTC().Format("2006-01-02"),
		// Fingerprint is the hex SHA-256 of the DER certificate.
		Fingerprint: hex.EncodeToString(sum[:]),
	}
	if len(cert.Subject.Country) > 0 {
		info.Country = cert.Subject.Country[0]
	}

	for _, name := range cert.Subject.Names {
		val, ok := name.Value.(string)
		if !ok {
			continue
		}
		val = normalizeSpace(val)
		switch {
		case name.Type.Equal(oidGivenName):
			info.GivenName = val
		case name.Type.Equal(oidSurname):
			info.Surname = val
		case name.Type.Equal(oidPseudonym):
			info.Pseudonym = val
		case name.Type.Equal(oidSerialNumber):
			info.SerialNumber = stripSemantics(rePersonID, val)
		case name.Type.Equal(oidOrganization):
			info.Organization = val
		case name.Type.Equal(oidOrganizationIdentifier):
			info.OrganizationID = stripSemantics(reOrgID, strings.ToUpper(val))
		}
	}

	hasPerson := info.GivenName != "" || info.Surname != "" || info.Pseudonym != ""
	info.IsLegalPerson = !hasPerson && (info.OrganizationID != "" || info.Organization != "")

	// Natural person certificates sometimes carry the issuing organization.
	if hasPerson && info.OrganizationID == "" {
		info.Organization = ""
	}
	return info
}

// DisplayName returns the best human readable name.
func (s SignerInfo) DisplayName() string {
	switch {
	case s.GivenName != "" || s.Surname != "":
		return strings.TrimSpace(s.GivenName + " " + s.Surname)
	case s.Pseudonym != "":
		return s.Pseudonym
	case s.CommonName != "":
		return s.CommonName
	case s.Organization != "":
		return s.Organization
	}
	return s.Fingerprint
}

func stripSemantics(re *regexp.Regexp, v string) string {
	if m := re.FindStringSubmatch(v); len(m) > 1 {
		return m[1]
	}
	return v
}

func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(strings.TrimSpace(s)), " ")
}

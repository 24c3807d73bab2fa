package model

import (
	"time"
)

// Digest is a base64 encoded document digest and the OID of the algorithm that
// produced it.
type Digest struct {
	Value        string `json:"value"`
	AlgorithmOID string `json:"algorithmOid"`
}

// SigningRequest describes one document to be signed. Build it with
// NewSigningRequest; it is not modified afterwards.
type SigningRequest struct {
	Digest       string `json:"digest"`
	AlgorithmOID string `json:"algorithmOid"`
	Label        string `json:"label"`
}

// DocumentDigest is the wire form of a digest inside the PAR claims.
type DocumentDigest struct {
	Hash  string `json:"hash"`
	Label string `json:"label"`
}

// AuthorizationClaims is the claims object of a pushed authorization request.
type AuthorizationClaims struct {
	CredentialID     string           `json:"credentialID"`
	DocumentDigests  []DocumentDigest `json:"documentDigests"`
	HashAlgorithmOID string           `json:"hashAlgorithmOID"`
}

// AuthorizationState correlates the PAR call with the redirect that returns to
// us. State and Nonce are single-use random tokens.
type AuthorizationState struct {
	State       string `json:"state"`
	Nonce       string `json:"nonce"`
	RedirectURI string `json:"redirectUri"`
}

// ConformanceLevel is the AdES baseline profile requested from the provider.
type ConformanceLevel string

const (
	LevelBB   ConformanceLevel = "AdES-B-B"
	LevelBT   ConformanceLevel = "AdES-B-T"
	LevelBLT  ConformanceLevel = "AdES-B-LT"
	LevelBLTA ConformanceLevel = "AdES-B-LTA"
)

// SignatureFormat is the ETSI TS 119 432 signature format code.
type SignatureFormat string

const (
	FormatPAdES SignatureFormat = "P"
	FormatCAdES SignatureFormat = "C"
	FormatXAdES SignatureFormat = "X"
	FormatJAdES SignatureFormat = "J"
)

// PendingSignature is everything needed to finish a signing attempt after the
// user comes back from the provider. It is serialized into the session store
// and must not be held only in memory.
type PendingSignature struct {
	ID               string             `json:"id"`
	Authorization    AuthorizationState `json:"authorization"`
	Request          SigningRequest     `json:"request"`
	CredentialID     string             `json:"credentialId"`
	ConformanceLevel ConformanceLevel   `json:"conformanceLevel"`
	SignatureFormat  SignatureFormat    `json:"signatureFormat"`
	DocumentRef      string             `json:"documentRef"`
	FieldName        string             `json:"fieldName"`
	CreatedAt        time.Time          `json:"createdAt"`
	ExpiresAt        time.Time          `json:"expiresAt"`
}

// Expired reports whether the attempt is past its deadline at now.
func (p *PendingSignature) Expired(now time.Time) bool {
	return !p.ExpiresAt.IsZero() && now.After(p.ExpiresAt)
}

// SignDigests is the documentDigests object of the signDoc call.
type SignDigests struct {
	HashAlgorithmOID string   `json:"hashAlgorithmOID"`
	Hashes           []string `json:"hashes"`
}

// SignCall holds the parameters of one signDoc call.
type SignCall struct {
	SAD              string
	RequestID        string
	Digests          SignDigests
	CredentialID     string
	ConformanceLevel ConformanceLevel
	SignatureFormat  SignatureFormat
}

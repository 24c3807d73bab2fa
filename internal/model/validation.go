package model

import (
	"crypto/rand"
	"encoding/asn1"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// tokenBytes is the entropy of state and nonce values.
const tokenBytes = 32

// NewSigningRequest validates and builds a SigningRequest.
func NewSigningRequest(d Digest, label string) (SigningRequest, error) {
	r := SigningRequest{Digest: d.Value, AlgorithmOID: d.AlgorithmOID, Label: label}
	if err := r.Validate(); err != nil {
		return SigningRequest{}, err
	}
	return r, nil
}

func (r SigningRequest) Validate() error {
	if r.Digest == "" {
		return errors.New("missing digest")
	}
	if _, err := base64.StdEncoding.DecodeString(r.Digest); err != nil {
		return fmt.Errorf("invalid digest base64: %w", err)
	}
	if _, err := parseOID(r.AlgorithmOID); err != nil {
		return fmt.Errorf("invalid digest algorithm OID %q: %w", r.AlgorithmOID, err)
	}
	if strings.TrimSpace(r.Label) == "" {
		return errors.New("missing label")
	}
	return nil
}

// NewAuthorizationState generates fresh state and nonce values for redirectURI.
func NewAuthorizationState(redirectURI string) (AuthorizationState, error) {
	u, err := url.Parse(redirectURI)
	if err != nil || !u.IsAbs() {
		return AuthorizationState{}, fmt.Errorf("invalid redirect uri %q", redirectURI)
	}
	state, err := RandomToken()
	if err != nil {
		return AuthorizationState{}, err
	}
	nonce, err := RandomToken()
	if err != nil {
		return AuthorizationState{}, err
	}
	return AuthorizationState{State: state, Nonce: nonce, RedirectURI: redirectURI}, nil
}

// RandomToken returns 256 bits from crypto/rand, base64url encoded without
// padding.
func RandomToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// ParseConformanceLevel accepts both "AdES-B-LT" and "B-LT" spellings.
func ParseConformanceLevel(s string) (ConformanceLevel, error) {
	v := strings.ToUpper(strings.TrimSpace(s))
	v = strings.TrimPrefix(v, "ADES-")
	switch v {
	case "B-B":
		return LevelBB, nil
	case "B-T":
		return LevelBT, nil
	case "B-LT":
		return LevelBLT, nil
	case "B-LTA":
		return LevelBLTA, nil
	}
	return "", fmt.Errorf("unsupported conformance level %q", s)
}

// ParseSignatureFormat accepts the one-letter code or the AdES family name.
func ParseSignatureFormat(s string) (SignatureFormat, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "P", "PADES":
		return FormatPAdES, nil
	case "C", "CADES":
		return FormatCAdES, nil
	case "X", "XADES":
		return FormatXAdES, nil
	case "J", "JADES":
		return FormatJAdES, nil
	}
	return "", fmt.Errorf("unsupported signature format %q", s)
}

// Validate checks that a pending signature can be resumed.
func (p *PendingSignature) Validate() error {
	if p.Authorization.State == "" {
		return errors.New("missing state")
	}
	if p.Authorization.Nonce == "" {
		return errors.New("missing nonce")
	}
	if err := p.Request.Validate(); err != nil {
		return fmt.Errorf("invalid signing request: %w", err)
	}
	if p.CredentialID == "" {
		return errors.New("missing credentialId")
	}
	if _, err := ParseConformanceLevel(string(p.ConformanceLevel)); err != nil {
		return err
	}
	if _, err := ParseSignatureFormat(string(p.SignatureFormat)); err != nil {
		return err
	}
	if p.DocumentRef == "" {
		return errors.New("missing documentRef")
	}
	if p.FieldName == "" {
		return errors.New("missing fieldName")
	}
	return nil
}

func parseOID(s string) (asn1.ObjectIdentifier, error) {
	if s == "" {
		return nil, errors.New("empty")
	}
	parts := strings.Split(s, ".")
	if len(parts) < 2 {
		return nil, errors.New("too few arcs")
	}
	oid := make(asn1.ObjectIdentifier, len(parts))
	for i, part := range parts {
		v, err := strconv.Atoi(part)
		if err != nil || v < 0 {
			return nil, fmt.Errorf("bad arc %q", part)
		}
		oid[i] = v
	}
	return oid, nil
}

package jwsverify

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"

	qnet "github.com/vocdoni/gofirma/qessign/internal/net"
)

type JWKS struct {
	Keys []JWK `json:"keys"`
}

type JWK struct {
	KID string `json:"kid"`
	KTY string `json:"kty"`
	ALG string `json:"alg"`
	USE string `json:"use"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// FetchJWKS downloads the key set published by the broker.
func FetchJWKS(ctx context.Context, doer qnet.Doer, url string) (*JWKS, error) {
	resp, err := qnet.Send(ctx, doer, http.MethodGet, url, "", "application/json", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch JWKS: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("JWKS fetch failed with status: %d", resp.StatusCode)
	}

	var jwks JWKS
	if err := json.Unmarshal(resp.Body, &jwks); err != nil {
		return nil, fmt.Errorf("failed to decode JWKS: %w", err)
	}
	return &jwks, nil
}

// Key returns the key with kid, or the only key when kid is empty.
func (s *JWKS) Key(kid string) (*JWK, bool) {
	if kid == "" && len(s.Keys) == 1 {
		return &s.Keys[0], true
	}
	for i := range s.Keys {
		if s.Keys[i].KID == kid {
			return &s.Keys[i], true
		}
	}
	return nil, false
}

func (jwk *JWK) ToPublicKey() (*rsa.PublicKey, error) {
	if jwk.KTY != "RSA" {
		return nil, fmt.Errorf("unsupported key type: %s", jwk.KTY)
	}

	nBytes, err := base64.RawURLEncoding.DecodeString(jwk.N)
	if err != nil {
		return nil, fmt.Errorf("invalid modulus: %w", err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(jwk.E)
	if err != nil {
		return nil, fmt.Errorf("invalid exponent: %w", err)
	}

	var n big.Int
	n.SetBytes(nBytes)

	var e int
	for _, b := range eBytes {
		e = e<<8 | int(b)
	}

	return &rsa.PublicKey{
		N: &n,
		E: e,
	}, nil
}

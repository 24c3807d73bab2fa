package jwsverify

import (
	"context"
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	qnet "github.com/vocdoni/gofirma/qessign/internal/net"
	"github.com/vocdoni/gofirma/qessign/internal/signerr"
)

// Claims are the id_token claims this service checks.
type Claims struct {
	Issuer   string   `json:"iss"`
	Subject  string   `json:"sub"`
	Audience Audience `json:"aud"`
	Expiry   int64    `json:"exp"`
	IssuedAt int64    `json:"iat"`
	Nonce    string   `json:"nonce"`
}

// Audience decodes the aud claim, which may be a string or an array.
type Audience []string

func (a *Audience) UnmarshalJSON(data []byte) error {
	var one string
	if err := json.Unmarshal(data, &one); err == nil {
		*a = Audience{one}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return fmt.Errorf("invalid aud claim: %w", err)
	}
	*a = many
	return nil
}

func (a Audience) Contains(v string) bool {
	for _, s := range a {
		if s == v {
			return true
		}
	}
	return false
}

// Verifier checks RS256 id_tokens against the broker's JWKS.
type Verifier struct {
	JWKSURL  string
	ClientID string
	Doer     qnet.Doer
	Logger   *zap.Logger
	// Leeway tolerates clock skew on exp.
	Leeway time.Duration
	Now    func() time.Time
}

// VerifyIDToken validates token and binds it to expectedNonce. A nonce that
// does not match is reported as a state mismatch.
func (v *Verifier) VerifyIDToken(ctx context.Context, token, expectedNonce string) (*Claims, error) {
	logger := v.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := time.Now
	if v.Now != nil {
		now = v.Now
	}

	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, errors.New("invalid JWS format")
	}
	headerB64, payloadB64, signatureB64 := parts[0], parts[1], parts[2]

	headerBytes, err := base64.RawURLEncoding.DecodeString(headerB64)
	if err != nil {
		return nil, fmt.Errorf("invalid JWS header encoding: %w", err)
	}
	var header struct {
		Alg string `json:"alg"`
		Kid string `json:"kid"`
	}
	if err := json.Unmarshal(headerBytes, &header); err != nil {
		return nil, fmt.Errorf("invalid JWS header json: %w", err)
	}
	if header.Alg != "RS256" {
		return nil, fmt.Errorf("unsupported algorithm: %q", header.Alg)
	}

	jwks, err := FetchJWKS(ctx, v.Doer, v.JWKSURL)
	if err != nil {
		return nil, err
	}
	jwk, ok := jwks.Key(header.Kid)
	if !ok {
		logger.Debug("id_token key not found", zap.String("kid", header.Kid))
		return nil, fmt.Errorf("key not found: %s", header.Kid)
	}
	pubKey, err := jwk.ToPublicKey()
	if err != nil {
		return nil, fmt.Errorf("invalid key: %w", err)
	}

	signatureBytes, err := base64.RawURLEncoding.DecodeString(signatureB64)
	if err != nil {
		return nil, fmt.Errorf("invalid JWS signature encoding: %w", err)
	}
	hashed := sha256.Sum256([]byte(headerB64 + "." + payloadB64))
	if err := rsa.VerifyPKCS1v15(pubKey, crypto.SHA256, hashed[:], signatureBytes); err != nil {
		return nil, fmt.Errorf("signature verification failed: %w", err)
	}

	payloadBytes, err := base64.RawURLEncoding.DecodeString(payloadB64)
	if err != nil {
		return nil, fmt.Errorf("invalid JWS payload encoding: %w", err)
	}
	var claims Claims
	if err := json.Unmarshal(payloadBytes, &claims); err != nil {
		return nil, fmt.Errorf("invalid id_token claims: %w", err)
	}

	if claims.Expiry != 0 && now().After(time.Unix(claims.Expiry, 0).Add(v.Leeway)) {
		return nil, errors.New("id_token expired")
	}
	if v.ClientID != "" && !claims.Audience.Contains(v.ClientID) {
		return nil, fmt.Errorf("id_token audience %v does not include client", []string(claims.Audience))
	}
	if subtle.ConstantTimeCompare([]byte(claims.Nonce), []byte(expectedNonce)) != 1 {
		return nil, &signerr.StateMismatchError{}
	}

	logger.Debug("id_token verified", zap.String("kid", header.Kid), zap.String("iss", claims.Issuer))
	return &claims, nil
}

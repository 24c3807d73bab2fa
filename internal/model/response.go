package model

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// TokenGrant is the token endpoint response. AccessToken is the SAD for the
// following sign call; the grant is never persisted.
type TokenGrant struct {
	AccessToken  string  `json:"access_token"`
	TokenType    string  `json:"token_type"`
	ExpiresIn    Seconds `json:"expires_in"`
	Scope        string  `json:"scope"`
	SessionState string  `json:"session_state,omitempty"`
	IDToken      string  `json:"id_token,omitempty"`

	ReceivedAt time.Time `json:"-"`
}

// Expiry returns the time the grant stops being usable, or the zero time when
// the provider did not say.
func (g *TokenGrant) Expiry() time.Time {
	if g.ExpiresIn <= 0 || g.ReceivedAt.IsZero() {
		return time.Time{}
	}
	return g.ReceivedAt.Add(time.Duration(g.ExpiresIn) * time.Second)
}

// Seconds decodes a JSON number or a numeric string.
type Seconds int64

func (s *Seconds) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "null" || raw == `""` {
		*s = 0
		return nil
	}
	raw = strings.Trim(raw, `"`)
	n, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fmt.Errorf("invalid seconds value %s: %w", string(data), err)
	}
	*s = Seconds(n)
	return nil
}

func (s Seconds) MarshalJSON() ([]byte, error) {
	return json.Marshal(int64(s))
}

// ValidationInfo is the revocation evidence returned together with the
// signature. Entries are base64 DER, in the order the provider sent them.
type ValidationInfo struct {
	OCSP         []string `json:"ocsp,omitempty"`
	CRL          []string `json:"crl,omitempty"`
	Certificates []string `json:"certificates,omitempty"`
}

// Empty reports whether there is no evidence at all.
func (v ValidationInfo) Empty() bool {
	return len(v.OCSP) == 0 && len(v.CRL) == 0 && len(v.Certificates) == 0
}

// SignResult is the signDoc response. SignatureObject entries correspond
// positionally to the submitted hashes.
type SignResult struct {
	ResponseID      string         `json:"responseID,omitempty"`
	SignatureObject []string       `json:"SignatureObject"`
	ValidationInfo  ValidationInfo `json:"validationInfo"`
}

// SignatureValue returns the base64 signature for the i-th submitted digest.
func (r *SignResult) SignatureValue(i int) (string, error) {
	if i < 0 || i >= len(r.SignatureObject) {
		return "", fmt.Errorf("no signature object at position %d (have %d)", i, len(r.SignatureObject))
	}
	return r.SignatureObject[i], nil
}

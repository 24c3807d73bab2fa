package model

import (
	"encoding/base64"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sha256OID = "2.16.840.1.101.3.4.2.1"

func TestNewSigningRequest(t *testing.T) {
	r, err := NewSigningRequest(Digest{Value: "abc123==", AlgorithmOID: sha256OID}, "report.pdf")
	require.NoError(t, err)
	assert.Equal(t, "abc123==", r.Digest)
	assert.Equal(t, "report.pdf", r.Label)

	_, err = NewSigningRequest(Digest{Value: "not base64!", AlgorithmOID: sha256OID}, "x")
	assert.Error(t, err)
	_, err = NewSigningRequest(Digest{Value: "abc123==", AlgorithmOID: "sha256"}, "x")
	assert.Error(t, err)
	_, err = NewSigningRequest(Digest{Value: "abc123==", AlgorithmOID: sha256OID}, "  ")
	assert.Error(t, err)
}

func TestAuthorizationStateIsRandom(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 64; i++ {
		a, err := NewAuthorizationState("https://app.example.com/sign/callback")
		require.NoError(t, err)
		assert.NotEqual(t, a.State, a.Nonce)
		assert.False(t, seen[a.State], "state repeated")
		assert.False(t, seen[a.Nonce], "nonce repeated")
		seen[a.State] = true
		seen[a.Nonce] = true

		raw, err := base64.RawURLEncoding.DecodeString(a.State)
		require.NoError(t, err)
		assert.Len(t, raw, tokenBytes)
	}

	_, err := NewAuthorizationState("/relative")
	assert.Error(t, err)
}

func TestParseConformanceLevel(t *testing.T) {
	for in, want := range map[string]ConformanceLevel{
		"AdES-B-LT": LevelBLT,
		"b-lta":     LevelBLTA,
		"B-B":       LevelBB,
		"ades-b-t":  LevelBT,
	} {
		got, err := ParseConformanceLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}
	_, err := ParseConformanceLevel("B-LTX")
	assert.Error(t, err)
}

func TestParseSignatureFormat(t *testing.T) {
	f, err := ParseSignatureFormat("pades")
	require.NoError(t, err)
	assert.Equal(t, FormatPAdES, f)
	_, err = ParseSignatureFormat("Z")
	assert.Error(t, err)
}

func TestTokenGrantDecoding(t *testing.T) {
	var g TokenGrant
	require.NoError(t, json.Unmarshal([]byte(`{"access_token":"T","token_type":"Bearer","expires_in":"300"}`), &g))
	assert.Equal(t, "T", g.AccessToken)
	assert.Equal(t, Seconds(300), g.ExpiresIn)

	g.ReceivedAt = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, g.ReceivedAt.Add(5*time.Minute), g.Expiry())

	var n TokenGrant
	require.NoError(t, json.Unmarshal([]byte(`{"access_token":"T","expires_in":120}`), &n))
	assert.Equal(t, Seconds(120), n.ExpiresIn)

	assert.Error(t, json.Unmarshal([]byte(`{"expires_in":"soon"}`), &n))
}

func TestSignResultSignatureValue(t *testing.T) {
	var r SignResult
	require.NoError(t, json.Unmarshal([]byte(`{"signatureObject":["c2ln"],"validationInfo":{"ocsp":["a","b"],"crl":["c"]}}`), &r))
	v, err := r.SignatureValue(0)
	require.NoError(t, err)
	assert.Equal(t, "c2ln", v)
	assert.Equal(t, []string{"a", "b"}, r.ValidationInfo.OCSP)

	_, err = r.SignatureValue(1)
	assert.Error(t, err)
}

func TestPendingSignatureValidate(t *testing.T) {
	p := PendingSignature{
		Authorization:    AuthorizationState{State: "s", Nonce: "n", RedirectURI: "https://x/cb"},
		Request:          SigningRequest{Digest: "abc123==", AlgorithmOID: sha256OID, Label: "report.pdf"},
		CredentialID:     "OnDemand-Advanced4.1-EU",
		ConformanceLevel: LevelBLT,
		SignatureFormat:  FormatPAdES,
		DocumentRef:      "doc",
		FieldName:        "Signature1",
		ExpiresAt:        time.Now().Add(time.Minute),
	}
	require.NoError(t, p.Validate())
	assert.False(t, p.Expired(time.Now()))
	assert.True(t, p.Expired(time.Now().Add(time.Hour)))

	p.CredentialID = ""
	assert.Error(t, p.Validate())
}

package rdsc

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vocdoni/gofirma/qessign/internal/model"
	"github.com/vocdoni/gofirma/qessign/internal/signerr"
)

const sha256OID = "2.16.840.1.101.3.4.2.1"

func newTestClient(t *testing.T, h http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := New(Config{
		ClientID:     "client-1",
		ClientSecret: "secret-1",
		Endpoints: Endpoints{
			AuthURL:     srv.URL + "/",
			AuthMTLSURL: srv.URL,
			SignURL:     srv.URL,
		},
	}, srv.Client(), WithClock(func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }))
	require.NoError(t, err)
	return c, srv
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}

func testAuth() model.AuthorizationState {
	return model.AuthorizationState{State: "S1", Nonce: "N1", RedirectURI: "https://app.example.com/cb"}
}

func testRequests() []model.SigningRequest {
	return []model.SigningRequest{{Digest: "abc123==", AlgorithmOID: sha256OID, Label: "report.pdf"}}
}

func TestNewRejectsIncompleteConfig(t *testing.T) {
	base := Config{ClientID: "id", ClientSecret: "s", Endpoints: DefaultEndpoints()}

	tests := []struct {
		name    string
		mutate  func(*Config)
		setting string
	}{
		{"missing client id", func(c *Config) { c.ClientID = "" }, "client_id"},
		{"missing client secret", func(c *Config) { c.ClientSecret = " " }, "client_secret"},
		{"bad auth url", func(c *Config) { c.Endpoints.AuthURL = "not a url" }, "endpoints.auth_url"},
		{"bad sign url", func(c *Config) { c.Endpoints.SignURL = "" }, "endpoints.sign_url"},
		{"bad par method", func(c *Config) { c.Endpoints.PARMethod = "PUT" }, "endpoints.par_method"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)
			_, err := New(cfg, http.DefaultClient)
			var ce *signerr.ConfigurationError
			require.True(t, errors.As(err, &ce), "got %v", err)
			assert.Equal(t, tt.setting, ce.Setting)
		})
	}

	c, err := New(base, http.DefaultClient)
	require.NoError(t, err)
	assert.Equal(t, http.MethodPost, c.Endpoints().PARMethod)
}

func TestSubmitAuthorizationRequestPayload(t *testing.T) {
	var got map[string]any
	c, srv := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, PARPath, r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		writeJSON(w, http.StatusCreated, `{"request_uri":"urn:ietf:params:oauth:request_uri:R","expires_in":60}`)
	}))

	target, err := c.SubmitAuthorizationRequest(context.Background(), testAuth(), testRequests(), "OnDemand-Advanced4.1-EU", nil)
	require.NoError(t, err)

	assert.Equal(t, "S1", got["state"])
	assert.Equal(t, "code", got["response_type"])
	assert.Equal(t, "client-1", got["client_id"])
	assert.Equal(t, "secret-1", got["client_secret"])
	assert.Equal(t, "sign ident", got["scope"])
	assert.Equal(t, "https://app.example.com/cb", got["redirect_uri"])
	assert.Equal(t, map[string]any{
		"credentialID":     "OnDemand-Advanced4.1-EU",
		"documentDigests":  []any{map[string]any{"hash": "abc123==", "label": "report.pdf"}},
		"hashAlgorithmOID": sha256OID,
	}, got["claims"])

	u, err := url.Parse(target)
	require.NoError(t, err)
	assert.Equal(t, srv.URL+AuthPath, u.Scheme+"://"+u.Host+u.Path)
	q := u.Query()
	assert.Equal(t, "client-1", q.Get("client_id"))
	assert.Equal(t, "urn:ietf:params:oauth:request_uri:R", q.Get("request_uri"))
	assert.Equal(t, "S1", q.Get("state"))
	assert.Equal(t, "N1", q.Get("nonce"))
}

func TestSubmitAuthorizationRequestRoundTripsFreshState(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusCreated, `{"request_uri":"urn:x"}`)
	}))
	for i := 0; i < 5; i++ {
		auth, err := model.NewAuthorizationState("https://app.example.com/cb")
		require.NoError(t, err)
		target, err := c.SubmitAuthorizationRequest(context.Background(), auth, testRequests(), "cred", nil)
		require.NoError(t, err)
		u, err := url.Parse(target)
		require.NoError(t, err)
		assert.Equal(t, auth.State, u.Query().Get("state"))
		assert.Equal(t, auth.Nonce, u.Query().Get("nonce"))
	}
}

func TestSubmitAuthorizationRequestAdditionalClaims(t *testing.T) {
	var got map[string]any
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		writeJSON(w, http.StatusCreated, `{"request_uri":"urn:x"}`)
	}))

	extra := map[string]any{"login_hint": "+41790000000", "scope": "openid", "state": "attacker"}
	_, err := c.SubmitAuthorizationRequest(context.Background(), testAuth(), testRequests(), "cred", extra)
	require.NoError(t, err)
	assert.Equal(t, "+41790000000", got["login_hint"])
	assert.Equal(t, "sign ident", got["scope"])
	assert.Equal(t, "S1", got["state"])
}

func TestSubmitAuthorizationRequestUsesConfiguredMethod(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		body, _ := io.ReadAll(r.Body)
		assert.Contains(t, string(body), `"response_type":"code"`)
		writeJSON(w, http.StatusCreated, `{"request_uri":"urn:x"}`)
	}))
	defer srv.Close()
	c, err := New(Config{ClientID: "id", ClientSecret: "s", Endpoints: Endpoints{
		AuthURL: srv.URL, AuthMTLSURL: srv.URL, SignURL: srv.URL, PARMethod: "get",
	}}, srv.Client())
	require.NoError(t, err)

	_, err = c.SubmitAuthorizationRequest(context.Background(), testAuth(), testRequests(), "cred", nil)
	require.NoError(t, err)
}

func TestSubmitAuthorizationRequestServerError(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusInternalServerError, `{"error":"server_error"}`)
	}))

	_, err := c.SubmitAuthorizationRequest(context.Background(), testAuth(), testRequests(), "cred", nil)
	var pe *signerr.ProtocolError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, OpPAR, pe.Op)
	assert.Equal(t, http.StatusInternalServerError, pe.StatusCode)
	assert.Contains(t, string(pe.Body), "server_error")
	assert.True(t, signerr.Restartable(err))
	assert.False(t, signerr.Retryable(err))
}

func TestSubmitAuthorizationRequestRejectsHTML(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `<html>{"request_uri":"urn:x"}</html>`)
	}))

	_, err := c.SubmitAuthorizationRequest(context.Background(), testAuth(), testRequests(), "cred", nil)
	var pe *signerr.ProtocolError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "text/html; charset=utf-8", pe.ContentType)
}

func TestSubmitAuthorizationRequestMissingRequestURI(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusCreated, `{"expires_in":60}`)
	}))
	_, err := c.SubmitAuthorizationRequest(context.Background(), testAuth(), testRequests(), "cred", nil)
	assert.True(t, IsProtocolError(err, OpPAR))
}

func TestSubmitAuthorizationRequestValidatesInput(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeJSON(w, http.StatusCreated, `{"request_uri":"urn:x"}`)
	}))

	mixed := append(testRequests(), model.SigningRequest{Digest: "ZGVm", AlgorithmOID: "2.16.840.1.101.3.4.2.3", Label: "b.pdf"})
	_, err := c.SubmitAuthorizationRequest(context.Background(), testAuth(), mixed, "cred", nil)
	var ce *signerr.ConfigurationError
	require.True(t, errors.As(err, &ce))

	_, err = c.SubmitAuthorizationRequest(context.Background(), testAuth(), nil, "cred", nil)
	assert.Error(t, err)
	_, err = c.SubmitAuthorizationRequest(context.Background(), testAuth(), testRequests(), "", nil)
	assert.Error(t, err)
	_, err = c.SubmitAuthorizationRequest(context.Background(), model.AuthorizationState{RedirectURI: "https://x"}, testRequests(), "cred", nil)
	assert.Error(t, err)

	assert.Zero(t, calls.Load())
}

func TestTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()
	c, err := New(Config{ClientID: "id", ClientSecret: "s", Endpoints: Endpoints{AuthURL: base, AuthMTLSURL: base, SignURL: base}}, http.DefaultClient)
	require.NoError(t, err)

	_, err = c.ExchangeAuthorizationCode(context.Background(), "code")
	var te *signerr.TransportError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, OpToken, te.Op)
	assert.True(t, signerr.Retryable(err))
}

func TestExchangeAuthorizationCode(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, TokenPath, r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/x-www-form-urlencoded", r.Header.Get("Content-Type"))
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "authorization_code", r.PostForm.Get("grant_type"))
		assert.Equal(t, "client-1", r.PostForm.Get("client_id"))
		assert.Equal(t, "secret-1", r.PostForm.Get("client_secret"))

		switch r.PostForm.Get("code") {
		case "C":
			writeJSON(w, http.StatusOK, `{"access_token":"T","token_type":"Bearer","expires_in":300,"scope":"sign"}`)
		default:
			writeJSON(w, http.StatusBadRequest, `{"error":"invalid_grant"}`)
		}
	}))

	grant, err := c.ExchangeAuthorizationCode(context.Background(), "C")
	require.NoError(t, err)
	assert.Equal(t, "T", grant.AccessToken)
	assert.Equal(t, model.Seconds(300), grant.ExpiresIn)
	assert.Equal(t, time.Date(2026, 3, 1, 12, 5, 0, 0, time.UTC), grant.Expiry())

	_, err = c.ExchangeAuthorizationCode(context.Background(), "used")
	var pe *signerr.ProtocolError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, http.StatusBadRequest, pe.StatusCode)
	assert.Contains(t, pe.Error(), "invalid_grant")

	_, err = c.ExchangeAuthorizationCode(context.Background(), "")
	assert.Error(t, err)
}

func TestExchangeAuthorizationCodeMissingToken(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"token_type":"Bearer"}`)
	}))
	_, err := c.ExchangeAuthorizationCode(context.Background(), "C")
	assert.True(t, IsProtocolError(err, OpToken))
}

func TestExchangeAuthorizationCodeMalformedJSON(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"access_token":`)
	}))
	_, err := c.ExchangeAuthorizationCode(context.Background(), "C")
	assert.True(t, IsProtocolError(err, OpToken))
}

func TestSign(t *testing.T) {
	var got map[string]any
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, SignPath, r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		writeJSON(w, http.StatusOK, `{"responseID":"R","SignatureObject":["c2lnMQ==","c2lnMg=="],"validationInfo":{"ocsp":["b2NzcA=="],"crl":["Y3Js"]}}`)
	}))

	res, err := c.Sign(context.Background(), model.SignCall{
		SAD:              "T",
		RequestID:        "req-1",
		CredentialID:     "cred",
		ConformanceLevel: model.LevelBLT,
		SignatureFormat:  model.FormatPAdES,
		Digests:          model.SignDigests{HashAlgorithmOID: sha256OID, Hashes: []string{"aGFzaDE=", "aGFzaDI="}},
	})
	require.NoError(t, err)

	assert.Equal(t, "T", got["SAD"])
	assert.Equal(t, "req-1", got["requestID"])
	assert.Equal(t, "cred", got["credentialID"])
	assert.Equal(t, CreationProfile, got["profile"])
	assert.Equal(t, "P", got["signatureFormat"])
	assert.Equal(t, "AdES-B-LT", got["conformanceLevel"])
	assert.Equal(t, map[string]any{"hashAlgorithmOID": sha256OID, "hashes": []any{"aGFzaDE=", "aGFzaDI="}}, got["documentDigests"])

	v, err := res.SignatureValue(1)
	require.NoError(t, err)
	assert.Equal(t, "c2lnMg==", v)
	assert.Equal(t, []string{"b2NzcA=="}, res.ValidationInfo.OCSP)
}

func TestSignRejectsShortResponse(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"SignatureObject":[]}`)
	}))
	_, err := c.Sign(context.Background(), model.SignCall{
		SAD: "T", RequestID: "r", CredentialID: "c",
		Digests: model.SignDigests{HashAlgorithmOID: sha256OID, Hashes: []string{"aA=="}},
	})
	assert.True(t, IsProtocolError(err, OpSign))
}

func TestStatusCheckedBeforeBody(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusAccepted, `{"SignatureObject":["c2ln"]}`)
	}))
	_, err := c.Sign(context.Background(), model.SignCall{
		SAD: "T", RequestID: "r", CredentialID: "c",
		Digests: model.SignDigests{HashAlgorithmOID: sha256OID, Hashes: []string{"aA=="}},
	})
	var pe *signerr.ProtocolError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, http.StatusAccepted, pe.StatusCode)
}

func TestNewRequestIDIsUnique(t *testing.T) {
	a, b := NewRequestID(), NewRequestID()
	assert.NotEqual(t, a, b)
	assert.Len(t, a, 36)
	assert.True(t, strings.Count(a, "-") == 4)
}

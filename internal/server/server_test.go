package server

import (
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vocdoni/gofirma/qessign/internal/engine"
	"github.com/vocdoni/gofirma/qessign/internal/flow"
	"github.com/vocdoni/gofirma/qessign/internal/metrics"
	"github.com/vocdoni/gofirma/qessign/internal/mockprovider"
	"github.com/vocdoni/gofirma/qessign/internal/rdsc"
	"github.com/vocdoni/gofirma/qessign/internal/session"
	"github.com/vocdoni/gofirma/qessign/internal/signerr"
)

type harness struct {
	app      *httptest.Server
	provider *mockprovider.Provider
	sessions *session.MemoryStore
	browser  *http.Client
}

func newHarness(t *testing.T, claims map[string]any) *harness {
	t.Helper()
	p, err := mockprovider.New(mockprovider.Config{ClientID: "client", ClientSecret: "secret"})
	require.NoError(t, err)
	provider := httptest.NewServer(p.Handler())
	t.Cleanup(provider.Close)

	var handler http.Handler
	app := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handler.ServeHTTP(w, r)
	}))
	t.Cleanup(app.Close)

	client, err := rdsc.New(rdsc.Config{
		ClientID:     "client",
		ClientSecret: "secret",
		Endpoints:    rdsc.Endpoints{AuthURL: provider.URL, AuthMTLSURL: provider.URL, SignURL: provider.URL},
	}, provider.Client())
	require.NoError(t, err)

	sessions := session.NewMemoryStore(nil)
	m := metrics.NewService()
	orch, err := flow.New(flow.Config{
		CredentialID:     "OnDemand-Advanced4.1-EU",
		RedirectURI:      app.URL + "/sign/callback",
		AdditionalClaims: claims,
	}, client, sessions, engine.NewMemoryStore(), flow.WithMetrics(m))
	require.NoError(t, err)

	srv, err := New(Config{Document: Document{Name: "report.pdf", Content: []byte("%PDF-1.7 report")}}, orch, m, nil)
	require.NoError(t, err)
	handler = srv.Handler()

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &harness{app: app, provider: p, sessions: sessions, browser: &http.Client{Jar: jar}}
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(b)
}

func TestSignThroughBrowser(t *testing.T) {
	h := newHarness(t, nil)

	resp, err := h.browser.Get(h.app.URL + "/")
	require.NoError(t, err)
	body := readBody(t, resp)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, `action="/sign/start"`)

	// Start, consent at the provider and callback, following redirects.
	resp, err = h.browser.Post(h.app.URL+"/sign/start", "application/x-www-form-urlencoded", nil)
	require.NoError(t, err)
	body = readBody(t, resp)
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.Contains(t, body, "successfully signed")
	assert.Contains(t, body, "Anna Muster")
	assert.Equal(t, 0, h.sessions.Len())

	i := strings.Index(body, `href="/download/`)
	require.Greater(t, i, 0)
	rest := body[i+len(`href="`):]
	link := rest[:strings.Index(rest, `"`)]

	resp, err = h.browser.Get(h.app.URL + link)
	require.NoError(t, err)
	signed := readBody(t, resp)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "attachment")
	env, err := engine.ParseEnvelope(strings.NewReader(signed))
	require.NoError(t, err)
	assert.True(t, env.Signed())
}

func TestCallbackErrorIsEscaped(t *testing.T) {
	h := newHarness(t, nil)

	q := url.Values{}
	q.Set("state", "whatever")
	q.Set("error", "access_denied")
	q.Set("error_description", `<script>alert("x")</script>`)
	resp, err := h.browser.Get(h.app.URL + "/sign/callback?" + q.Encode())
	require.NoError(t, err)
	body := readBody(t, resp)

	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.NotContains(t, body, "<script>")
	assert.Contains(t, body, "&lt;script&gt;")
	assert.Contains(t, body, `href="/restart"`)
}

func TestCallbackDeniedByProvider(t *testing.T) {
	h := newHarness(t, map[string]any{"login_hint": mockprovider.DenyHint})

	resp, err := h.browser.Post(h.app.URL+"/sign/start", "application/x-www-form-urlencoded", nil)
	require.NoError(t, err)
	body := readBody(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Contains(t, body, "cancelled")
	assert.Equal(t, 0, h.sessions.Len())
	assert.Equal(t, 0, h.provider.SignCalls())
}

func TestCallbackStateMismatch(t *testing.T) {
	h := newHarness(t, nil)
	noFollow := &http.Client{
		Jar:           h.browser.Jar,
		CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
	}

	resp, err := noFollow.Post(h.app.URL+"/sign/start", "application/x-www-form-urlencoded", nil)
	require.NoError(t, err)
	readBody(t, resp)
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, 1, h.sessions.Len())

	resp, err = h.browser.Get(h.app.URL + "/sign/callback?code=c&state=forged")
	require.NoError(t, err)
	body := readBody(t, resp)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, body, "does not belong to this session")
	assert.Equal(t, 1, h.sessions.Len())

	// Restart drops the attempt.
	resp, err = h.browser.Get(h.app.URL + "/restart")
	require.NoError(t, err)
	readBody(t, resp)
	assert.Equal(t, 0, h.sessions.Len())
}

func TestCallbackWithoutSession(t *testing.T) {
	h := newHarness(t, nil)
	resp, err := h.browser.Get(h.app.URL + "/sign/callback?code=c&state=s")
	require.NoError(t, err)
	readBody(t, resp)
	// No cookie: the state cannot belong to this browser.
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestDocumentHealthAndMetrics(t *testing.T) {
	h := newHarness(t, nil)

	resp, err := h.browser.Get(h.app.URL + "/document")
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.7 report", readBody(t, resp))
	assert.Equal(t, "application/pdf", resp.Header.Get("Content-Type"))

	resp, err = h.browser.Get(h.app.URL + "/healthz")
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"ok"}`, readBody(t, resp))

	resp, err = h.browser.Get(h.app.URL + "/metrics")
	require.NoError(t, err)
	assert.Contains(t, readBody(t, resp), "qessign_pending_sessions")

	resp, err = h.browser.Get(h.app.URL + "/download/00000000-0000-0000-0000-000000000000")
	require.NoError(t, err)
	readBody(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestNewRejectsEmptyDocument(t *testing.T) {
	_, err := New(Config{}, &flow.Orchestrator{}, nil, nil)
	assert.Error(t, err)
}

func TestErrorStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{&signerr.StateMismatchError{}, http.StatusBadRequest},
		{&signerr.ProviderDeniedError{Code: "access_denied"}, http.StatusForbidden},
		{signerr.ErrSessionNotFound, http.StatusGone},
		{&signerr.ProtocolError{Op: rdsc.OpToken, StatusCode: 400}, http.StatusBadGateway},
		{&signerr.TransportError{Op: rdsc.OpPAR, Err: io.ErrUnexpectedEOF}, http.StatusBadGateway},
		{&signerr.EvidenceDecodeError{Kind: signerr.KindOCSP}, http.StatusBadGateway},
		{signerr.Configf("server.document", "missing"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, errorStatus(tt.err), "%v", tt.err)
	}
}

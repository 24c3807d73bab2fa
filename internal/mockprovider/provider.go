// Package mockprovider is an in-process stand-in for the remote signing
// provider: pushed authorization, user consent, code exchange and signDoc.
// It backs tests and local development and is never used against real
// users.
package mockprovider

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vocdoni/gofirma/qessign/internal/crypto/cades"
	"github.com/vocdoni/gofirma/qessign/internal/digest"
	"github.com/vocdoni/gofirma/qessign/internal/model"
	"github.com/vocdoni/gofirma/qessign/internal/rdsc"
)

const (
	tokenTTL = 10 * time.Minute
	jwtKID   = "mock-broker-1"

	// DenyHint makes the consent step fail as if the user cancelled.
	DenyHint = "deny"
)

type Config struct {
	ClientID     string
	ClientSecret string
	// CredentialID is the only credential the provider signs with. Empty
	// accepts any.
	CredentialID string
	// Issuer is the iss claim of issued id_tokens.
	Issuer  string
	Subject Subject
	Logger  *zap.Logger
}

type authRequest struct {
	State       string
	RedirectURI string
	LoginHint   string
	Claims      model.AuthorizationClaims
	ExpiresAt   time.Time
}

type grant struct {
	Claims model.AuthorizationClaims
	Nonce  string
}

// Provider serves the provider endpoints. All state is kept in memory.
type Provider struct {
	cfg    Config
	pki    *PKI
	jwtKey *rsa.PrivateKey
	logger *zap.Logger

	mu       sync.Mutex
	requests map[string]*authRequest
	codes    map[string]*grant
	sads     map[string]*grant
	signs    int
}

func New(cfg Config) (*Provider, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, fmt.Errorf("mock provider requires client credentials")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Subject.GivenName == "" {
		cfg.Subject = Subject{GivenName: "Anna", Surname: "Muster", SerialNumber: "IDCCH-12345678", Country: "CH"}
	}
	pki, err := NewPKI(cfg.Subject)
	if err != nil {
		return nil, err
	}
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("failed to generate token key: %w", err)
	}
	return &Provider{
		cfg:      cfg,
		pki:      pki,
		jwtKey:   key,
		logger:   cfg.Logger,
		requests: make(map[string]*authRequest),
		codes:    make(map[string]*grant),
		sads:     make(map[string]*grant),
	}, nil
}

// PKI exposes the generated certificates.
func (p *Provider) PKI() *PKI { return p.pki }

// SignCalls returns the number of accepted signDoc calls.
func (p *Provider) SignCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.signs
}

// Handler routes every provider endpoint from a single base URL, so one
// server can act as auth, mTLS auth and signing host.
func (p *Provider) Handler() http.Handler {
	r := chi.NewRouter()
	r.Post(rdsc.PARPath, p.handlePAR)
	r.Get(rdsc.PARPath, p.handlePAR)
	r.Get(rdsc.AuthPath, p.handleAuthorize)
	r.Post(rdsc.TokenPath, p.handleToken)
	r.Post(rdsc.SignPath, p.handleSign)
	r.Get(rdsc.CertsPath, p.handleJWKS)
	return r
}

type parBody struct {
	State        string                    `json:"state"`
	ResponseType string                    `json:"response_type"`
	ClientID     string                    `json:"client_id"`
	ClientSecret string                    `json:"client_secret"`
	Scope        string                    `json:"scope"`
	RedirectURI  string                    `json:"redirect_uri"`
	LoginHint    string                    `json:"login_hint"`
	Claims       model.AuthorizationClaims `json:"claims"`
}

func (p *Provider) handlePAR(w http.ResponseWriter, r *http.Request) {
	var body parBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed body")
		return
	}
	switch {
	case body.ClientID != p.cfg.ClientID || body.ClientSecret != p.cfg.ClientSecret:
		writeError(w, http.StatusUnauthorized, "invalid_client", "unknown client")
		return
	case body.ResponseType != "code" || body.Scope != rdsc.Scope:
		writeError(w, http.StatusBadRequest, "invalid_request", "unsupported response_type or scope")
		return
	case body.State == "" || body.RedirectURI == "":
		writeError(w, http.StatusBadRequest, "invalid_request", "state and redirect_uri are required")
		return
	case len(body.Claims.DocumentDigests) == 0:
		writeError(w, http.StatusBadRequest, "invalid_request", "no document digests")
		return
	case p.cfg.CredentialID != "" && body.Claims.CredentialID != p.cfg.CredentialID:
		writeError(w, http.StatusBadRequest, "invalid_request", "unknown credential")
		return
	}
	if _, ok := digest.ByOID(body.Claims.HashAlgorithmOID); !ok {
		writeError(w, http.StatusBadRequest, "invalid_request", "unsupported hash algorithm")
		return
	}

	uri := "urn:ietf:params:oauth:request_uri:" + uuid.New().String()
	p.mu.Lock()
	p.requests[uri] = &authRequest{
		State:       body.State,
		RedirectURI: body.RedirectURI,
		LoginHint:   body.LoginHint,
		Claims:      body.Claims,
		ExpiresAt:   time.Now().Add(time.Minute),
	}
	p.mu.Unlock()

	p.logger.Debug("mock PAR accepted", zap.Int("documents", len(body.Claims.DocumentDigests)))
	writeJSON(w, http.StatusCreated, map[string]any{"request_uri": uri, "expires_in": 60})
}

// handleAuthorize stands in for the user's consent and identification: it
// immediately redirects back with a code, or with access_denied when the
// request carried DenyHint.
func (p *Provider) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	p.mu.Lock()
	req, ok := p.requests[q.Get("request_uri")]
	delete(p.requests, q.Get("request_uri"))
	p.mu.Unlock()

	if !ok || time.Now().After(req.ExpiresAt) || q.Get("client_id") != p.cfg.ClientID {
		http.Error(w, "unknown or expired request_uri", http.StatusBadRequest)
		return
	}
	if q.Get("state") != req.State {
		http.Error(w, "state does not match the pushed request", http.StatusBadRequest)
		return
	}

	back, err := url.Parse(req.RedirectURI)
	if err != nil {
		http.Error(w, "invalid redirect_uri", http.StatusBadRequest)
		return
	}
	v := back.Query()
	v.Set("state", req.State)
	if req.LoginHint == DenyHint {
		v.Set("error", "access_denied")
		v.Set("error_description", "The user cancelled the signing request.")
	} else {
		code := uuid.New().String()
		p.mu.Lock()
		p.codes[code] = &grant{Claims: req.Claims, Nonce: q.Get("nonce")}
		p.mu.Unlock()
		v.Set("code", code)
	}
	back.RawQuery = v.Encode()
	http.Redirect(w, r, back.String(), http.StatusFound)
}

func (p *Provider) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed form")
		return
	}
	if r.PostForm.Get("client_id") != p.cfg.ClientID || r.PostForm.Get("client_secret") != p.cfg.ClientSecret {
		writeError(w, http.StatusUnauthorized, "invalid_client", "unknown client")
		return
	}
	if r.PostForm.Get("grant_type") != "authorization_code" {
		writeError(w, http.StatusBadRequest, "unsupported_grant_type", "")
		return
	}

	code := r.PostForm.Get("code")
	p.mu.Lock()
	g, ok := p.codes[code]
	delete(p.codes, code)
	p.mu.Unlock()
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_grant", "Code not valid")
		return
	}

	sad := uuid.New().String()
	p.mu.Lock()
	p.sads[sad] = g
	p.mu.Unlock()

	idToken, err := p.idToken(g.Nonce)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"access_token":  sad,
		"token_type":    "Bearer",
		"expires_in":    int(tokenTTL.Seconds()),
		"scope":         rdsc.Scope,
		"session_state": uuid.New().String(),
		"id_token":      idToken,
	})
}

type signDocBody struct {
	SAD              string            `json:"SAD"`
	RequestID        string            `json:"requestID"`
	CredentialID     string            `json:"credentialID"`
	Profile          string            `json:"profile"`
	SignatureFormat  string            `json:"signatureFormat"`
	ConformanceLevel string            `json:"conformanceLevel"`
	DocumentDigests  model.SignDigests `json:"documentDigests"`
}

func (p *Provider) handleSign(w http.ResponseWriter, r *http.Request) {
	var body signDocBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed body")
		return
	}

	p.mu.Lock()
	g, ok := p.sads[body.SAD]
	delete(p.sads, body.SAD)
	p.mu.Unlock()
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid_token", "SAD not valid")
		return
	}
	if body.RequestID == "" || body.Profile != rdsc.CreationProfile {
		writeError(w, http.StatusBadRequest, "invalid_request", "missing requestID or unknown profile")
		return
	}
	if body.CredentialID != g.Claims.CredentialID {
		writeError(w, http.StatusBadRequest, "invalid_request", "credential does not match authorization")
		return
	}
	if !sameHashes(body.DocumentDigests, g.Claims) {
		writeError(w, http.StatusBadRequest, "invalid_request", "hashes do not match authorization")
		return
	}
	alg, _ := digest.ByOID(body.DocumentDigests.HashAlgorithmOID)

	out := model.SignResult{ResponseID: uuid.New().String()}
	for _, h := range body.DocumentDigests.Hashes {
		raw, err := base64.StdEncoding.DecodeString(h)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "hash is not base64")
			return
		}
		sig, err := cades.SignDigest(p.pki.SignerKey, p.pki.Signer, []*x509.Certificate{p.pki.CA}, raw, cades.SignOpts{Hash: alg.Hash})
		if err != nil {
			writeError(w, http.StatusInternalServerError, "server_error", err.Error())
			return
		}
		out.SignatureObject = append(out.SignatureObject, base64.StdEncoding.EncodeToString(sig))
	}

	info, err := p.validationInfo()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	out.ValidationInfo = info

	p.mu.Lock()
	p.signs++
	p.mu.Unlock()

	p.logger.Debug("mock signDoc", zap.String("request_id", body.RequestID), zap.Int("hashes", len(body.DocumentDigests.Hashes)))
	writeJSON(w, http.StatusOK, out)
}

func sameHashes(got model.SignDigests, want model.AuthorizationClaims) bool {
	if got.HashAlgorithmOID != want.HashAlgorithmOID || len(got.Hashes) != len(want.DocumentDigests) {
		return false
	}
	for i, h := range got.Hashes {
		if h != want.DocumentDigests[i].Hash {
			return false
		}
	}
	return true
}

// validationInfo returns one OCSP response for the signer and one CRL.
func (p *Provider) validationInfo() (model.ValidationInfo, error) {
	ocspDER, err := p.pki.OCSP(p.pki.Signer)
	if err != nil {
		return model.ValidationInfo{}, err
	}
	crlDER, err := p.pki.CRL()
	if err != nil {
		return model.ValidationInfo{}, err
	}
	return model.ValidationInfo{
		OCSP: []string{base64.StdEncoding.EncodeToString(ocspDER)},
		CRL:  []string{base64.StdEncoding.EncodeToString(crlDER)},
	}, nil
}

func (p *Provider) idToken(nonce string) (string, error) {
	now := time.Now()
	claims := map[string]any{
		"iss":   p.cfg.Issuer,
		"sub":   p.cfg.Subject.SerialNumber,
		"aud":   p.cfg.ClientID,
		"iat":   now.Unix(),
		"exp":   now.Add(tokenTTL).Unix(),
		"nonce": nonce,
	}
	header, err := json.Marshal(map[string]string{"alg": "RS256", "typ": "JWT", "kid": jwtKID})
	if err != nil {
		return "", err
	}
	payload, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}
	signing := base64.RawURLEncoding.EncodeToString(header) + "." + base64.RawURLEncoding.EncodeToString(payload)
	hashed := sha256.Sum256([]byte(signing))
	sig, err := rsa.SignPKCS1v15(rand.Reader, p.jwtKey, crypto.SHA256, hashed[:])
	if err != nil {
		return "", err
	}
	return signing + "." + base64.RawURLEncoding.EncodeToString(sig), nil
}

func (p *Provider) handleJWKS(w http.ResponseWriter, r *http.Request) {
	pub := p.jwtKey.PublicKey
	writeJSON(w, http.StatusOK, map[string]any{
		"keys": []map[string]string{{
			"kty": "RSA",
			"use": "sig",
			"alg": "RS256",
			"kid": jwtKID,
			"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
		}},
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, description string) {
	writeJSON(w, status, map[string]string{"error": code, "error_description": description})
}

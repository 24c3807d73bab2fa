package rdsc

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/vocdoni/gofirma/qessign/internal/canon"
	"github.com/vocdoni/gofirma/qessign/internal/logging"
	"github.com/vocdoni/gofirma/qessign/internal/model"
	"github.com/vocdoni/gofirma/qessign/internal/signerr"
)

type parResponse struct {
	RequestURI string `json:"request_uri"`
	ExpiresIn  int    `json:"expires_in"`
}

// SubmitAuthorizationRequest pushes the authorization request for reqs and
// returns the URL the user agent must be redirected to. All requests must use
// the same digest algorithm. additionalClaims are sent as extra top-level
// parameters (for example login_hint) and cannot override the mandatory ones.
func (c *Client) SubmitAuthorizationRequest(ctx context.Context, auth model.AuthorizationState, reqs []model.SigningRequest, credentialID string, additionalClaims map[string]any) (string, error) {
	body, err := c.authorizationPayload(auth, reqs, credentialID, additionalClaims)
	if err != nil {
		return "", err
	}

	ep := c.cfg.Endpoints
	resp, err := c.call(ctx, OpPAR, ep.PARMethod, ep.AuthMTLSURL+PARPath, mediaJSON, body, http.StatusCreated)
	if err != nil {
		return "", err
	}
	var out parResponse
	if err := decode(OpPAR, resp, &out); err != nil {
		return "", err
	}
	if strings.TrimSpace(out.RequestURI) == "" {
		return "", fmt.Errorf("%w: missing request_uri", protocolError(OpPAR, resp))
	}

	q := url.Values{}
	q.Set("client_id", c.cfg.ClientID)
	q.Set("request_uri", out.RequestURI)
	q.Set("state", auth.State)
	q.Set("nonce", auth.Nonce)

	c.logger.Debug("authorization request accepted", logging.StateField(auth.State), zap.Int("documents", len(reqs)))
	return ep.AuthURL + AuthPath + "?" + q.Encode(), nil
}

func (c *Client) authorizationPayload(auth model.AuthorizationState, reqs []model.SigningRequest, credentialID string, additionalClaims map[string]any) ([]byte, error) {
	if auth.State == "" || auth.Nonce == "" {
		return nil, errors.New("authorization state requires state and nonce")
	}
	if auth.RedirectURI == "" {
		return nil, signerr.Configf("redirect_uri", "redirect uri is required")
	}
	if strings.TrimSpace(credentialID) == "" {
		return nil, signerr.Configf("credential_id", "credential id is required")
	}
	if len(reqs) == 0 {
		return nil, errors.New("at least one signing request is required")
	}

	oid := reqs[0].AlgorithmOID
	digests := make([]model.DocumentDigest, 0, len(reqs))
	for i, r := range reqs {
		if err := r.Validate(); err != nil {
			return nil, fmt.Errorf("signing request %d: %w", i, err)
		}
		if r.AlgorithmOID != oid {
			return nil, signerr.Configf("digest_algorithm", "signing requests mix digest algorithms %s and %s", oid, r.AlgorithmOID)
		}
		digests = append(digests, model.DocumentDigest{Hash: r.Digest, Label: r.Label})
	}

	payload := canon.Merge(additionalClaims, map[string]any{
		"state":         auth.State,
		"response_type": "code",
		"client_id":     c.cfg.ClientID,
		"client_secret": c.cfg.ClientSecret,
		"scope":         Scope,
		"redirect_uri":  auth.RedirectURI,
		"claims": model.AuthorizationClaims{
			CredentialID:     credentialID,
			DocumentDigests:  digests,
			HashAlgorithmOID: oid,
		},
	})
	return canon.Encode(payload)
}

package rdsc

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/vocdoni/gofirma/qessign/internal/model"
)

// ExchangeAuthorizationCode trades the code returned on the redirect for a
// short-lived grant whose access token is the SAD of the next sign call.
func (c *Client) ExchangeAuthorizationCode(ctx context.Context, code string) (*model.TokenGrant, error) {
	if strings.TrimSpace(code) == "" {
		return nil, errors.New("authorization code is required")
	}

	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("client_id", c.cfg.ClientID)
	form.Set("client_secret", c.cfg.ClientSecret)

	resp, err := c.call(ctx, OpToken, http.MethodPost, c.cfg.Endpoints.AuthMTLSURL+TokenPath, mediaForm, []byte(form.Encode()), http.StatusOK)
	if err != nil {
		return nil, err
	}
	var grant model.TokenGrant
	if err := decode(OpToken, resp, &grant); err != nil {
		return nil, err
	}
	if grant.AccessToken == "" {
		return nil, fmt.Errorf("%w: missing access_token", protocolError(OpToken, resp))
	}
	grant.ReceivedAt = c.now()

	c.logger.Debug("token granted",
		zap.String("token_type", grant.TokenType),
		zap.Int64("expires_in", int64(grant.ExpiresIn)),
		zap.Bool("id_token", grant.IDToken != ""),
	)
	return &grant, nil
}

package rdsc

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/vocdoni/gofirma/qessign/internal/canon"
	"github.com/vocdoni/gofirma/qessign/internal/model"
)

type signDocRequest struct {
	SAD              string            `json:"SAD"`
	RequestID        string            `json:"requestID"`
	CredentialID     string            `json:"credentialID"`
	Profile          string            `json:"profile"`
	SignatureFormat  string            `json:"signatureFormat"`
	ConformanceLevel string            `json:"conformanceLevel"`
	DocumentDigests  model.SignDigests `json:"documentDigests"`
}

// Sign requests signatures over the digests in call. The result holds one
// signature object per submitted hash, in submission order.
func (c *Client) Sign(ctx context.Context, call model.SignCall) (*model.SignResult, error) {
	switch {
	case call.SAD == "":
		return nil, errors.New("sign call requires a SAD")
	case call.RequestID == "":
		return nil, errors.New("sign call requires a request id")
	case call.CredentialID == "":
		return nil, errors.New("sign call requires a credential id")
	case len(call.Digests.Hashes) == 0:
		return nil, errors.New("sign call requires at least one hash")
	case call.Digests.HashAlgorithmOID == "":
		return nil, errors.New("sign call requires a hash algorithm OID")
	}

	body, err := canon.Encode(signDocRequest{
		SAD:              call.SAD,
		RequestID:        call.RequestID,
		CredentialID:     call.CredentialID,
		Profile:          CreationProfile,
		SignatureFormat:  string(call.SignatureFormat),
		ConformanceLevel: string(call.ConformanceLevel),
		DocumentDigests:  call.Digests,
	})
	if err != nil {
		return nil, err
	}

	resp, err := c.call(ctx, OpSign, http.MethodPost, c.cfg.Endpoints.SignURL+SignPath, mediaJSON, body, http.StatusOK)
	if err != nil {
		return nil, err
	}
	var out model.SignResult
	if err := decode(OpSign, resp, &out); err != nil {
		return nil, err
	}
	if len(out.SignatureObject) < len(call.Digests.Hashes) {
		return nil, fmt.Errorf("%w: got %d signature objects for %d hashes",
			protocolError(OpSign, resp), len(out.SignatureObject), len(call.Digests.Hashes))
	}

	c.logger.Debug("document signed",
		zap.String("request_id", call.RequestID),
		zap.String("response_id", out.ResponseID),
		zap.Int("ocsp", len(out.ValidationInfo.OCSP)),
		zap.Int("crl", len(out.ValidationInfo.CRL)),
	)
	return &out, nil
}

package flow

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/vocdoni/gofirma/qessign/internal/crypto/certs"
	"github.com/vocdoni/gofirma/qessign/internal/logging"
	"github.com/vocdoni/gofirma/qessign/internal/model"
	"github.com/vocdoni/gofirma/qessign/internal/rdsc"
	"github.com/vocdoni/gofirma/qessign/internal/signerr"
	"github.com/vocdoni/gofirma/qessign/internal/storage"
)

// Callback holds the query parameters of the redirect back from the
// provider.
type Callback struct {
	Code             string
	State            string
	Error            string
	ErrorDescription string
}

// Result describes a committed signature.
type Result struct {
	AttemptID     string
	DocumentRef   string
	DocumentLabel string
	RequestID     string
	ResponseID    string
	Signer        certs.SignerInfo
	OCSPs         int
	CRLs          int
}

// Resume finishes the attempt identified by expectedState, the state bound
// to the user agent at Start. The callback state must match it before the
// session is touched; the code is exchanged at most once.
func (o *Orchestrator) Resume(ctx context.Context, expectedState string, cb Callback) (*Result, error) {
	defer o.refreshPending(ctx)

	if cb.Error != "" {
		denied := &signerr.ProviderDeniedError{Code: cb.Error, Description: cb.ErrorDescription}
		if statesEqual(expectedState, cb.State) {
			if p, err := o.take(ctx, cb.State); err == nil {
				o.discard(ctx, p)
				o.auditFailure(p, "", denied)
			}
		}
		o.metrics.RecordOutcome(OutcomeDenied)
		o.logger.Info("provider denied signing", zap.String("error", cb.Error), logging.StateField(cb.State))
		return nil, denied
	}

	if !statesEqual(expectedState, cb.State) {
		o.metrics.RecordOutcome(OutcomeStateMismatch)
		o.logger.Warn("callback state mismatch", logging.StateField(cb.State))
		return nil, &signerr.StateMismatchError{}
	}

	p, err := o.take(ctx, cb.State)
	if err != nil {
		if errors.Is(err, signerr.ErrSessionNotFound) && !errors.Is(err, signerr.ErrSessionExpired) {
			o.metrics.RecordOutcome(OutcomeNoSession)
		}
		return nil, err
	}

	res, requestID, err := o.finish(ctx, p, cb.Code)
	if err != nil {
		o.discard(ctx, p)
		o.auditFailure(p, requestID, err)
		var pde *signerr.ProviderDeniedError
		if errors.As(err, &pde) {
			o.metrics.RecordOutcome(OutcomeDenied)
		} else {
			o.metrics.RecordOutcome(OutcomeFailed)
		}
		o.logger.Warn("signing attempt failed",
			zap.String("attempt_id", p.ID),
			zap.String("request_id", requestID),
			zap.Error(err))
		return nil, err
	}

	o.metrics.RecordOutcome(OutcomeSigned)
	o.logAudit(storage.AuditEntry{
		AttemptID:       p.ID,
		StateTag:        logging.Tag(p.Authorization.State),
		RequestID:       res.RequestID,
		DocumentRef:     p.DocumentRef,
		DocumentLabel:   p.Request.Label,
		CredentialID:    p.CredentialID,
		SignerName:      res.Signer.DisplayName(),
		SignerSerial:    res.Signer.SerialNumber,
		CertFingerprint: res.Signer.Fingerprint,
		ResponseID:      res.ResponseID,
		Status:          storage.StatusSigned,
	})
	o.logger.Info("document signed",
		zap.String("attempt_id", p.ID),
		zap.String("request_id", res.RequestID),
		zap.String("signer", res.Signer.DisplayName()))
	return res, nil
}

// finish runs the steps after the session was taken. It returns the request
// id once one was generated, for auditing failures.
func (o *Orchestrator) finish(ctx context.Context, p *model.PendingSignature, code string) (*Result, string, error) {
	if code == "" {
		return nil, "", &signerr.ProviderDeniedError{Code: "invalid_request", Description: "The provider returned no authorization code."}
	}

	grant, err := o.provider.ExchangeAuthorizationCode(ctx, code)
	if err != nil {
		return nil, "", err
	}
	if o.verifier != nil && grant.IDToken != "" {
		if _, err := o.verifier.VerifyIDToken(ctx, grant.IDToken, p.Authorization.Nonce); err != nil {
			return nil, "", err
		}
	}

	requestID := rdsc.NewRequestID()
	signed, err := o.provider.Sign(ctx, model.SignCall{
		SAD:       grant.AccessToken,
		RequestID: requestID,
		Digests: model.SignDigests{
			HashAlgorithmOID: p.Request.AlgorithmOID,
			Hashes:           []string{p.Request.Digest},
		},
		CredentialID:     p.CredentialID,
		ConformanceLevel: p.ConformanceLevel,
		SignatureFormat:  p.SignatureFormat,
	})
	if err != nil {
		return nil, requestID, err
	}

	doc, err := o.docs.Open(ctx, p.DocumentRef)
	if err != nil {
		return nil, requestID, err
	}
	out, err := o.embedder.Finalize(doc, p.FieldName, p.Request, signed)
	if err != nil {
		return nil, requestID, err
	}
	if err := o.docs.Commit(ctx, p.DocumentRef, doc); err != nil {
		return nil, requestID, fmt.Errorf("failed to commit signed document: %w", err)
	}

	return &Result{
		AttemptID:     p.ID,
		DocumentRef:   p.DocumentRef,
		DocumentLabel: p.Request.Label,
		RequestID:     requestID,
		ResponseID:    signed.ResponseID,
		Signer:        out.Signer,
		OCSPs:         out.OCSPs,
		CRLs:          out.CRLs,
	}, requestID, nil
}

// Abandon drops the attempt for state, for example when the user restarts.
// Unknown states are ignored.
func (o *Orchestrator) Abandon(ctx context.Context, state string) error {
	if state == "" {
		return nil
	}
	defer o.refreshPending(ctx)

	p, err := o.take(ctx, state)
	if errors.Is(err, signerr.ErrSessionNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	o.metrics.RecordOutcome(OutcomeAbandoned)
	o.discard(ctx, p)
	o.logAudit(storage.AuditEntry{
		AttemptID:   p.ID,
		StateTag:    logging.Tag(p.Authorization.State),
		DocumentRef: p.DocumentRef,
		Status:      storage.StatusAbandoned,
	})
	return nil
}

// take removes the session for state. An attempt found past its expiry is
// released here and reported as signerr.ErrSessionExpired.
func (o *Orchestrator) take(ctx context.Context, state string) (*model.PendingSignature, error) {
	p, err := o.sessions.Take(ctx, state)
	if errors.Is(err, signerr.ErrSessionExpired) && p != nil {
		o.discard(ctx, p)
		o.metrics.RecordOutcome(OutcomeExpired)
		o.logAudit(storage.AuditEntry{
			AttemptID:     p.ID,
			StateTag:      logging.Tag(p.Authorization.State),
			DocumentRef:   p.DocumentRef,
			DocumentLabel: p.Request.Label,
			CredentialID:  p.CredentialID,
			Status:        storage.StatusExpired,
		})
		o.logger.Info("signing attempt expired",
			zap.String("attempt_id", p.ID),
			zap.String("document_ref", p.DocumentRef))
		return nil, err
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (o *Orchestrator) discard(ctx context.Context, p *model.PendingSignature) {
	if err := o.docs.Discard(ctx, p.DocumentRef); err != nil {
		o.logger.Warn("failed to discard document", zap.String("document_ref", p.DocumentRef), zap.Error(err))
	}
}

// Download returns the signed document for ref and its file name.
func (o *Orchestrator) Download(ctx context.Context, ref string) (io.ReadCloser, string, error) {
	return o.docs.Signed(ctx, ref)
}

package evidence

import (
	"encoding/base64"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/vocdoni/gofirma/qessign/internal/crypto/cades"
	"github.com/vocdoni/gofirma/qessign/internal/crypto/certs"
	"github.com/vocdoni/gofirma/qessign/internal/engine"
	"github.com/vocdoni/gofirma/qessign/internal/metrics"
	"github.com/vocdoni/gofirma/qessign/internal/model"
	"github.com/vocdoni/gofirma/qessign/internal/signerr"
)

// Embedder writes signatures and revocation evidence into documents.
type Embedder struct {
	logger  *zap.Logger
	metrics *metrics.Service
}

func NewEmbedder(logger *zap.Logger, m *metrics.Service) *Embedder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Embedder{logger: logger, metrics: m}
}

// EmbedRevocationEvidence decodes info and adds it to the validation store of
// field with a single update call. Nothing is written when any entry fails to
// decode.
func (e *Embedder) EmbedRevocationEvidence(doc engine.Finisher, field string, info model.ValidationInfo) (*Evidence, error) {
	ev, err := Decode(info)
	if err != nil {
		return nil, err
	}
	if err := doc.UpdateValidationStore(field, ev.CRLs, ev.OCSPResponses, ev.Certificates); err != nil {
		return nil, fmt.Errorf("failed to update validation store: %w", err)
	}
	e.record(ev)
	e.logger.Debug("embedded revocation evidence",
		zap.String("field", field),
		zap.Int("crls", len(ev.CRLs)),
		zap.Int("ocsps", len(ev.OCSPResponses)),
		zap.Int("certs", len(ev.Certificates)))
	return ev, nil
}

func (e *Embedder) record(ev *Evidence) {
	e.metrics.RecordEvidence(string(signerr.KindCRL), len(ev.CRLs))
	e.metrics.RecordEvidence(string(signerr.KindOCSP), len(ev.OCSPResponses))
	e.metrics.RecordEvidence(string(signerr.KindCertificate), len(ev.Certificates))
}

// Outcome describes a finished signature.
type Outcome struct {
	Signature *cades.Signature
	Signer    certs.SignerInfo
	CRLs      int
	OCSPs     int
	Certs     int
}

// Finalize attaches the first signature of res to field and embeds its
// evidence. The signature must be a CMS whose signer signed req's digest.
// Everything is decoded before doc is touched.
func (e *Embedder) Finalize(doc engine.Finisher, field string, req model.SigningRequest, res *model.SignResult) (*Outcome, error) {
	b64, err := res.SignatureValue(0)
	if err != nil {
		return nil, &signerr.EvidenceDecodeError{Kind: signerr.KindSignature, Index: 0, Err: err}
	}
	value, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, &signerr.EvidenceDecodeError{Kind: signerr.KindSignature, Index: 0, Err: err}
	}
	sig, err := cades.Inspect(value)
	if err != nil {
		return nil, &signerr.EvidenceDecodeError{Kind: signerr.KindSignature, Index: 0, Err: err}
	}
	want, err := base64.StdEncoding.DecodeString(req.Digest)
	if err != nil {
		return nil, fmt.Errorf("invalid request digest: %w", err)
	}
	if err := sig.VerifyDigest(want); err != nil {
		return nil, &signerr.EvidenceDecodeError{Kind: signerr.KindSignature, Index: 0, Err: err}
	}

	ev, err := Decode(res.ValidationInfo)
	if err != nil {
		return nil, err
	}

	if err := doc.AttachSignature(field, value); err != nil {
		return nil, fmt.Errorf("failed to attach signature: %w", err)
	}
	if !res.ValidationInfo.Empty() {
		if err := doc.UpdateValidationStore(field, ev.CRLs, ev.OCSPResponses, ev.Certificates); err != nil {
			return nil, fmt.Errorf("failed to update validation store: %w", err)
		}
		e.record(ev)
	}

	out := &Outcome{
		Signature: sig,
		Signer:    certs.Describe(sig.Signer),
		CRLs:      len(ev.CRLs),
		OCSPs:     len(ev.OCSPResponses),
		Certs:     len(ev.Certificates),
	}
	e.logger.Debug("signature attached",
		zap.String("field", field),
		zap.String("signer", out.Signer.DisplayName()),
		zap.Int("crls", out.CRLs),
		zap.Int("ocsps", out.OCSPs))
	return out, nil
}

// IsDigestMismatch reports whether err means the returned signature covers a
// different digest.
func IsDigestMismatch(err error) bool {
	return errors.Is(err, cades.ErrDigestMismatch)
}

// Package flow drives a signing attempt across the redirect to the provider:
// Start prepares the document and pushes the authorization request, Resume
// finishes it when the user comes back, Abandon cleans up.
package flow

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vocdoni/gofirma/qessign/internal/crypto/jwsverify"
	"github.com/vocdoni/gofirma/qessign/internal/digest"
	"github.com/vocdoni/gofirma/qessign/internal/engine"
	"github.com/vocdoni/gofirma/qessign/internal/evidence"
	"github.com/vocdoni/gofirma/qessign/internal/logging"
	"github.com/vocdoni/gofirma/qessign/internal/metrics"
	"github.com/vocdoni/gofirma/qessign/internal/model"
	"github.com/vocdoni/gofirma/qessign/internal/rdsc"
	"github.com/vocdoni/gofirma/qessign/internal/session"
	"github.com/vocdoni/gofirma/qessign/internal/signerr"
	"github.com/vocdoni/gofirma/qessign/internal/storage"
)

// Provider is the part of the protocol client the flow uses.
type Provider interface {
	SubmitAuthorizationRequest(ctx context.Context, auth model.AuthorizationState, reqs []model.SigningRequest, credentialID string, additionalClaims map[string]any) (string, error)
	ExchangeAuthorizationCode(ctx context.Context, code string) (*model.TokenGrant, error)
	Sign(ctx context.Context, call model.SignCall) (*model.SignResult, error)
}

// IDTokenVerifier checks the id_token returned with the grant.
type IDTokenVerifier interface {
	VerifyIDToken(ctx context.Context, token, expectedNonce string) (*jwsverify.Claims, error)
}

var _ Provider = (*rdsc.Client)(nil)

// Outcome labels recorded in metrics.
const (
	OutcomeSigned        = "signed"
	OutcomeDenied        = "denied"
	OutcomeStateMismatch = "state_mismatch"
	OutcomeNoSession     = "no_session"
	OutcomeFailed        = "failed"
	OutcomeAbandoned     = "abandoned"
	OutcomeExpired       = "expired"
)

type Config struct {
	CredentialID     string
	ConformanceLevel model.ConformanceLevel
	SignatureFormat  model.SignatureFormat
	Algorithm        digest.Algorithm
	// RedirectURI is where the provider sends the user back.
	RedirectURI string
	FieldName   string
	TTL         time.Duration
	// AdditionalClaims are merged into every authorization request.
	AdditionalClaims map[string]any
}

type Orchestrator struct {
	cfg      Config
	provider Provider
	sessions session.Store
	docs     engine.Store
	embedder *evidence.Embedder
	verifier IDTokenVerifier
	audit    *storage.AuditLogger
	metrics  *metrics.Service
	logger   *zap.Logger
	now      func() time.Time
}

type Option func(*Orchestrator)

func WithLogger(l *zap.Logger) Option { return func(o *Orchestrator) { o.logger = l } }

func WithMetrics(m *metrics.Service) Option { return func(o *Orchestrator) { o.metrics = m } }

func WithAudit(a *storage.AuditLogger) Option { return func(o *Orchestrator) { o.audit = a } }

// WithIDTokenVerifier binds returned id_tokens to the attempt's nonce.
func WithIDTokenVerifier(v IDTokenVerifier) Option { return func(o *Orchestrator) { o.verifier = v } }

func WithClock(now func() time.Time) Option { return func(o *Orchestrator) { o.now = now } }

func New(cfg Config, provider Provider, sessions session.Store, docs engine.Store, opts ...Option) (*Orchestrator, error) {
	switch {
	case provider == nil:
		return nil, errors.New("provider is required")
	case sessions == nil:
		return nil, errors.New("session store is required")
	case docs == nil:
		return nil, errors.New("document store is required")
	case strings.TrimSpace(cfg.CredentialID) == "":
		return nil, signerr.Configf("credential_id", "credential id is required")
	case cfg.RedirectURI == "":
		return nil, signerr.Configf("redirect_uri", "redirect uri is required")
	}
	if cfg.Algorithm.Hash == 0 {
		cfg.Algorithm = digest.SHA256
	}
	if cfg.ConformanceLevel == "" {
		cfg.ConformanceLevel = model.LevelBLT
	}
	if cfg.SignatureFormat == "" {
		cfg.SignatureFormat = model.FormatPAdES
	}
	if cfg.FieldName == "" {
		cfg.FieldName = "Signature1"
	}
	if cfg.TTL <= 0 {
		cfg.TTL = session.DefaultTTL
	}

	o := &Orchestrator{
		cfg:      cfg,
		provider: provider,
		sessions: sessions,
		docs:     docs,
		logger:   zap.NewNop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.embedder = evidence.NewEmbedder(o.logger, o.metrics)
	return o, nil
}

// StartInput is the document to sign.
type StartInput struct {
	Name    string
	Content []byte
	// Label is shown to the user by the provider. Defaults to Name.
	Label string
	// AdditionalClaims override the configured ones for this attempt.
	AdditionalClaims map[string]any
}

// Started is returned by Start. State must be bound to the user agent so
// that Resume can check the callback against it.
type Started struct {
	AttemptID   string
	State       string
	RedirectURL string
	DocumentRef string
	ExpiresAt   time.Time
}

// Start prepares the document, stores the pending attempt and pushes the
// authorization request. On failure nothing is left behind.
func (o *Orchestrator) Start(ctx context.Context, in StartInput) (*Started, error) {
	label := in.Label
	if label == "" {
		label = in.Name
	}

	// Taken before Prepare so a document older than the TTL always belongs
	// to an expired session.
	now := o.now()
	o.prune(ctx, now)
	defer o.refreshPending(ctx)

	ref, err := o.docs.Prepare(ctx, in.Name, in.Content, o.cfg.FieldName)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare document: %w", err)
	}
	started, err := o.start(ctx, now, ref, label, in.AdditionalClaims)
	if err != nil {
		if derr := o.docs.Discard(ctx, ref); derr != nil {
			o.logger.Warn("failed to discard document", zap.String("document_ref", ref), zap.Error(derr))
		}
		return nil, err
	}
	return started, nil
}

func (o *Orchestrator) start(ctx context.Context, now time.Time, ref, label string, extra map[string]any) (*Started, error) {
	doc, err := o.docs.Open(ctx, ref)
	if err != nil {
		return nil, err
	}
	content, err := doc.HashableContent()
	if err != nil {
		return nil, err
	}
	d, err := digest.Compute(content, o.cfg.Algorithm)
	if err != nil {
		return nil, err
	}
	req, err := model.NewSigningRequest(d, label)
	if err != nil {
		return nil, err
	}
	auth, err := model.NewAuthorizationState(o.cfg.RedirectURI)
	if err != nil {
		return nil, signerr.Configf("redirect_uri", "%v", err)
	}

	p := &model.PendingSignature{
		ID:               uuid.New().String(),
		Authorization:    auth,
		Request:          req,
		CredentialID:     o.cfg.CredentialID,
		ConformanceLevel: o.cfg.ConformanceLevel,
		SignatureFormat:  o.cfg.SignatureFormat,
		DocumentRef:      ref,
		FieldName:        o.cfg.FieldName,
		CreatedAt:        now,
		ExpiresAt:        now.Add(o.cfg.TTL),
	}
	// Stored before the PAR call so the callback can never outrun it.
	if err := o.sessions.Put(ctx, p); err != nil {
		return nil, fmt.Errorf("failed to store session: %w", err)
	}

	claims := o.cfg.AdditionalClaims
	if extra != nil {
		claims = extra
	}
	redirect, err := o.provider.SubmitAuthorizationRequest(ctx, auth, []model.SigningRequest{req}, o.cfg.CredentialID, claims)
	if err != nil {
		if derr := o.sessions.Delete(ctx, auth.State); derr != nil {
			o.logger.Warn("failed to delete session", logging.StateField(auth.State), zap.Error(derr))
		}
		o.auditFailure(p, "", err)
		o.metrics.RecordOutcome(OutcomeFailed)
		return nil, err
	}

	o.logAudit(storage.AuditEntry{
		AttemptID:     p.ID,
		StateTag:      logging.Tag(auth.State),
		DocumentRef:   ref,
		DocumentLabel: label,
		CredentialID:  p.CredentialID,
		Status:        storage.StatusStarted,
	})
	o.logger.Info("signing attempt started",
		zap.String("attempt_id", p.ID),
		logging.StateField(auth.State),
		zap.String("document_ref", ref))

	return &Started{
		AttemptID:   p.ID,
		State:       auth.State,
		RedirectURL: redirect,
		DocumentRef: ref,
		ExpiresAt:   p.ExpiresAt,
	}, nil
}

// prune releases the documents of attempts whose user never came back.
// Their session records are dropped by the session store itself.
func (o *Orchestrator) prune(ctx context.Context, now time.Time) {
	n, err := o.docs.Prune(ctx, now.Add(-o.cfg.TTL))
	if err != nil {
		o.logger.Warn("failed to prune expired documents", zap.Error(err))
	}
	if n > 0 {
		o.logger.Info("released expired signing attempts", zap.Int("count", n))
	}
}

func (o *Orchestrator) refreshPending(ctx context.Context) {
	n, err := o.docs.Pending(ctx)
	if err != nil {
		o.logger.Debug("failed to count pending documents", zap.Error(err))
		return
	}
	o.metrics.SetPendingSessions(n)
}

func (o *Orchestrator) logAudit(e storage.AuditEntry) {
	if err := o.audit.Log(e); err != nil {
		o.logger.Error("failed to write audit entry", zap.Error(err))
	}
}

func (o *Orchestrator) auditFailure(p *model.PendingSignature, requestID string, err error) {
	status := storage.StatusFailed
	var pde *signerr.ProviderDeniedError
	if errors.As(err, &pde) {
		status = storage.StatusDenied
	}
	o.logAudit(storage.AuditEntry{
		AttemptID:     p.ID,
		StateTag:      logging.Tag(p.Authorization.State),
		RequestID:     requestID,
		DocumentRef:   p.DocumentRef,
		DocumentLabel: p.Request.Label,
		CredentialID:  p.CredentialID,
		Status:        status,
		Error:         err.Error(),
	})
}

// statesEqual compares without leaking timing information. Empty values
// never match.
func statesEqual(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}


// Package server is the browser-facing side of the signing flow: document
// preview, the redirect to the provider, the callback and the download of
// the signed result.
package server

import (
	"embed"
	"errors"
	"fmt"
	"html/template"
	"io"
	"mime"
	"net/http"
	"path/filepath"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/vocdoni/gofirma/qessign/internal/engine"
	"github.com/vocdoni/gofirma/qessign/internal/flow"
	"github.com/vocdoni/gofirma/qessign/internal/metrics"
	"github.com/vocdoni/gofirma/qessign/internal/signerr"
)

//go:embed templates/*.html
var templateFS embed.FS

const stateCookie = "qessign_state"

// Document is the file offered for signing.
type Document struct {
	Name    string
	Label   string
	Content []byte
}

type Config struct {
	Document Document
	// SecureCookies marks the state cookie Secure. Enable behind HTTPS.
	SecureCookies bool
}

type Server struct {
	cfg     Config
	flow    *flow.Orchestrator
	metrics *metrics.Service
	logger  *zap.Logger
	tmpl    *template.Template
}

func New(cfg Config, orch *flow.Orchestrator, m *metrics.Service, logger *zap.Logger) (*Server, error) {
	if orch == nil {
		return nil, errors.New("orchestrator is required")
	}
	if len(cfg.Document.Content) == 0 {
		return nil, signerr.Configf("server.document", "document to sign is empty")
	}
	if cfg.Document.Name == "" {
		cfg.Document.Name = "document.pdf"
	}
	if cfg.Document.Label == "" {
		cfg.Document.Label = filepath.Base(cfg.Document.Name)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	tmpl, err := template.ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse templates: %w", err)
	}
	return &Server{cfg: cfg, flow: orch, metrics: m, logger: logger, tmpl: tmpl}, nil
}

// Handler returns the router with all routes and middleware.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.logger))
	r.Use(middleware.Recoverer)
	r.Use(securityHeaders)

	r.Get("/", s.handlePreview)
	r.Get("/document", s.handleDocument)
	r.Post("/sign/start", s.handleStart)
	r.Get("/sign/callback", s.handleCallback)
	r.Get("/download/{ref}", s.handleDownload)
	r.Get("/restart", s.handleRestart)
	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	return r
}

type page struct {
	Title   string
	Label   string
	Message string
	// Restart offers a new attempt; Retry hints that the provider was
	// unreachable.
	Restart bool
	Retry   bool
	Result  *flow.Result
}

func (s *Server) render(w http.ResponseWriter, status int, name string, data page) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := s.tmpl.ExecuteTemplate(w, name, data); err != nil {
		s.logger.Error("failed to render page", zap.String("template", name), zap.Error(err))
	}
}

func (s *Server) renderError(w http.ResponseWriter, err error) {
	s.render(w, errorStatus(err), "error.html", page{
		Title:   "Signing failed",
		Message: signerr.FriendlyMessage(err),
		Restart: signerr.Restartable(err),
		Retry:   signerr.Retryable(err),
	})
}

func errorStatus(err error) int {
	var (
		sme *signerr.StateMismatchError
		pde *signerr.ProviderDeniedError
		pe  *signerr.ProtocolError
		te  *signerr.TransportError
		ede *signerr.EvidenceDecodeError
	)
	switch {
	case errors.As(err, &sme):
		return http.StatusBadRequest
	case errors.As(err, &pde):
		return http.StatusForbidden
	case errors.Is(err, signerr.ErrSessionNotFound):
		return http.StatusGone
	case errors.As(err, &pe), errors.As(err, &te), errors.As(err, &ede):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// handlePreview shows the document. Coming back here drops any attempt in
// progress.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	s.abandon(w, r)
	s.render(w, http.StatusOK, "preview.html", page{Title: s.cfg.Document.Label, Label: s.cfg.Document.Label})
}

func (s *Server) handleDocument(w http.ResponseWriter, r *http.Request) {
	ct := mime.TypeByExtension(filepath.Ext(s.cfg.Document.Name))
	if ct == "" {
		ct = http.DetectContentType(s.cfg.Document.Content)
	}
	w.Header().Set("Content-Type", ct)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("inline", map[string]string{"filename": filepath.Base(s.cfg.Document.Name)}))
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(s.cfg.Document.Content)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	s.abandon(w, r)

	started, err := s.flow.Start(r.Context(), flow.StartInput{
		Name:    s.cfg.Document.Name,
		Content: s.cfg.Document.Content,
		Label:   s.cfg.Document.Label,
	})
	if err != nil {
		s.logger.Warn("failed to start signing", zap.Error(err))
		s.renderError(w, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     stateCookie,
		Value:    started.State,
		Path:     "/",
		Expires:  started.ExpiresAt,
		HttpOnly: true,
		Secure:   s.cfg.SecureCookies,
		// Lax so the cookie comes back on the provider's top-level redirect.
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, started.RedirectURL, http.StatusSeeOther)
}

func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	cb := flow.Callback{
		Code:             q.Get("code"),
		State:            q.Get("state"),
		Error:            q.Get("error"),
		ErrorDescription: q.Get("error_description"),
	}
	var expected string
	if c, err := r.Cookie(stateCookie); err == nil {
		expected = c.Value
	}

	res, err := s.flow.Resume(r.Context(), expected, cb)
	var sme *signerr.StateMismatchError
	if !errors.As(err, &sme) {
		// Any other outcome ends the attempt bound to this browser.
		s.clearCookie(w)
	}
	if err != nil {
		s.renderError(w, err)
		return
	}
	s.render(w, http.StatusOK, "signed.html", page{Title: "Document signed", Result: res})
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	ref := chi.URLParam(r, "ref")
	rc, name, err := s.flow.Download(r.Context(), ref)
	if errors.Is(err, engine.ErrDocumentNotFound) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		s.logger.Error("failed to open signed document", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	w.Header().Set("Cache-Control", "no-store")
	if _, err := io.Copy(w, rc); err != nil {
		s.logger.Warn("download interrupted", zap.Error(err))
	}
}

func (s *Server) handleRestart(w http.ResponseWriter, r *http.Request) {
	s.abandon(w, r)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = io.WriteString(w, `{"status":"ok"}`)
}

// abandon drops the attempt bound to the browser, if any.
func (s *Server) abandon(w http.ResponseWriter, r *http.Request) {
	c, err := r.Cookie(stateCookie)
	if err != nil || c.Value == "" {
		return
	}
	if err := s.flow.Abandon(r.Context(), c.Value); err != nil {
		s.logger.Warn("failed to abandon signing attempt", zap.Error(err))
	}
	s.clearCookie(w)
}

func (s *Server) clearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.cfg.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

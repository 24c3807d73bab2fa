// Package signerr defines the failure kinds of a remote signing attempt and how
// each one is surfaced to callers and end users.
package signerr

import (
	"errors"
	"fmt"
	"strings"
)

// ErrSessionNotFound is returned when a redirect comes back for a signing
// attempt that is unknown, expired or already consumed.
var ErrSessionNotFound = errors.New("signing session not found")

// ErrSessionExpired is the ErrSessionNotFound variant for a record that
// existed but outlived its TTL. Stores return the record alongside it so the
// caller can release what the attempt still holds.
var ErrSessionExpired = fmt.Errorf("%w: expired", ErrSessionNotFound)

// ConfigurationError reports a missing or unusable setting. It is fatal and
// never retried.
type ConfigurationError struct {
	Setting string
	Err     error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s: %v", e.Setting, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// Configf builds a ConfigurationError for setting.
func Configf(setting, format string, args ...any) error {
	return &ConfigurationError{Setting: setting, Err: fmt.Errorf(format, args...)}
}

// ProtocolError is an unexpected status code or content type from one of the
// provider endpoints. Body holds the raw response body.
type ProtocolError struct {
	Op          string
	StatusCode  int
	ContentType string
	Body        []byte
}

func (e *ProtocolError) Error() string {
	body := strings.TrimSpace(string(e.Body))
	body = truncate(body, maxBodyRunes)
	if body == "" {
		return fmt.Sprintf("%s: unexpected server response (code %d, content type %q)", e.Op, e.StatusCode, e.ContentType)
	}
	return fmt.Sprintf("%s: unexpected server response (code %d): %s", e.Op, e.StatusCode, body)
}

const maxBodyRunes = 512

// TransportError is a connection, TLS or deadline failure before a response
// was received.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: transport failure: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// StateMismatchError means the state returned by the redirect does not belong
// to the caller's session. The stored state is deliberately not part of the
// message.
type StateMismatchError struct{}

func (e *StateMismatchError) Error() string {
	return "returned state does not match the signing session"
}

// ProviderDeniedError carries the error and error_description returned by the
// trust provider on the redirect.
type ProviderDeniedError struct {
	Code        string
	Description string
}

func (e *ProviderDeniedError) Error() string {
	if e.Description == "" {
		return fmt.Sprintf("provider denied the request: %s", e.Code)
	}
	return fmt.Sprintf("provider denied the request: %s: %s", e.Code, e.Description)
}

// EvidenceKind names the kind of entry that failed to decode.
type EvidenceKind string

const (
	KindCRL         EvidenceKind = "crl"
	KindOCSP        EvidenceKind = "ocsp"
	KindCertificate EvidenceKind = "certificate"
	KindSignature   EvidenceKind = "signature"
)

// EvidenceDecodeError reports malformed revocation evidence or signature
// data. Index is the position of the entry within its list.
type EvidenceDecodeError struct {
	Kind  EvidenceKind
	Index int
	Err   error
}

func (e *EvidenceDecodeError) Error() string {
	return fmt.Sprintf("decode %s entry %d: %v", e.Kind, e.Index, e.Err)
}

func (e *EvidenceDecodeError) Unwrap() error { return e.Err }

// Retryable reports whether the caller may retry the failed step. Only
// transport failures qualify, and only with fresh correlation values when a
// single-use token may already have been consumed.
func Retryable(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// Restartable reports whether err aborts the signing attempt so that the user
// has to start over with new state and nonce.
func Restartable(err error) bool {
	var (
		pe  *ProtocolError
		te  *TransportError
		sme *StateMismatchError
		pde *ProviderDeniedError
		ede *EvidenceDecodeError
	)
	switch {
	case errors.As(err, &pe), errors.As(err, &te), errors.As(err, &sme),
		errors.As(err, &pde), errors.As(err, &ede), errors.Is(err, ErrSessionNotFound):
		return true
	}
	return false
}

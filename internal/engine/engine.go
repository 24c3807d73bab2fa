// Package engine defines what the signing flow needs from a document format
// and ships a detached evidence envelope implementing it.
package engine

import (
	"context"
	"crypto/x509"
	"errors"
	"io"
	"time"

	"golang.org/x/crypto/ocsp"
)

var (
	ErrDocumentNotFound = errors.New("document not found")
	ErrFieldNotFound    = errors.New("signature field not found")
	ErrAlreadySigned    = errors.New("signature field already holds a signature")
)

// Finisher completes a prepared signature field: it receives the signature
// value and the revocation evidence for the long-term validation store.
type Finisher interface {
	AttachSignature(field string, value []byte) error
	// UpdateValidationStore merges the evidence into the document's DSS. It
	// is called once per signing outcome with entries in provider order.
	UpdateValidationStore(field string, crls [][]byte, ocsps []*ocsp.Response, certs []*x509.Certificate) error
}

// Document is a prepared document that can be hashed, finished and saved.
type Document interface {
	Finisher
	// HashableContent returns the bytes covered by the signature.
	HashableContent() (io.Reader, error)
	Save(w io.Writer) error
}

// Store resolves opaque document references across the redirect boundary.
type Store interface {
	// Prepare stores content with an empty signature field and returns its
	// reference.
	Prepare(ctx context.Context, name string, content []byte, field string) (string, error)
	Open(ctx context.Context, ref string) (Document, error)
	// Commit persists a finished document as the signed result for ref.
	Commit(ctx context.Context, ref string, doc Document) error
	// Discard drops the prepared document. Discarding an unknown ref is not
	// an error.
	Discard(ctx context.Context, ref string) error
	// Signed returns the committed result for ref.
	Signed(ctx context.Context, ref string) (io.ReadCloser, string, error)
	// Prune drops prepared documents created before cutoff and returns how
	// many were removed. Committed documents are kept.
	Prune(ctx context.Context, cutoff time.Time) (int, error)
	// Pending counts prepared documents that were neither committed nor
	// discarded.
	Pending(ctx context.Context) (int, error)
}

package engine

import (
	"bytes"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"golang.org/x/crypto/ocsp"
)

const (
	envelopeVersion = 1

	FilterPPKLite        = "Adobe.PPKLite"
	SubFilterCAdESDetach = "ETSI.CAdES.detached"
)

// SignatureField is the signature dictionary of one field. SigningTime plays
// the role of the PDF /M entry and is mandatory.
type SignatureField struct {
	Filter      string    `json:"filter"`
	SubFilter   string    `json:"subFilter"`
	SigningTime time.Time `json:"signingTime"`
	Contents    []byte    `json:"contents,omitempty"`
}

// DeveloperExtension mirrors a PDF developer extensions entry.
type DeveloperExtension struct {
	BaseVersion    string `json:"baseVersion"`
	ExtensionLevel int    `json:"extensionLevel"`
}

// VRI lists, per signature field, the DSS entries relevant to it.
type VRI struct {
	// SignatureHash is the uppercase hex SHA-1 of the field contents when
	// the evidence was added.
	SignatureHash string   `json:"signatureHash,omitempty"`
	Certs         []string `json:"certs,omitempty"`
	OCSPs         []string `json:"ocsps,omitempty"`
	CRLs          []string `json:"crls,omitempty"`
}

// DSSEntry is one pooled DER object, identified by its SHA-256.
type DSSEntry struct {
	ID  string `json:"id"`
	DER []byte `json:"der"`
}

// DSS is the document security store.
type DSS struct {
	Certs []DSSEntry      `json:"certs,omitempty"`
	OCSPs []DSSEntry      `json:"ocsps,omitempty"`
	CRLs  []DSSEntry      `json:"crls,omitempty"`
	VRI   map[string]*VRI `json:"vri,omitempty"`
}

// Envelope is a JSON container holding a document, its signature fields and
// the validation material collected for them.
type Envelope struct {
	Version    int                           `json:"version"`
	Name       string                        `json:"name"`
	Document   []byte                        `json:"document"`
	Fields     map[string]*SignatureField    `json:"fields"`
	Extensions map[string]DeveloperExtension `json:"extensions,omitempty"`
	DSS        *DSS                          `json:"dss,omitempty"`
}

// NewEnvelope wraps content and adds an empty signature field.
func NewEnvelope(name string, content []byte, field string, now time.Time) (*Envelope, error) {
	if strings.TrimSpace(field) == "" {
		return nil, errors.New("signature field name is required")
	}
	return &Envelope{
		Version:  envelopeVersion,
		Name:     name,
		Document: content,
		Fields: map[string]*SignatureField{
			field: {
				Filter:      FilterPPKLite,
				SubFilter:   SubFilterCAdESDetach,
				SigningTime: now.UTC(),
			},
		},
	}, nil
}

// ParseEnvelope decodes and validates an envelope.
func ParseEnvelope(r io.Reader) (*Envelope, error) {
	var e Envelope
	if err := json.NewDecoder(r).Decode(&e); err != nil {
		return nil, fmt.Errorf("failed to decode envelope: %w", err)
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return &e, nil
}

// Validate checks the structural requirements of the envelope.
func (e *Envelope) Validate() error {
	if e.Version != envelopeVersion {
		return fmt.Errorf("unsupported envelope version %d", e.Version)
	}
	if len(e.Fields) == 0 {
		return errors.New("envelope has no signature fields")
	}
	for name, f := range e.Fields {
		if f == nil || f.SigningTime.IsZero() {
			return fmt.Errorf("signature field %q has no signing time", name)
		}
		if f.Filter == "" || f.SubFilter == "" {
			return fmt.Errorf("signature field %q has no filter", name)
		}
	}
	return nil
}

func (e *Envelope) HashableContent() (io.Reader, error) {
	return bytes.NewReader(e.Document), nil
}

func (e *Envelope) AttachSignature(field string, value []byte) error {
	f, ok := e.Fields[field]
	if !ok {
		return fmt.Errorf("%w: %s", ErrFieldNotFound, field)
	}
	if len(f.Contents) > 0 {
		return fmt.Errorf("%w: %s", ErrAlreadySigned, field)
	}
	if len(value) == 0 {
		return errors.New("empty signature value")
	}
	f.Contents = append([]byte(nil), value...)

	// PAdES signatures require the ESIC extension at level 2.
	if e.Extensions == nil {
		e.Extensions = make(map[string]DeveloperExtension)
	}
	if ext, ok := e.Extensions["ESIC"]; !ok || ext.ExtensionLevel < 2 {
		e.Extensions["ESIC"] = DeveloperExtension{BaseVersion: "1.7", ExtensionLevel: 2}
	}
	return nil
}

func (e *Envelope) UpdateValidationStore(field string, crls [][]byte, ocsps []*ocsp.Response, certs []*x509.Certificate) error {
	f, ok := e.Fields[field]
	if !ok {
		return fmt.Errorf("%w: %s", ErrFieldNotFound, field)
	}
	// Checked up front so a bad entry leaves the store untouched.
	for _, resp := range ocsps {
		if resp == nil || len(resp.Raw) == 0 {
			return errors.New("OCSP response without raw encoding")
		}
	}
	for _, c := range certs {
		if c == nil || len(c.Raw) == 0 {
			return errors.New("certificate without raw encoding")
		}
	}

	if e.DSS == nil {
		e.DSS = &DSS{}
	}
	if e.DSS.VRI == nil {
		e.DSS.VRI = make(map[string]*VRI)
	}
	vri := e.DSS.VRI[field]
	if vri == nil {
		vri = &VRI{}
		e.DSS.VRI[field] = vri
	}
	if len(f.Contents) > 0 {
		sum := sha1.Sum(f.Contents)
		vri.SignatureHash = strings.ToUpper(hex.EncodeToString(sum[:]))
	}

	for _, der := range crls {
		vri.CRLs = append(vri.CRLs, addEntry(&e.DSS.CRLs, der))
	}
	for _, resp := range ocsps {
		vri.OCSPs = append(vri.OCSPs, addEntry(&e.DSS.OCSPs, resp.Raw))
	}
	for _, c := range certs {
		vri.Certs = append(vri.Certs, addEntry(&e.DSS.Certs, c.Raw))
	}
	return nil
}

// addEntry adds der to pool unless an identical object is already there and
// returns its id.
func addEntry(pool *[]DSSEntry, der []byte) string {
	sum := sha256.Sum256(der)
	id := hex.EncodeToString(sum[:])
	for _, e := range *pool {
		if e.ID == id {
			return id
		}
	}
	*pool = append(*pool, DSSEntry{ID: id, DER: append([]byte(nil), der...)})
	return id
}

func (e *Envelope) Save(w io.Writer) error {
	if err := e.Validate(); err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(e)
}

// Signed reports whether every field holds a signature.
func (e *Envelope) Signed() bool {
	for _, f := range e.Fields {
		if len(f.Contents) == 0 {
			return false
		}
	}
	return true
}

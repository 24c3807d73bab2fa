// Package digest computes the document digests submitted to the signing
// provider and maps hash algorithms to the OIDs the provider expects.
package digest

import (
	"bytes"
	"crypto"
	_ "crypto/sha256"
	_ "crypto/sha512"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"github.com/vocdoni/gofirma/qessign/internal/model"
	"github.com/vocdoni/gofirma/qessign/internal/signerr"
)

// Algorithm is a provider-supported digest algorithm.
type Algorithm struct {
	Name string
	OID  string
	Hash crypto.Hash
}

var (
	SHA256 = Algorithm{Name: "sha256", OID: "2.16.840.1.101.3.4.2.1", Hash: crypto.SHA256}
	SHA384 = Algorithm{Name: "sha384", OID: "2.16.840.1.101.3.4.2.2", Hash: crypto.SHA384}
	SHA512 = Algorithm{Name: "sha512", OID: "2.16.840.1.101.3.4.2.3", Hash: crypto.SHA512}
)

var supported = []Algorithm{SHA256, SHA384, SHA512}

// Lookup resolves an algorithm by name ("sha256", "SHA-256") or OID. Unknown
// algorithms are a configuration error.
func Lookup(name string) (Algorithm, error) {
	key := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(name), "-", ""))
	for _, a := range supported {
		if key == a.Name || name == a.OID {
			return a, nil
		}
	}
	return Algorithm{}, signerr.Configf("digest_algorithm", "unsupported digest algorithm %q", name)
}

// ByOID resolves an algorithm from its OID.
func ByOID(oid string) (Algorithm, bool) {
	for _, a := range supported {
		if a.OID == oid {
			return a, true
		}
	}
	return Algorithm{}, false
}

// Compute hashes everything read from r.
func Compute(r io.Reader, alg Algorithm) (model.Digest, error) {
	if !alg.Hash.Available() {
		return model.Digest{}, signerr.Configf("digest_algorithm", "hash %s not available", alg.Name)
	}
	h := alg.Hash.New()
	if _, err := io.Copy(h, r); err != nil {
		return model.Digest{}, fmt.Errorf("failed to hash document: %w", err)
	}
	return model.Digest{
		Value:        base64.StdEncoding.EncodeToString(h.Sum(nil)),
		AlgorithmOID: alg.OID,
	}, nil
}

// ComputeBytes hashes b.
func ComputeBytes(b []byte, alg Algorithm) (model.Digest, error) {
	return Compute(bytes.NewReader(b), alg)
}

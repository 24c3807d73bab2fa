package clientcert

import (
	"bytes"
	"crypto"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	pkcs12 "software.sslmate.com/src/go-pkcs12"
)

type decodeChainFunc func(pfxData []byte, password string) (privateKey interface{}, certificate *x509.Certificate, caCerts []*x509.Certificate, err error)

// LoadPKCS12 reads a PKCS#12/PFX identity from path.
func LoadPKCS12(path, password string) (*Identity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	id, err := ParsePKCS12(bytes.NewReader(data), password)
	if err != nil {
		return nil, err
	}
	id.Source = "pkcs12:" + path
	return id, nil
}

// ParsePKCS12 decodes a PKCS#12 identity. Password-less exports are accepted
// even when a password is configured, and legacy BER files are rewritten as
// DER before decoding.
func ParsePKCS12(r io.Reader, password string) (*Identity, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	priv, cert, chain, err := decodeAttempts(pkcs12.DecodeChain, buildAttempts(data, password), password)
	if err != nil {
		return nil, err
	}
	signer, ok := priv.(crypto.Signer)
	if !ok {
		return nil, fmt.Errorf("%w: parsed private key does not support signing", ErrUnsupported)
	}
	return &Identity{Certificate: cert, Chain: chain, Signer: signer}, nil
}

type attempt struct {
	data     []byte
	password string
}

// buildAttempts lists the decodings to try, in order: the file as is, the
// file rewritten as DER, then the rewritten file with a recomputed MAC.
func buildAttempts(data []byte, password string) []attempt {
	passwords := []string{password}
	if password != "" {
		passwords = append(passwords, "")
	}

	var out []attempt
	for _, pw := range passwords {
		out = append(out, attempt{data, pw})
	}
	der, err := berToDER(data)
	if err != nil || bytes.Equal(der, data) {
		return out
	}
	for _, pw := range passwords {
		out = append(out, attempt{der, pw})
	}
	for _, pw := range passwords {
		if rewritten, err := recomputeMAC(der, pw); err == nil {
			out = append(out, attempt{rewritten, pw})
		}
	}
	return out
}

func decodeAttempts(decode decodeChainFunc, attempts []attempt, userPassword string) (interface{}, *x509.Certificate, []*x509.Certificate, error) {
	var (
		lastErr              error
		hasIncorrectPassword bool
		firstNonPasswordErr  error
	)
	for _, a := range attempts {
		priv, cert, chain, err := decode(a.data, a.password)
		if err == nil {
			return priv, cert, chain, nil
		}
		if isIncorrectPasswordError(err) {
			hasIncorrectPassword = true
		} else if firstNonPasswordErr == nil {
			firstNonPasswordErr = err
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = errors.New("unknown parse error")
	}

	if hasIncorrectPassword && firstNonPasswordErr == nil {
		if strings.TrimSpace(userPassword) == "" {
			return nil, nil, nil, ErrPasswordRequired
		}
		return nil, nil, nil, ErrWrongPassword
	}
	if firstNonPasswordErr != nil {
		if isLikelyInvalidFileError(firstNonPasswordErr) {
			return nil, nil, nil, fmt.Errorf("%w: %v", ErrInvalidFile, firstNonPasswordErr)
		}
		return nil, nil, nil, fmt.Errorf("%w: %v", ErrUnsupported, firstNonPasswordErr)
	}
	return nil, nil, nil, fmt.Errorf("%w: %v", ErrUnsupported, lastErr)
}

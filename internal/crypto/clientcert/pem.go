package clientcert

import (
	"crypto"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
)

// LoadPEM reads a PEM certificate chain and its PEM private key. The first
// certificate in certPath is the client certificate.
func LoadPEM(certPath, keyPath string) (*Identity, error) {
	certPEM, err := os.ReadFile(certPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read client certificate: %w", err)
	}
	keyPEM, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read client private key: %w", err)
	}
	id, err := ParsePEM(certPEM, keyPEM)
	if err != nil {
		return nil, err
	}
	id.Source = "pem:" + certPath
	return id, nil
}

// ParsePEM builds an identity from PEM encoded certificate and key blocks.
func ParsePEM(certPEM, keyPEM []byte) (*Identity, error) {
	pair, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFile, err)
	}
	signer, ok := pair.PrivateKey.(crypto.Signer)
	if !ok {
		return nil, fmt.Errorf("%w: private key does not support signing", ErrUnsupported)
	}

	certs := make([]*x509.Certificate, 0, len(pair.Certificate))
	for _, der := range pair.Certificate {
		c, err := x509.ParseCertificate(der)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidFile, err)
		}
		certs = append(certs, c)
	}
	return &Identity{Certificate: certs[0], Chain: certs[1:], Signer: signer}, nil
}

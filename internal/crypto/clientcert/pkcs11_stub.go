//go:build !cgo

package clientcert

import "errors"

// LoadPKCS11 is unavailable when cgo is disabled.
func LoadPKCS11(cfg PKCS11Config) (*Identity, error) {
	return nil, errors.New("pkcs11 identities are unavailable in this build (cgo disabled)")
}

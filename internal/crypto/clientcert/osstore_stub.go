//go:build !cgo || !darwin

package clientcert

import "fmt"

// LoadOSIdentity is only implemented for the macOS keychain.
func LoadOSIdentity(fingerprintHex string) (*Identity, error) {
	return nil, fmt.Errorf("%w: OS store identities are unavailable in this build", ErrUnsupported)
}

func ListOSIdentities() ([]*Identity, error) {
	return nil, fmt.Errorf("%w: OS store identities are unavailable in this build", ErrUnsupported)
}

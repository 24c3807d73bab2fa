package clientcert

import (
	"errors"
	"strings"

	pkcs12 "software.sslmate.com/src/go-pkcs12"
)

var (
	ErrPasswordRequired = errors.New("certificate password required")
	ErrWrongPassword    = errors.New("certificate password incorrect")
	ErrInvalidFile      = errors.New("invalid certificate file")
	ErrUnsupported      = errors.New("unsupported certificate format")
	ErrNotFound         = errors.New("identity not found")
)

// FriendlyError returns an operator-facing message for identity load failures.
func FriendlyError(err error) string {
	switch {
	case errors.Is(err, ErrPasswordRequired):
		return "The client certificate requires a password. Set client_cert_password and try again."
	case errors.Is(err, ErrWrongPassword):
		return "The client certificate password is incorrect."
	case errors.Is(err, ErrInvalidFile):
		return "The client certificate file is not a valid .p12/.pfx or PEM file, or is corrupted."
	case errors.Is(err, ErrUnsupported):
		return "The client certificate uses an unsupported format or key type."
	case errors.Is(err, ErrNotFound):
		return "The configured client identity could not be found."
	default:
		return "Loading the client certificate failed. Please verify the file and password."
	}
}

func isIncorrectPasswordError(err error) bool {
	if errors.Is(err, pkcs12.ErrIncorrectPassword) || errors.Is(err, pkcs12.ErrDecryption) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "decryption password incorrect") ||
		strings.Contains(msg, "incorrect padding")
}

func isLikelyInvalidFileError(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "not der") ||
		strings.Contains(msg, "syntax error") ||
		strings.Contains(msg, "trailing data") ||
		strings.Contains(msg, "certificate missing") ||
		strings.Contains(msg, "private key missing") ||
		strings.Contains(msg, "error reading p12 data")
}

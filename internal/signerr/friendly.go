package signerr

import (
	"errors"
	"unicode/utf8"
)

const maxDescriptionRunes = 512

// FriendlyMessage returns a user-facing message for a failed signing attempt.
// The result is plain text; rendering surfaces are responsible for escaping.
func FriendlyMessage(err error) string {
	var (
		ce  *ConfigurationError
		pe  *ProtocolError
		te  *TransportError
		sme *StateMismatchError
		pde *ProviderDeniedError
		ede *EvidenceDecodeError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &pde):
		if pde.Description != "" {
			return "The signing service reported an error: " + truncate(pde.Description, maxDescriptionRunes)
		}
		return "The signing request was cancelled or refused."
	case errors.As(err, &sme):
		return "The signing response does not belong to this session."
	case errors.Is(err, ErrSessionNotFound):
		return "Cannot find an active signing session. It may have expired."
	case errors.As(err, &ede):
		return "The signature was created but its validation data is unreadable, so the document was not saved."
	case errors.As(err, &pe):
		return "The signing service returned an unexpected response."
	case errors.As(err, &te):
		return "The signing service could not be reached. Please try again."
	case errors.As(err, &ce):
		return "The signing service is not configured correctly."
	default:
		return "Signing failed."
	}
}

// truncate cuts s to at most n runes, never inside a UTF-8 sequence.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n]) + "…"
}

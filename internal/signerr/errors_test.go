package signerr

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestClassification(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		retryable   bool
		restartable bool
	}{
		{"transport", &TransportError{Op: "par", Err: errors.New("dial tcp: refused")}, true, true},
		{"protocol", &ProtocolError{Op: "token", StatusCode: 400}, false, true},
		{"state mismatch", &StateMismatchError{}, false, true},
		{"denied", &ProviderDeniedError{Code: "access_denied"}, false, true},
		{"evidence", &EvidenceDecodeError{Kind: KindOCSP, Index: 1, Err: errors.New("bad")}, false, true},
		{"session", fmt.Errorf("resume: %w", ErrSessionNotFound), false, true},
		{"config", Configf("client_id", "missing"), false, false},
		{"wrapped transport", fmt.Errorf("sign: %w", &TransportError{Op: "sign", Err: errors.New("eof")}), true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.retryable, Retryable(tt.err))
			assert.Equal(t, tt.restartable, Restartable(tt.err))
			assert.NotEmpty(t, FriendlyMessage(tt.err))
		})
	}
}

func TestProtocolErrorMessage(t *testing.T) {
	err := &ProtocolError{Op: "par", StatusCode: 500, Body: []byte("  internal error \n")}
	assert.Equal(t, "par: unexpected server response (code 500): internal error", err.Error())

	err = &ProtocolError{Op: "sign", StatusCode: 200, ContentType: "text/html"}
	assert.Contains(t, err.Error(), `"text/html"`)
}

func TestProtocolErrorTruncatesOnRuneBoundary(t *testing.T) {
	// 3 ASCII bytes shift every 2-byte rune so byte 512 falls inside one.
	body := "abc" + strings.Repeat("é", maxBodyRunes)
	msg := (&ProtocolError{Op: "token", StatusCode: 502, Body: []byte(body)}).Error()

	assert.True(t, utf8.ValidString(msg))
	assert.True(t, strings.HasSuffix(msg, "abc"+strings.Repeat("é", maxBodyRunes-3)+"…"))
}

func TestErrSessionExpiredIsNotFound(t *testing.T) {
	assert.True(t, errors.Is(ErrSessionExpired, ErrSessionNotFound))
	assert.False(t, errors.Is(ErrSessionNotFound, ErrSessionExpired))
}

func TestEvidenceDecodeErrorNamesEntry(t *testing.T) {
	err := &EvidenceDecodeError{Kind: KindCRL, Index: 2, Err: errors.New("illegal base64 data")}
	assert.Equal(t, "decode crl entry 2: illegal base64 data", err.Error())
}

func TestFriendlyMessageTruncatesDescription(t *testing.T) {
	long := strings.Repeat("x", 2*maxDescriptionRunes)
	msg := FriendlyMessage(&ProviderDeniedError{Code: "access_denied", Description: long})
	assert.Less(t, len(msg), len(long))
	assert.True(t, strings.HasSuffix(msg, "…"))
}

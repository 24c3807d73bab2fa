package net

import (
	"context"
	"crypto/tls"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsJSONMediaType(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"application/json", true},
		{"application/json; charset=utf-8", true},
		{"application/problem+json", true},
		{"APPLICATION/JSON", true},
		{"text/html; charset=utf-8", false},
		{"text/plain", false},
		{"", false},
		{";;", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsJSONMediaType(tt.in), tt.in)
	}
}

func TestSendReadsResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		assert.Equal(t, "qessign/dev", r.Header.Get("User-Agent"))
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, `{"a":1}`, string(body))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	resp, err := Send(context.Background(), srv.Client(), http.MethodPost, srv.URL, "application/json", "application/json", []byte(`{"a":1}`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.True(t, resp.IsJSON())
	assert.Equal(t, `{"ok":true}`, string(resp.Body))
}

func TestSendKeepsErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	resp, err := Send(context.Background(), srv.Client(), http.MethodGet, srv.URL, "", "", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.False(t, resp.IsJSON())
	assert.Equal(t, "boom", strings.TrimSpace(string(resp.Body)))
}

func TestSendTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := Send(context.Background(), http.DefaultClient, http.MethodGet, url, "", "", nil)
	assert.Error(t, err)
}

func TestSendHonoursContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Send(ctx, srv.Client(), http.MethodGet, srv.URL, "", "", nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewMTLSClient(t *testing.T) {
	_, err := NewMTLSClient(Options{})
	assert.Error(t, err)

	c, err := NewMTLSClient(Options{Transport: http.DefaultTransport})
	require.NoError(t, err)
	assert.Equal(t, DefaultTimeout, c.Timeout)

	cert := tls.Certificate{Certificate: [][]byte{{0x30}}}
	c, err = NewMTLSClient(Options{Certificate: &cert})
	require.NoError(t, err)
	tr, ok := c.Transport.(*http.Transport)
	require.True(t, ok)
	require.Len(t, tr.TLSClientConfig.Certificates, 1)
	assert.Equal(t, uint16(tls.VersionTLS12), tr.TLSClientConfig.MinVersion)
}

func TestResponseContentTypeKeepsParameters(t *testing.T) {
	r := &Response{Header: http.Header{"Content-Type": []string{"application/json; charset=utf-8"}}}
	assert.Equal(t, "application/json; charset=utf-8", r.ContentType())
	assert.True(t, r.IsJSON())
}

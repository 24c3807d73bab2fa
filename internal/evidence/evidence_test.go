package evidence

import (
	"crypto/x509"
	"encoding/base64"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ocsp"

	"github.com/vocdoni/gofirma/qessign/internal/crypto/cades"
	"github.com/vocdoni/gofirma/qessign/internal/digest"
	"github.com/vocdoni/gofirma/qessign/internal/engine"
	"github.com/vocdoni/gofirma/qessign/internal/metrics"
	"github.com/vocdoni/gofirma/qessign/internal/mockprovider"
	"github.com/vocdoni/gofirma/qessign/internal/model"
	"github.com/vocdoni/gofirma/qessign/internal/signerr"
)

type update struct {
	field string
	crls  [][]byte
	ocsps []*ocsp.Response
	certs []*x509.Certificate
}

type recordingFinisher struct {
	attached map[string][]byte
	updates  []update
}

func (f *recordingFinisher) AttachSignature(field string, value []byte) error {
	if f.attached == nil {
		f.attached = make(map[string][]byte)
	}
	f.attached[field] = value
	return nil
}

func (f *recordingFinisher) UpdateValidationStore(field string, crls [][]byte, ocsps []*ocsp.Response, certs []*x509.Certificate) error {
	f.updates = append(f.updates, update{field, crls, ocsps, certs})
	return nil
}

var _ engine.Finisher = (*recordingFinisher)(nil)

func newPKI(t *testing.T) *mockprovider.PKI {
	t.Helper()
	pki, err := mockprovider.NewPKI(mockprovider.Subject{GivenName: "Anna", Surname: "Muster", SerialNumber: "IDCCH-1"})
	require.NoError(t, err)
	return pki
}

func b64(b []byte) string { return base64.StdEncoding.EncodeToString(b) }

func TestEmbedTwoOCSPOneCRL(t *testing.T) {
	pki := newPKI(t)
	ocsp1, err := pki.OCSP(pki.Signer)
	require.NoError(t, err)
	ocsp2, err := pki.OCSP(pki.CA)
	require.NoError(t, err)
	crl, err := pki.CRL()
	require.NoError(t, err)

	info := model.ValidationInfo{
		OCSP: []string{b64(ocsp1), b64(ocsp2)},
		CRL:  []string{b64(crl)},
	}
	f := &recordingFinisher{}
	m := metrics.NewService()
	ev, err := NewEmbedder(nil, m).EmbedRevocationEvidence(f, "Signature1", info)
	require.NoError(t, err)

	require.Len(t, f.updates, 1)
	u := f.updates[0]
	assert.Equal(t, "Signature1", u.field)
	require.Len(t, u.crls, 1)
	assert.Equal(t, crl, u.crls[0])
	require.Len(t, u.ocsps, 2)
	assert.Equal(t, ocsp1, u.ocsps[0].Raw)
	assert.Equal(t, ocsp2, u.ocsps[1].Raw)
	assert.Equal(t, pki.Signer.SerialNumber, u.ocsps[0].SerialNumber)

	// Each response embeds the CA certificate; duplicates are kept.
	require.Len(t, u.certs, 2)
	assert.True(t, u.certs[0].Equal(pki.CA))
	assert.True(t, u.certs[1].Equal(pki.CA))
	assert.Equal(t, ev.Certificates, u.certs)
}

func TestEmbedAppendsStandaloneCertificates(t *testing.T) {
	pki := newPKI(t)
	o, err := pki.OCSP(pki.Signer)
	require.NoError(t, err)

	f := &recordingFinisher{}
	_, err = NewEmbedder(nil, nil).EmbedRevocationEvidence(f, "Sig", model.ValidationInfo{
		OCSP:         []string{b64(o)},
		Certificates: []string{b64(pki.Signer.Raw)},
	})
	require.NoError(t, err)
	require.Len(t, f.updates[0].certs, 2)
	assert.True(t, f.updates[0].certs[0].Equal(pki.CA))
	assert.True(t, f.updates[0].certs[1].Equal(pki.Signer))
}

func TestEmbedIsAtomic(t *testing.T) {
	pki := newPKI(t)
	crl, err := pki.CRL()
	require.NoError(t, err)

	cases := []struct {
		name  string
		info  model.ValidationInfo
		kind  signerr.EvidenceKind
		index int
	}{
		{"bad crl base64", model.ValidationInfo{CRL: []string{b64(crl), "%%%"}}, signerr.KindCRL, 1},
		{"garbage ocsp", model.ValidationInfo{CRL: []string{b64(crl)}, OCSP: []string{b64([]byte("not ocsp"))}}, signerr.KindOCSP, 0},
		{"garbage certificate", model.ValidationInfo{Certificates: []string{b64([]byte{0x30, 0x00})}}, signerr.KindCertificate, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := &recordingFinisher{}
			_, err := NewEmbedder(nil, nil).EmbedRevocationEvidence(f, "Sig", tc.info)
			var ede *signerr.EvidenceDecodeError
			require.True(t, errors.As(err, &ede))
			assert.Equal(t, tc.kind, ede.Kind)
			assert.Equal(t, tc.index, ede.Index)
			assert.Empty(t, f.updates)
		})
	}
}

func signedResult(t *testing.T, pki *mockprovider.PKI, d model.Digest, withEvidence bool) *model.SignResult {
	t.Helper()
	raw, err := base64.StdEncoding.DecodeString(d.Value)
	require.NoError(t, err)
	sig, err := cades.SignDigest(pki.SignerKey, pki.Signer, []*x509.Certificate{pki.CA}, raw, cades.SignOpts{})
	require.NoError(t, err)
	res := &model.SignResult{SignatureObject: []string{b64(sig)}}
	if withEvidence {
		o, err := pki.OCSP(pki.Signer)
		require.NoError(t, err)
		res.ValidationInfo.OCSP = []string{b64(o)}
	}
	return res
}

func TestFinalize(t *testing.T) {
	pki := newPKI(t)
	d, err := digest.ComputeBytes([]byte("report"), digest.SHA256)
	require.NoError(t, err)
	req, err := model.NewSigningRequest(d, "report.pdf")
	require.NoError(t, err)

	f := &recordingFinisher{}
	out, err := NewEmbedder(nil, nil).Finalize(f, "Signature1", req, signedResult(t, pki, d, true))
	require.NoError(t, err)

	assert.NotEmpty(t, f.attached["Signature1"])
	require.Len(t, f.updates, 1)
	assert.Equal(t, "Anna", out.Signer.GivenName)
	assert.Equal(t, "Muster", out.Signer.Surname)
	assert.Equal(t, 1, out.OCSPs)
}

func TestFinalizeWithoutEvidenceSkipsUpdate(t *testing.T) {
	pki := newPKI(t)
	d, _ := digest.ComputeBytes([]byte("report"), digest.SHA256)
	req, _ := model.NewSigningRequest(d, "report.pdf")

	f := &recordingFinisher{}
	_, err := NewEmbedder(nil, nil).Finalize(f, "Signature1", req, signedResult(t, pki, d, false))
	require.NoError(t, err)
	assert.Len(t, f.attached, 1)
	assert.Empty(t, f.updates)
}

func TestFinalizeRejectsForeignDigest(t *testing.T) {
	pki := newPKI(t)
	signedFor, _ := digest.ComputeBytes([]byte("other"), digest.SHA256)
	d, _ := digest.ComputeBytes([]byte("report"), digest.SHA256)
	req, _ := model.NewSigningRequest(d, "report.pdf")

	f := &recordingFinisher{}
	_, err := NewEmbedder(nil, nil).Finalize(f, "Signature1", req, signedResult(t, pki, signedFor, true))
	require.Error(t, err)
	assert.True(t, IsDigestMismatch(err))
	assert.Empty(t, f.attached)
	assert.Empty(t, f.updates)
}

func TestFinalizeRejectsMalformedSignature(t *testing.T) {
	d, _ := digest.ComputeBytes([]byte("report"), digest.SHA256)
	req, _ := model.NewSigningRequest(d, "report.pdf")

	f := &recordingFinisher{}
	_, err := NewEmbedder(nil, nil).Finalize(f, "Sig", req, &model.SignResult{SignatureObject: []string{b64([]byte("junk"))}})
	var ede *signerr.EvidenceDecodeError
	require.True(t, errors.As(err, &ede))
	assert.Equal(t, signerr.KindSignature, ede.Kind)
	assert.Empty(t, f.attached)
}

func TestFinalizeIntoEnvelope(t *testing.T) {
	pki := newPKI(t)
	d, _ := digest.ComputeBytes([]byte("report"), digest.SHA256)
	req, _ := model.NewSigningRequest(d, "report.pdf")

	env, err := engine.NewEnvelope("report.pdf", []byte("report"), "Signature1", pki.Signer.NotBefore)
	require.NoError(t, err)
	_, err = NewEmbedder(nil, nil).Finalize(env, "Signature1", req, signedResult(t, pki, d, true))
	require.NoError(t, err)

	assert.True(t, env.Signed())
	require.NotNil(t, env.DSS)
	assert.Len(t, env.DSS.OCSPs, 1)
	assert.Len(t, env.DSS.Certs, 1)
	assert.Len(t, env.DSS.VRI["Signature1"].OCSPs, 1)
}

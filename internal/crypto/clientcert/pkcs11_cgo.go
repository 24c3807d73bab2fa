//go:build cgo

package clientcert

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"math/big"
	"sync"

	"github.com/miekg/pkcs11"
)

type digestInfo struct {
	Algorithm pkix.AlgorithmIdentifier
	Digest    []byte
}

var (
	oidSHA256 = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 1}
	oidSHA384 = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 2}
	oidSHA512 = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 3}
)

func getDigestPrefix(hash crypto.Hash) ([]byte, error) {
	var oid asn1.ObjectIdentifier
	switch hash {
	case crypto.SHA256:
		oid = oidSHA256
	case crypto.SHA384:
		oid = oidSHA384
	case crypto.SHA512:
		oid = oidSHA512
	default:
		return nil, fmt.Errorf("unsupported hash algorithm: %v", hash)
	}

	di := digestInfo{
		Algorithm: pkix.AlgorithmIdentifier{
			Algorithm:  oid,
			Parameters: asn1.RawValue{Tag: asn1.TagNull},
		},
		Digest: make([]byte, hash.Size()),
	}
	full, err := asn1.Marshal(di)
	if err != nil {
		return nil, err
	}
	return full[:len(full)-hash.Size()], nil
}

func pssParams(hash crypto.Hash, saltLen int) (*pkcs11.Mechanism, error) {
	var hashMech, mgf uint
	switch hash {
	case crypto.SHA256:
		hashMech, mgf = pkcs11.CKM_SHA256, pkcs11.CKG_MGF1_SHA256
	case crypto.SHA384:
		hashMech, mgf = pkcs11.CKM_SHA384, pkcs11.CKG_MGF1_SHA384
	case crypto.SHA512:
		hashMech, mgf = pkcs11.CKM_SHA512, pkcs11.CKG_MGF1_SHA512
	default:
		return nil, fmt.Errorf("unsupported PSS hash: %v", hash)
	}
	if saltLen <= 0 {
		saltLen = hash.Size()
	}
	return pkcs11.NewMechanism(pkcs11.CKM_RSA_PKCS_PSS, pkcs11.NewPSSParams(hashMech, mgf, uint(saltLen))), nil
}

// PKCS11Signer signs with a private key that stays on the token. Each Sign
// call opens its own session; calls are serialized.
type PKCS11Signer struct {
	cfg       PKCS11Config
	keyID     []byte
	PublicKey crypto.PublicKey

	mu sync.Mutex
}

// LoadPKCS11 reads the certificate stored next to the key and returns an
// identity backed by the token.
func LoadPKCS11(cfg PKCS11Config) (*Identity, error) {
	keyID, err := hex.DecodeString(cfg.KeyID)
	if err != nil || len(keyID) == 0 {
		return nil, fmt.Errorf("invalid PKCS#11 key id %q", cfg.KeyID)
	}

	var cert *x509.Certificate
	err = withSession(cfg, func(p *pkcs11.Ctx, session pkcs11.SessionHandle) error {
		obj, err := findObject(p, session, pkcs11.CKO_CERTIFICATE, keyID)
		if err != nil {
			return err
		}
		attrs, err := p.GetAttributeValue(session, obj, []*pkcs11.Attribute{
			pkcs11.NewAttribute(pkcs11.CKA_VALUE, nil),
		})
		if err != nil || len(attrs) == 0 {
			return fmt.Errorf("failed to read certificate value: %v", err)
		}
		cert, err = x509.ParseCertificate(attrs[0].Value)
		return err
	})
	if err != nil {
		return nil, err
	}

	signer := &PKCS11Signer{cfg: cfg, keyID: keyID, PublicKey: cert.PublicKey}
	return &Identity{
		Certificate: cert,
		Signer:      signer,
		Source:      fmt.Sprintf("pkcs11:%s#%d", cfg.LibPath, cfg.Slot),
	}, nil
}

func withSession(cfg PKCS11Config, fn func(*pkcs11.Ctx, pkcs11.SessionHandle) error) error {
	p := pkcs11.New(cfg.LibPath)
	if p == nil {
		return fmt.Errorf("failed to load PKCS#11 lib %s", cfg.LibPath)
	}
	defer p.Destroy()
	if err := p.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize PKCS#11 lib: %w", err)
	}
	defer p.Finalize()

	session, err := p.OpenSession(cfg.Slot, pkcs11.CKF_SERIAL_SESSION)
	if err != nil {
		return fmt.Errorf("failed to open session on slot %d: %w", cfg.Slot, err)
	}
	defer p.CloseSession(session)

	if cfg.PIN != "" {
		if err := p.Login(session, pkcs11.CKU_USER, cfg.PIN); err != nil {
			var pe pkcs11.Error
			if !errors.As(err, &pe) || pe != pkcs11.CKR_USER_ALREADY_LOGGED_IN {
				return fmt.Errorf("token login failed: %w", err)
			}
		}
		defer p.Logout(session)
	}
	return fn(p, session)
}

func findObject(p *pkcs11.Ctx, session pkcs11.SessionHandle, class uint, id []byte) (pkcs11.ObjectHandle, error) {
	if err := p.FindObjectsInit(session, []*pkcs11.Attribute{
		pkcs11.NewAttribute(pkcs11.CKA_CLASS, class),
		pkcs11.NewAttribute(pkcs11.CKA_ID, id),
	}); err != nil {
		return 0, err
	}
	objs, _, err := p.FindObjects(session, 1)
	_ = p.FindObjectsFinal(session)
	if err != nil {
		return 0, err
	}
	if len(objs) == 0 {
		return 0, ErrNotFound
	}
	return objs[0], nil
}

func (s *PKCS11Signer) Public() crypto.PublicKey {
	return s.PublicKey
}

func (s *PKCS11Signer) Sign(_ io.Reader, digest []byte, opts crypto.SignerOpts) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		mechanism *pkcs11.Mechanism
		input     = digest
		err       error
	)
	switch s.PublicKey.(type) {
	case *rsa.PublicKey:
		if pss, ok := opts.(*rsa.PSSOptions); ok {
			mechanism, err = pssParams(opts.HashFunc(), pss.SaltLength)
			if err != nil {
				return nil, err
			}
			break
		}
		mechanism = pkcs11.NewMechanism(pkcs11.CKM_RSA_PKCS, nil)
		prefix, err := getDigestPrefix(opts.HashFunc())
		if err != nil {
			return nil, err
		}
		input = append(prefix, digest...)
	case *ecdsa.PublicKey:
		mechanism = pkcs11.NewMechanism(pkcs11.CKM_ECDSA, nil)
	default:
		return nil, fmt.Errorf("unsupported key type %T", s.PublicKey)
	}

	var sig []byte
	err = withSession(s.cfg, func(p *pkcs11.Ctx, session pkcs11.SessionHandle) error {
		key, err := findObject(p, session, pkcs11.CKO_PRIVATE_KEY, s.keyID)
		if err != nil {
			return fmt.Errorf("private key not found in slot %d: %w", s.cfg.Slot, err)
		}
		if err := p.SignInit(session, []*pkcs11.Mechanism{mechanism}, key); err != nil {
			return err
		}
		sig, err = p.Sign(session, input)
		return err
	})
	if err != nil {
		return nil, err
	}

	if _, ok := s.PublicKey.(*ecdsa.PublicKey); ok {
		if len(sig)%2 != 0 {
			return nil, errors.New("invalid ECDSA signature length")
		}
		n := len(sig) / 2
		r := new(big.Int).SetBytes(sig[:n])
		sv := new(big.Int).SetBytes(sig[n:])
		return asn1.Marshal(struct{ R, S *big.Int }{r, sv})
	}
	return sig, nil
}

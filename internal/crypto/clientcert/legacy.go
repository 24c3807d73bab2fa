package clientcert

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/x509/pkix"
	"encoding/asn1"
	"errors"
	"fmt"
	"unicode/utf16"

	"golang.org/x/crypto/cryptobyte"
	cbasn1 "golang.org/x/crypto/cryptobyte/asn1"
)

// Some PKCS#12 exports still in circulation are BER encoded, with
// indefinite lengths and chunked OCTET STRINGs. go-pkcs12 only reads DER, so
// those files are rewritten before decoding. Rewriting invalidates the
// integrity MAC, which is then recomputed with the user's password.

const (
	berConstructed = 0x20
	berOctetString = 0x04
	berContext0    = 0xa0
)

type berNode struct {
	tag      byte
	content  []byte
	children []berNode
}

func (n berNode) constructed() bool { return n.tag&berConstructed != 0 }

// berToDER rewrites a single BER element as DER.
func berToDER(in []byte) ([]byte, error) {
	node, rest, err := parseBER(in)
	if err != nil {
		return nil, err
	}
	if len(rest) != 0 {
		return nil, errors.New("trailing data after BER element")
	}
	var b cryptobyte.Builder
	if err := emitDER(&b, node); err != nil {
		return nil, err
	}
	return b.Bytes()
}

func parseBER(in []byte) (berNode, []byte, error) {
	if len(in) < 2 {
		return berNode{}, nil, errors.New("BER element truncated")
	}
	n := berNode{tag: in[0]}
	if n.tag&0x1f == 0x1f {
		return berNode{}, nil, errors.New("BER high tag numbers are not supported")
	}
	in = in[1:]

	first := in[0]
	in = in[1:]
	if first == 0x80 {
		if !n.constructed() {
			return berNode{}, nil, errors.New("indefinite length on primitive BER element")
		}
		for {
			if len(in) < 2 {
				return berNode{}, nil, errors.New("missing end-of-contents in BER element")
			}
			if in[0] == 0 && in[1] == 0 {
				return n, in[2:], nil
			}
			child, rest, err := parseBER(in)
			if err != nil {
				return berNode{}, nil, err
			}
			n.children = append(n.children, child)
			in = rest
		}
	}

	length := int(first)
	if first > 0x80 {
		size := int(first & 0x7f)
		if size > 4 || len(in) < size {
			return berNode{}, nil, fmt.Errorf("invalid BER length of %d bytes", size)
		}
		length = 0
		for _, c := range in[:size] {
			length = length<<8 | int(c)
		}
		in = in[size:]
	}
	if length > len(in) {
		return berNode{}, nil, errors.New("BER content truncated")
	}
	body, rest := in[:length], in[length:]
	if !n.constructed() {
		n.content = body
		return n, rest, nil
	}
	for len(body) > 0 {
		child, after, err := parseBER(body)
		if err != nil {
			return berNode{}, nil, err
		}
		n.children = append(n.children, child)
		body = after
	}
	return n, rest, nil
}

// octets concatenates the chunks of a constructed OCTET STRING.
func (n berNode) octets() ([]byte, bool) {
	if !n.constructed() {
		return n.content, n.tag&^berConstructed == berOctetString
	}
	var out []byte
	for _, c := range n.children {
		if c.tag&^berConstructed != berOctetString {
			return nil, false
		}
		part, ok := c.octets()
		if !ok {
			return nil, false
		}
		out = append(out, part...)
	}
	return out, true
}

func emitDER(b *cryptobyte.Builder, n berNode) error {
	switch {
	case n.tag == berOctetString|berConstructed:
		data, ok := n.octets()
		if !ok {
			return errors.New("constructed OCTET STRING with foreign chunks")
		}
		// Chunked payloads are usually themselves BER encoded structures.
		if len(data) > 0 && data[0] == byte(cbasn1.SEQUENCE) {
			if der, err := berToDER(data); err == nil {
				data = der
			}
		}
		b.AddASN1(cbasn1.OCTET_STRING, func(c *cryptobyte.Builder) { c.AddBytes(data) })
	case n.tag == berContext0 && len(n.children) > 1:
		// [0] IMPLICIT OCTET STRING split into chunks.
		var data []byte
		for _, c := range n.children {
			if c.tag != berOctetString {
				return emitConstructed(b, n)
			}
			data = append(data, c.content...)
		}
		b.AddASN1(cbasn1.Tag(0).ContextSpecific(), func(c *cryptobyte.Builder) { c.AddBytes(data) })
	case n.constructed():
		return emitConstructed(b, n)
	default:
		b.AddASN1(cbasn1.Tag(n.tag), func(c *cryptobyte.Builder) { c.AddBytes(n.content) })
	}
	return nil
}

func emitConstructed(b *cryptobyte.Builder, n berNode) error {
	var err error
	b.AddASN1(cbasn1.Tag(n.tag), func(c *cryptobyte.Builder) {
		for _, child := range n.children {
			if err == nil {
				err = emitDER(c, child)
			}
		}
	})
	return err
}

var oidSHA1 = asn1.ObjectIdentifier{1, 3, 14, 3, 2, 26}

type pfxPDU struct {
	Version  int
	AuthSafe struct {
		ContentType asn1.ObjectIdentifier
		Content     asn1.RawValue `asn1:"tag:0,explicit,optional"`
	}
	MacData pfxMacData `asn1:"optional"`
}

type pfxMacData struct {
	Mac struct {
		Algorithm pkix.AlgorithmIdentifier
		Digest    []byte
	}
	MacSalt    []byte
	Iterations int `asn1:"optional,default:1"`
}

// recomputeMAC replaces the SHA-1 integrity MAC of a DER PFX with one
// computed from password.
func recomputeMAC(der []byte, password string) ([]byte, error) {
	var pfx pfxPDU
	if _, err := asn1.Unmarshal(der, &pfx); err != nil {
		return nil, err
	}
	if !pfx.MacData.Mac.Algorithm.Algorithm.Equal(oidSHA1) {
		return nil, errors.New("PFX has no SHA-1 MAC")
	}
	var authSafe []byte
	if _, err := asn1.Unmarshal(pfx.AuthSafe.Content.Bytes, &authSafe); err != nil {
		return nil, err
	}
	pw, err := bmpPassword(password)
	if err != nil {
		return nil, err
	}
	iterations := max(pfx.MacData.Iterations, 1)
	key := pkcs12KDF(pfx.MacData.MacSalt, pw, iterations, 3, sha1.Size)
	mac := hmac.New(sha1.New, key)
	mac.Write(authSafe)
	pfx.MacData.Mac.Digest = mac.Sum(nil)
	return asn1.Marshal(pfx)
}

// pkcs12KDF is the RFC 7292 appendix B.2 key derivation with SHA-1.
func pkcs12KDF(salt, password []byte, iterations int, id byte, size int) []byte {
	const u, v = sha1.Size, 64
	fill := func(src []byte) []byte {
		if len(src) == 0 {
			return nil
		}
		out := make([]byte, v*((len(src)+v-1)/v))
		for i := range out {
			out[i] = src[i%len(src)]
		}
		return out
	}
	d := make([]byte, v)
	for i := range d {
		d[i] = id
	}
	in := append(fill(salt), fill(password)...)

	out := make([]byte, 0, size+u)
	for len(out) < size {
		h := sha1.New()
		h.Write(d)
		h.Write(in)
		a := h.Sum(nil)
		for j := 1; j < iterations; j++ {
			sum := sha1.Sum(a)
			a = sum[:]
		}
		out = append(out, a...)
		if len(out) >= size {
			break
		}
		// I_j = (I_j + B + 1) mod 2^(8v) for each block of in.
		for blk := 0; blk < len(in); blk += v {
			carry := 1
			for k := v - 1; k >= 0; k-- {
				sum := int(in[blk+k]) + int(a[k%u]) + carry
				in[blk+k] = byte(sum)
				carry = sum >> 8
			}
		}
	}
	return out[:size]
}

// bmpPassword encodes password as a NUL-terminated big-endian BMPString.
func bmpPassword(password string) ([]byte, error) {
	out := make([]byte, 0, 2*len(password)+2)
	for _, r := range password {
		if r > 0xffff {
			return nil, errors.New("password contains characters outside the BMP")
		}
	}
	for _, c := range utf16.Encode([]rune(password)) {
		out = append(out, byte(c>>8), byte(c))
	}
	return append(out, 0, 0), nil
}

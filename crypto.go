// crypto.go - symmetric and asymmetric primitives for the TDF3 engine
//
// (c) 2016 Sudhi Herle <sudhi@herle.net>
//
// Licensing Terms: GPLv2
//
// If you need a commercial license for this work, please contact
// the author.
//
// This software does not come with any express or implied
// warranty; it is provided "as is". No claim  is made to its
// suitability for any purpose.

// This file implements:
//   - AES-256-GCM segment framing (IV || ct || tag)
//   - HMAC-SHA256 and GMAC segment signatures
//   - RSA-OAEP key wrap/unwrap and RSASSA-PKCS1-v1_5 signing
//   - RSA key generation and PEM I/O

package tdf

import (
	"crypto"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/subtle"
	"crypto/x509"
	"encoding/pem"
)

const (
	_AesKeySize   = 32
	_GCMNonceSize = 12
	_GCMTagSize   = 16

	// per-segment framing overhead: leading IV plus trailing tag
	_SegOverhead = _GCMNonceSize + _GCMTagSize

	_PemPublic  = "PUBLIC KEY"
	_PemPrivate = "PRIVATE KEY"
	_PemRsaPriv = "RSA PRIVATE KEY"
)

// Segment signature algorithms recorded in the manifest.
const (
	HS256 = "HS256"
	GMAC  = "GMAC"
)

// newAEAD makes an AES-256-GCM AEAD from a 32-byte payload key.
func newAEAD(key []byte) (cipher.AEAD, error) {
	if len(key) != _AesKeySize {
		return nil, newErr(ECCrypto, "bad key size %d", len(key))
	}

	blk, err := aes.NewCipher(key)
	if err != nil {
		return nil, wrapErr(ECCrypto, err, "aes")
	}

	ae, err := cipher.NewGCM(blk)
	if err != nil {
		return nil, wrapErr(ECCrypto, err, "gcm")
	}
	return ae, nil
}

// sealSegment encrypts one plaintext segment with a fresh random IV
// and returns the framed ciphertext: IV || ct || tag.
func sealSegment(ae cipher.AEAD, pt []byte) []byte {
	buf := make([]byte, _GCMNonceSize, _GCMNonceSize+len(pt)+_GCMTagSize)
	randRead(buf[:_GCMNonceSize])

	return ae.Seal(buf, buf[:_GCMNonceSize], pt, nil)
}

// openSegment decrypts one framed segment (IV || ct || tag).
func openSegment(ae cipher.AEAD, ct []byte) ([]byte, error) {
	if len(ct) < _SegOverhead {
		return nil, newErr(ECCrypto, "segment too short (%d bytes)", len(ct))
	}

	pt, err := ae.Open(nil, ct[:_GCMNonceSize], ct[_GCMNonceSize:], nil)
	if err != nil {
		return nil, wrapErr(ECCrypto, err, "segment unseal")
	}
	return pt, nil
}

// hmacSHA256 computes HMAC-SHA256 of 'msg' keyed by 'key'.
func hmacSHA256(key, msg []byte) []byte {
	h := hmac.New(sha256.New, key)
	h.Write(msg)
	return h.Sum(nil)
}

// segmentSig computes the integrity signature of one framed ciphertext
// segment. HS256 is an HMAC over the full framed bytes; GMAC reuses
// the trailing GCM tag.
func segmentSig(alg string, key, ct []byte) ([]byte, error) {
	switch alg {
	case HS256:
		return hmacSHA256(key, ct), nil
	case GMAC:
		if len(ct) < _GCMTagSize {
			return nil, newErr(ECCrypto, "segment too short for GMAC (%d bytes)", len(ct))
		}
		tag := make([]byte, _GCMTagSize)
		copy(tag, ct[len(ct)-_GCMTagSize:])
		return tag, nil
	default:
		return nil, newErr(ECManifest, "unknown segment hash alg %q", alg)
	}
}

// rootSig computes the whole-payload signature: HMAC-SHA256 over the
// raw segment signatures in commit order.
func rootSig(key []byte, segSigs [][]byte) []byte {
	h := hmac.New(sha256.New, key)
	for _, s := range segSigs {
		h.Write(s)
	}
	return h.Sum(nil)
}

// sigEqual compares two signatures in constant time.
func sigEqual(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}

// rsaWrap encrypts a payload key for a KAS under RSA-OAEP.
//
// SHA-1 with MGF1-SHA1 is retained for KAS interop; confirm server
// support before moving to SHA-256.
func rsaWrap(pk *rsa.PublicKey, key []byte) ([]byte, error) {
	out, err := rsa.EncryptOAEP(sha1.New(), rand.Reader, pk, key, nil)
	if err != nil {
		return nil, wrapErr(ECCrypto, err, "rsa wrap")
	}
	return out, nil
}

// rsaUnwrap recovers a key wrapped by rsaWrap.
func rsaUnwrap(sk *rsa.PrivateKey, wrapped []byte) ([]byte, error) {
	out, err := rsa.DecryptOAEP(sha1.New(), rand.Reader, sk, wrapped, nil)
	if err != nil {
		return nil, wrapErr(ECCrypto, err, "rsa unwrap")
	}
	return out, nil
}

// rsaSign signs 'msg' with RSASSA-PKCS1-v1_5 over SHA-256.
func rsaSign(sk *rsa.PrivateKey, msg []byte) ([]byte, error) {
	ck := sha256.Sum256(msg)
	sig, err := rsa.SignPKCS1v15(rand.Reader, sk, crypto.SHA256, ck[:])
	if err != nil {
		return nil, wrapErr(ECCrypto, err, "rsa sign")
	}
	return sig, nil
}

// rsaVerify verifies a signature made by rsaSign.
func rsaVerify(pk *rsa.PublicKey, msg, sig []byte) error {
	ck := sha256.Sum256(msg)
	if err := rsa.VerifyPKCS1v15(pk, crypto.SHA256, ck[:], sig); err != nil {
		return wrapErr(ECCrypto, err, "rsa verify")
	}
	return nil
}

// newRSAKey generates an RSA keypair of the given size.
func newRSAKey(bits int) (*rsa.PrivateKey, error) {
	sk, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, wrapErr(ECCrypto, err, "rsa keygen")
	}
	return sk, nil
}

// pubToPEM encodes an RSA public key as a PKIX PEM block.
func pubToPEM(pk *rsa.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pk)
	if err != nil {
		return "", wrapErr(ECCrypto, err, "pubkey marshal")
	}

	b := pem.EncodeToMemory(&pem.Block{
		Type:  _PemPublic,
		Bytes: der,
	})
	return string(b), nil
}

// pubFromPEM parses an RSA public key from PKIX or PKCS#1 PEM text.
func pubFromPEM(s string) (*rsa.PublicKey, error) {
	blk, _ := pem.Decode([]byte(s))
	if blk == nil {
		return nil, newErr(ECCrypto, "pubkey: no PEM block")
	}

	if pk, err := x509.ParsePKCS1PublicKey(blk.Bytes); err == nil {
		return pk, nil
	}

	k, err := x509.ParsePKIXPublicKey(blk.Bytes)
	if err != nil {
		return nil, wrapErr(ECCrypto, err, "pubkey parse")
	}

	pk, ok := k.(*rsa.PublicKey)
	if !ok {
		return nil, newErr(ECCrypto, "pubkey: not an RSA key (%T)", k)
	}
	return pk, nil
}

// EOF

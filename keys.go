// keys.go - session RSA keys management
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
//   - session keypair generation and PEM I/O
//   - passphrase protected storage of the private key
//     (argon2id derived AES-256-GCM)

package tdf

import (
	"crypto/rsa"
	"crypto/sha3"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"

	"golang.org/x/crypto/argon2"
)

// SigningKey is the client session RSA keypair. It signs rewrap
// request tokens and receives the entity-wrapped key from KAS.
type SigningKey struct {
	sk *rsa.PrivateKey

	// User provided comment string
	Comment string
}

const (
	_SessionKeyBits = 2048

	// Algorithm recorded in the encrypted private key
	_Sk_algo = "sha3-argon2id"

	// PEM Block headers
	_Tdf_SK    = "TDF PRIVATE KEY"
	_Tdf_EncSK = "TDF ENCRYPTED PRIVATE KEY"

	// These are comfortable margins exceeding
	// NIST 2024 guidelines
	_Argon2id_mem  uint32 = 64 * 1024
	_Argon2id_time uint32 = 2
	_Argon2id_proc uint32 = 8
)

// encSk is the stored form of a passphrase protected private key.
type encSk struct {
	Esk  []byte `json:"esk"`
	Salt []byte `json:"salt"`
	Algo string `json:"algo"`
	Kdf  struct {
		Mem  uint32 `json:"mem"`
		Time uint32 `json:"time"`
		Proc uint32 `json:"proc"`
	} `json:"kdf"`
}

// NewSigningKey generates a new session RSA keypair.
func NewSigningKey(comment string) (*SigningKey, error) {
	sk, err := newRSAKey(_SessionKeyBits)
	if err != nil {
		return nil, err
	}

	return &SigningKey{sk: sk, Comment: comment}, nil
}

// Private returns the RSA private key.
func (k *SigningKey) Private() *rsa.PrivateKey {
	return k.sk
}

// Public returns the RSA public key.
func (k *SigningKey) Public() *rsa.PublicKey {
	return &k.sk.PublicKey
}

// PublicPEM returns the session public key as PKIX PEM text.
func (k *SigningKey) PublicPEM() (string, error) {
	return pubToPEM(&k.sk.PublicKey)
}

// Marshal serializes the private key. With a passphrase function the
// key is encrypted at rest with an argon2id derived AES-256-GCM key;
// without one it is plain PKCS#8.
func (k *SigningKey) Marshal(getpw func() ([]byte, error)) ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(k.sk)
	if err != nil {
		return nil, wrapErr(ECCrypto, err, "key %s: marshal", k.Comment)
	}

	if getpw == nil {
		blk := &pem.Block{
			Type:    _Tdf_SK,
			Headers: map[string]string{"comment": k.Comment},
			Bytes:   der,
		}
		return pem.EncodeToMemory(blk), nil
	}

	pw, err := getpw()
	if err != nil {
		return nil, wrapErr(ECCrypto, err, "key %s: marshal", k.Comment)
	}

	esk, err := skEncrypt(pw, der)
	clear(der)
	if err != nil {
		return nil, wrapErr(ECCrypto, err, "key %s: encrypt", k.Comment)
	}

	eb, err := json.Marshal(esk)
	if err != nil {
		return nil, wrapErr(ECCrypto, err, "key %s: marshal", k.Comment)
	}

	blk := &pem.Block{
		Type:    _Tdf_EncSK,
		Headers: map[string]string{"comment": k.Comment},
		Bytes:   eb,
	}
	return pem.EncodeToMemory(blk), nil
}

// ParseSigningKey makes a session key from a previously serialized
// byte stream.
func ParseSigningKey(b []byte, getpw func() ([]byte, error)) (*SigningKey, error) {
	blk, _ := pem.Decode(b)
	if blk == nil {
		return nil, newErr(ECCrypto, "SigningKey: no PEM")
	}

	var der []byte
	var err error
	var scrub bool

	switch blk.Type {
	case _Tdf_SK, _PemPrivate, _PemRsaPriv:
		der = blk.Bytes

	case _Tdf_EncSK:
		if getpw == nil {
			return nil, newErr(ECCrypto, "SigningKey: passphrase required")
		}

		pw, perr := getpw()
		if perr != nil {
			return nil, wrapErr(ECCrypto, perr, "SigningKey: parse")
		}

		var esk encSk
		if err = json.Unmarshal(blk.Bytes, &esk); err != nil {
			return nil, wrapErr(ECCrypto, err, "SigningKey: parse")
		}

		der, err = skDecrypt(pw, &esk)
		if err != nil {
			return nil, wrapErr(ECCrypto, err, "SigningKey: decrypt")
		}
		scrub = true

	default:
		return nil, newErr(ECCrypto, "SigningKey: unknown PEM type %q", blk.Type)
	}

	sk, err := parseRSAPrivate(der, blk.Type)
	if scrub {
		clear(der)
	}
	if err != nil {
		return nil, err
	}

	return &SigningKey{sk: sk, Comment: blk.Headers["comment"]}, nil
}

// parseRSAPrivate turns DER bytes into an RSA private key, trying
// PKCS#8 then PKCS#1.
func parseRSAPrivate(der []byte, typ string) (*rsa.PrivateKey, error) {
	if k, err := x509.ParsePKCS8PrivateKey(der); err == nil {
		sk, ok := k.(*rsa.PrivateKey)
		if !ok {
			return nil, newErr(ECCrypto, "SigningKey: not an RSA key (%T)", k)
		}
		return sk, nil
	}

	sk, err := x509.ParsePKCS1PrivateKey(der)
	if err != nil {
		return nil, wrapErr(ECCrypto, err, "SigningKey: parse %s", typ)
	}
	return sk, nil
}

// skEncrypt seals the private key DER under a passphrase derived key.
func skEncrypt(pw, der []byte) (*encSk, error) {
	pwb := sha3.Sum512(pw)
	salt := randBuf(32)
	buf := argonKDF(_GCMNonceSize+_AesKeySize, pwb[:], salt)
	defer clear(buf)

	key, nonce := buf[:_AesKeySize], buf[_AesKeySize:]

	ae, err := newAEAD(key)
	if err != nil {
		return nil, err
	}

	esk := &encSk{
		Esk:  ae.Seal(nil, nonce, der, nil),
		Salt: salt,
		Algo: _Sk_algo,
	}
	esk.Kdf.Mem = _Argon2id_mem
	esk.Kdf.Time = _Argon2id_time
	esk.Kdf.Proc = _Argon2id_proc

	return esk, nil
}

// skDecrypt opens an encrypted private key using the given user
// passphrase and stored KDF params.
func skDecrypt(pw []byte, esk *encSk) ([]byte, error) {
	if esk.Algo != _Sk_algo {
		return nil, fmt.Errorf("unknown KDF: %s", esk.Algo)
	}

	pwb := sha3.Sum512(pw)
	buf := argon2.IDKey(pwb[:], esk.Salt, esk.Kdf.Time,
		esk.Kdf.Mem, uint8(0xff&esk.Kdf.Proc), uint32(_GCMNonceSize+_AesKeySize))
	defer clear(buf)

	key, nonce := buf[:_AesKeySize], buf[_AesKeySize:]

	ae, err := newAEAD(key)
	if err != nil {
		return nil, err
	}

	der, err := ae.Open(nil, nonce, esk.Esk, nil)
	if err != nil {
		return nil, err
	}
	return der, nil
}

func argonKDF(n int, secret, salt []byte) []byte {
	return argon2.IDKey(secret, salt, _Argon2id_time,
		_Argon2id_mem, uint8(0xff&_Argon2id_proc), uint32(n))
}

// vim: noexpandtab:ts=8:sw=8:tw=92:

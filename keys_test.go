// keys_test.go -- Test harness for session key I/O
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

package tdf

import (
	"strings"
	"testing"
)

func TestSigningKeyPlain(t *testing.T) {
	assert := newAsserter(t)

	sk, err := NewSigningKey(t.Name())
	assert(err == nil, "keygen: %s", err)

	b, err := sk.Marshal(nil)
	assert(err == nil, "marshal: %s", err)
	assert(strings.Contains(string(b), _Tdf_SK), "wrong PEM type:\n%s", b)

	out, err := ParseSigningKey(b, nil)
	assert(err == nil, "parse: %s", err)
	assert(out.Comment == t.Name(), "comment lost")
	assert(out.Private().Equal(sk.Private()), "key mismatch")
}

func TestSigningKeyEncrypted(t *testing.T) {
	assert := newAsserter(t)

	getpw := func() ([]byte, error) {
		return []byte("squeamish ossifrage"), nil
	}

	sk, err := NewSigningKey(t.Name())
	assert(err == nil, "keygen: %s", err)

	b, err := sk.Marshal(getpw)
	assert(err == nil, "marshal: %s", err)
	assert(strings.Contains(string(b), _Tdf_EncSK), "wrong PEM type:\n%s", b)

	out, err := ParseSigningKey(b, getpw)
	assert(err == nil, "parse: %s", err)
	assert(out.Private().Equal(sk.Private()), "key mismatch")

	// wrong passphrase must fail
	_, err = ParseSigningKey(b, func() ([]byte, error) {
		return []byte("wrong"), nil
	})
	assert(err != nil, "parsed with wrong passphrase")

	// and no passphrase at all
	_, err = ParseSigningKey(b, nil)
	assert(err != nil, "parsed without passphrase")
}

func TestSigningKeyJunk(t *testing.T) {
	assert := newAsserter(t)

	_, err := ParseSigningKey([]byte("not a key"), nil)
	assert(err != nil, "parsed junk")
	assert(CodeOf(err) == ECCrypto, "wrong code %s", CodeOf(err))
}

// EOF

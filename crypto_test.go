// crypto_test.go -- Test harness for the crypto primitives
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

func TestSegmentSealOpen(t *testing.T) {
	assert := newAsserter(t)

	key := randBuf(_AesKeySize)
	ae, err := newAEAD(key)
	assert(err == nil, "aead: %s", err)

	for _, n := range []int{0, 1, 64, 4096, 100000} {
		pt := patternBuf(n)

		frame := sealSegment(ae, pt)
		assert(len(frame) == n+_SegOverhead, "frame size: exp %d, saw %d", n+_SegOverhead, len(frame))

		out, err := openSegment(ae, frame)
		assert(err == nil, "open %d: %s", n, err)
		assert(byteEq(out, pt), "open %d: content mismatch", n)
	}
}

func TestSegmentSealUniqueIV(t *testing.T) {
	assert := newAsserter(t)

	key := randBuf(_AesKeySize)
	ae, err := newAEAD(key)
	assert(err == nil, "aead: %s", err)

	pt := patternBuf(128)
	a := sealSegment(ae, pt)
	b := sealSegment(ae, pt)

	assert(!byteEq(a[:_GCMNonceSize], b[:_GCMNonceSize]), "IV reused across segments")
	assert(!byteEq(a, b), "identical frames for identical plaintext")
}

func TestSegmentOpenCorrupt(t *testing.T) {
	assert := newAsserter(t)

	key := randBuf(_AesKeySize)
	ae, err := newAEAD(key)
	assert(err == nil, "aead: %s", err)

	frame := sealSegment(ae, patternBuf(512))
	frame[_GCMNonceSize+17] ^= 0x01

	_, err = openSegment(ae, frame)
	assert(err != nil, "opened corrupted frame")
	assert(CodeOf(err) == ECCrypto, "wrong code: %s", CodeOf(err))

	_, err = openSegment(ae, frame[:_SegOverhead-1])
	assert(err != nil, "opened truncated frame")
}

func TestSegmentSig(t *testing.T) {
	assert := newAsserter(t)

	key := randBuf(_AesKeySize)
	ae, err := newAEAD(key)
	assert(err == nil, "aead: %s", err)

	frame := sealSegment(ae, patternBuf(1024))

	hs, err := segmentSig(HS256, key, frame)
	assert(err == nil, "hs256: %s", err)
	assert(len(hs) == 32, "hs256 length %d", len(hs))
	assert(byteEq(hs, hmacSHA256(key, frame)), "hs256 mismatch")

	gm, err := segmentSig(GMAC, key, frame)
	assert(err == nil, "gmac: %s", err)
	assert(byteEq(gm, frame[len(frame)-_GCMTagSize:]), "gmac is not the trailing tag")

	_, err = segmentSig("SHA1", key, frame)
	assert(err != nil, "accepted unknown alg")
}

func TestRootSig(t *testing.T) {
	assert := newAsserter(t)

	key := randBuf(_AesKeySize)
	sigs := [][]byte{randBuf(32), randBuf(32), randBuf(16)}

	var concat []byte
	for _, s := range sigs {
		concat = append(concat, s...)
	}

	assert(byteEq(rootSig(key, sigs), hmacSHA256(key, concat)),
		"root sig is not HMAC over concatenated segment sigs")
}

func TestRSAWrapUnwrap(t *testing.T) {
	assert := newAsserter(t)

	sk, err := newRSAKey(2048)
	assert(err == nil, "keygen: %s", err)

	key := randBuf(_AesKeySize)
	wrapped, err := rsaWrap(&sk.PublicKey, key)
	assert(err == nil, "wrap: %s", err)
	assert(len(wrapped) == 256, "wrapped size %d", len(wrapped))

	out, err := rsaUnwrap(sk, wrapped)
	assert(err == nil, "unwrap: %s", err)
	assert(byteEq(out, key), "unwrap mismatch")

	other, err := newRSAKey(2048)
	assert(err == nil, "keygen: %s", err)

	_, err = rsaUnwrap(other, wrapped)
	assert(err != nil, "unwrap with wrong key worked")
}

func TestRSASignVerify(t *testing.T) {
	assert := newAsserter(t)

	sk, err := newRSAKey(2048)
	assert(err == nil, "keygen: %s", err)

	msg := []byte("the quick brown fox")
	sig, err := rsaSign(sk, msg)
	assert(err == nil, "sign: %s", err)

	err = rsaVerify(&sk.PublicKey, msg, sig)
	assert(err == nil, "verify: %s", err)

	err = rsaVerify(&sk.PublicKey, []byte("the quick brown fix"), sig)
	assert(err != nil, "verified altered message")
}

func TestPubkeyPEM(t *testing.T) {
	assert := newAsserter(t)

	sk, err := newRSAKey(2048)
	assert(err == nil, "keygen: %s", err)

	s, err := pubToPEM(&sk.PublicKey)
	assert(err == nil, "pem encode: %s", err)
	assert(strings.Contains(s, "BEGIN PUBLIC KEY"), "not PKIX PEM:\n%s", s)

	pk, err := pubFromPEM(s)
	assert(err == nil, "pem decode: %s", err)
	assert(pk.Equal(&sk.PublicKey), "pubkey roundtrip mismatch")

	_, err = pubFromPEM("not a pem")
	assert(err != nil, "parsed junk")
}

func TestMetadataBundle(t *testing.T) {
	assert := newAsserter(t)

	key := randBuf(_AesKeySize)
	md := []byte(`{"origin":"unit-test"}`)

	enc, err := sealMetadata(key, md)
	assert(err == nil, "seal: %s", err)

	out, err := openMetadata(key, enc)
	assert(err == nil, "open: %s", err)
	assert(byteEq(out, md), "metadata mismatch")

	wrong := randBuf(_AesKeySize)
	_, err = openMetadata(wrong, enc)
	assert(err != nil, "opened with wrong key")
}

// EOF

// utils_test.go -- Test harness utilities
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
	"crypto/rsa"
	"crypto/subtle"
	"fmt"
	"math/rand"
	"runtime"
	"testing"
)

func newAsserter(t *testing.T) func(cond bool, msg string, args ...interface{}) {
	return func(cond bool, msg string, args ...interface{}) {
		if cond {
			return
		}

		_, file, line, ok := runtime.Caller(1)
		if !ok {
			file = "???"
			line = 0
		}

		s := fmt.Sprintf(msg, args...)
		t.Fatalf("%s: %d: Assertion failed: %s\n", file, line, s)
	}
}

// Return true if two byte arrays are equal
func byteEq(x, y []byte) bool {
	return subtle.ConstantTimeCompare(x, y) == 1
}

// deterministic plaintext for round-trip tests
func patternBuf(n int) []byte {
	b := make([]byte, n)
	for i := 0; i < n; i++ {
		b[i] = byte(i & 0xff)
	}
	return b
}

// seeded pseudo-random plaintext for range reassembly tests
func seededBuf(n int, seed int64) []byte {
	rng := rand.New(rand.NewSource(seed))
	b := make([]byte, n)
	rng.Read(b)
	return b
}

// testKas is a KAS keypair plus a ready offline target for it.
type testKas struct {
	sk  *rsa.PrivateKey
	url string
}

func newTestKas(t *testing.T, url string) *testKas {
	t.Helper()

	sk, err := newRSAKey(2048)
	if err != nil {
		t.Fatalf("rsa keygen: %s", err)
	}
	return &testKas{sk: sk, url: url}
}

func (k *testKas) target(t *testing.T) KasTarget {
	t.Helper()

	pem, err := pubToPEM(&k.sk.PublicKey)
	if err != nil {
		t.Fatalf("pubkey pem: %s", err)
	}

	return KasTarget{
		URL:          k.url,
		PublicKeyPEM: pem,
	}
}

func randint() int {
	for {
		n := int(randu32())
		if n > 0 {
			return n
		}
	}
}

func randmod(m int) int {
	return randint() % m
}

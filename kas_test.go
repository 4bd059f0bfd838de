// kas_test.go -- Test harness for the KAS client
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
	"bytes"
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

// fakeKas is an in-process KAS implementing the /v2 surface.
type fakeKas struct {
	t  *testing.T
	sk *rsa.PrivateKey

	srv *httptest.Server

	pubkeyGets  atomic.Int32
	rewrapPosts atomic.Int32
	upsertPosts atomic.Int32
	rewrapFails atomic.Int32 // remaining 500s to serve
	denyAll     bool
	upserted    map[string]string // policyBinding -> wrappedKey
	wantAuth    string
	wantDPoP    bool
}

func newFakeKas(t *testing.T) *fakeKas {
	t.Helper()

	sk, err := newRSAKey(2048)
	require.NoError(t, err)

	f := &fakeKas{
		t:        t,
		sk:       sk,
		upserted: make(map[string]string),
	}

	mux := http.NewServeMux()
	mux.HandleFunc(_KasPubkeyPath, f.handlePubkey)
	mux.HandleFunc(_KasRewrapPath, f.handleRewrap)
	mux.HandleFunc(_KasUpsertPath, f.handleUpsert)

	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeKas) handlePubkey(w http.ResponseWriter, r *http.Request) {
	f.pubkeyGets.Add(1)

	pem, err := pubToPEM(&f.sk.PublicKey)
	require.NoError(f.t, err)

	json.NewEncoder(w).Encode(map[string]string{
		"publicKey": pem,
		"kid":       "r1",
	})
}

// parseSigned validates the signed request token against the client
// public key it carries and returns the decoded request body.
func (f *fakeKas) parseSigned(r *http.Request) (*rewrapRequest, error) {
	var body struct {
		SignedRequestToken string `json:"signedRequestToken"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return nil, err
	}

	var rb rewrapRequest
	keyfn := func(tok *jwt.Token) (interface{}, error) {
		claims := tok.Claims.(jwt.MapClaims)
		s, _ := claims["requestBody"].(string)
		if err := json.Unmarshal([]byte(s), &rb); err != nil {
			return nil, err
		}
		return pubFromPEM(rb.ClientPublicKey)
	}

	_, err := jwt.Parse(body.SignedRequestToken, keyfn, jwt.WithValidMethods([]string{"RS256"}))
	if err != nil {
		return nil, err
	}
	return &rb, nil
}

func (f *fakeKas) checkCreds(w http.ResponseWriter, r *http.Request) bool {
	if f.wantAuth != "" && r.Header.Get("Authorization") != f.wantAuth {
		http.Error(w, "bad credentials", http.StatusUnauthorized)
		return false
	}
	if f.wantDPoP && r.Header.Get("DPoP") == "" {
		http.Error(w, "missing dpop proof", http.StatusUnauthorized)
		return false
	}
	return true
}

func (f *fakeKas) handleRewrap(w http.ResponseWriter, r *http.Request) {
	f.rewrapPosts.Add(1)

	if !f.checkCreds(w, r) {
		return
	}
	if f.denyAll {
		http.Error(w, "policy denied", http.StatusForbidden)
		return
	}
	if f.rewrapFails.Add(-1) >= 0 {
		http.Error(w, "flaky", http.StatusInternalServerError)
		return
	}

	rb, err := f.parseSigned(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	wk := rb.KeyAccess.WrappedKey
	if wk == "" {
		// remote KAO: the wrapped key was upserted earlier
		wk = f.upserted[rb.KeyAccess.PolicyBinding]
	}
	if wk == "" {
		http.Error(w, "no wrapped key", http.StatusBadRequest)
		return
	}

	wrapped, err := base64.StdEncoding.DecodeString(wk)
	if err != nil {
		http.Error(w, "bad wrappedKey", http.StatusBadRequest)
		return
	}

	key, err := rsaUnwrap(f.sk, wrapped)
	if err != nil {
		http.Error(w, "unwrap failed", http.StatusBadRequest)
		return
	}

	// the KAS enforces the policy binding before releasing the key
	if err := verifyPolicyBinding(key, rb.Policy, rb.KeyAccess.PolicyBinding); err != nil {
		http.Error(w, "binding mismatch", http.StatusForbidden)
		return
	}

	clientPK, err := pubFromPEM(rb.ClientPublicKey)
	if err != nil {
		http.Error(w, "bad client key", http.StatusBadRequest)
		return
	}

	ewk, err := rsaWrap(clientPK, key)
	if err != nil {
		http.Error(w, "wrap failed", http.StatusInternalServerError)
		return
	}

	json.NewEncoder(w).Encode(map[string]string{
		"entityWrappedKey": base64.StdEncoding.EncodeToString(ewk),
	})
}

func (f *fakeKas) handleUpsert(w http.ResponseWriter, r *http.Request) {
	f.upsertPosts.Add(1)

	if !f.checkCreds(w, r) {
		return
	}

	rb, err := f.parseSigned(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if rb.KeyAccess.WrappedKey == "" {
		http.Error(w, "no wrapped key", http.StatusBadRequest)
		return
	}

	f.upserted[rb.KeyAccess.PolicyBinding] = rb.KeyAccess.WrappedKey
	w.Write([]byte(`{}`))
}

func (f *fakeKas) client(t *testing.T, dpop bool) *Client {
	t.Helper()

	f.wantAuth = "Bearer tok-123"
	f.wantDPoP = dpop

	cl, err := NewClient(ClientConfig{
		ClientID:   "test-client",
		Auth:       &BearerAuth{Token: "tok-123", DPoP: dpop},
		HTTPClient: f.srv.Client(),
	})
	require.NoError(t, err)
	return cl
}

func TestKasRoundTrip(t *testing.T) {
	ctx := context.Background()
	f := newFakeKas(t)
	cl := f.client(t, false)

	pt := patternBuf(300_000)

	// no inline public key: the client fetches and caches it
	var out bytes.Buffer
	_, err := cl.Encrypt(ctx, NewBufferChunker(pt), &out, EncryptConfig{
		Targets:     []KasTarget{{URL: f.srv.URL}},
		SegmentSize: 100_000,
	})
	require.NoError(t, err)
	require.EqualValues(t, 1, f.pubkeyGets.Load())

	// second encrypt hits the cache
	var out2 bytes.Buffer
	_, err = cl.Encrypt(ctx, NewBufferChunker(pt), &out2, EncryptConfig{
		Targets:     []KasTarget{{URL: f.srv.URL}},
		SegmentSize: 100_000,
	})
	require.NoError(t, err)
	require.EqualValues(t, 1, f.pubkeyGets.Load())

	rd, err := cl.OpenReader(ctx, NewBufferChunker(out.Bytes()), DecryptConfig{})
	require.NoError(t, err)
	defer rd.Close()

	got, err := rd.ReadAll(ctx)
	require.NoError(t, err)
	require.True(t, byteEq(got, pt))
	require.EqualValues(t, 1, f.rewrapPosts.Load())
}

func TestKasDPoP(t *testing.T) {
	ctx := context.Background()
	f := newFakeKas(t)
	cl := f.client(t, true)

	var out bytes.Buffer
	_, err := cl.Encrypt(ctx, NewBufferChunker([]byte("hello")), &out, EncryptConfig{
		Targets: []KasTarget{{URL: f.srv.URL}},
	})
	require.NoError(t, err)

	rd, err := cl.OpenReader(ctx, NewBufferChunker(out.Bytes()), DecryptConfig{})
	require.NoError(t, err)
	defer rd.Close()

	got, err := rd.ReadAll(ctx)
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), got)
}

func TestKasForbidden(t *testing.T) {
	ctx := context.Background()
	f := newFakeKas(t)
	cl := f.client(t, false)

	var out bytes.Buffer
	_, err := cl.Encrypt(ctx, NewBufferChunker([]byte("hello")), &out, EncryptConfig{
		Targets: []KasTarget{{URL: f.srv.URL}},
	})
	require.NoError(t, err)

	f.denyAll = true
	f.rewrapPosts.Store(0)

	_, err = cl.OpenReader(ctx, NewBufferChunker(out.Bytes()), DecryptConfig{})
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrKasForbidden), "got: %v", err)
	require.Equal(t, ECKas, CodeOf(err))

	// policy denials are not retried
	require.EqualValues(t, 1, f.rewrapPosts.Load())
}

func TestKasTransientRetry(t *testing.T) {
	ctx := context.Background()
	f := newFakeKas(t)
	cl := f.client(t, false)

	var out bytes.Buffer
	_, err := cl.Encrypt(ctx, NewBufferChunker([]byte("hello")), &out, EncryptConfig{
		Targets: []KasTarget{{URL: f.srv.URL}},
	})
	require.NoError(t, err)

	// two 5xx then success: transport retries absorb the failures
	f.rewrapFails.Store(2)
	f.rewrapPosts.Store(0)

	rd, err := cl.OpenReader(ctx, NewBufferChunker(out.Bytes()), DecryptConfig{})
	require.NoError(t, err)
	defer rd.Close()

	require.EqualValues(t, 3, f.rewrapPosts.Load())

	got, err := rd.ReadAll(ctx)
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), got)
}

func TestKasMalformedRetriesOnce(t *testing.T) {
	ctx := context.Background()
	f := newFakeKas(t)
	cl := f.client(t, false)

	var out bytes.Buffer
	_, err := cl.Encrypt(ctx, NewBufferChunker([]byte("hello")), &out, EncryptConfig{
		Targets: []KasTarget{{URL: f.srv.URL}},
	})
	require.NoError(t, err)

	// corrupt the wrapped key so the KAS answers 400 every time;
	// the client invalidates its pubkey cache and retries exactly once
	bad := rebuildContainer(t, out.Bytes(), func(m *Manifest) {
		m.EncryptionInformation.KeyAccess[0].WrappedKey =
			base64.StdEncoding.EncodeToString(randBuf(256))
	})

	f.rewrapPosts.Store(0)

	_, err = cl.OpenReader(ctx, NewBufferChunker(bad), DecryptConfig{})
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrKasMalformed), "got: %v", err)
	require.EqualValues(t, 2, f.rewrapPosts.Load())
}

func TestKasUnauthorized(t *testing.T) {
	ctx := context.Background()
	f := newFakeKas(t)
	cl := f.client(t, false)

	var out bytes.Buffer
	_, err := cl.Encrypt(ctx, NewBufferChunker([]byte("hello")), &out, EncryptConfig{
		Targets: []KasTarget{{URL: f.srv.URL}},
	})
	require.NoError(t, err)

	// break the expected credentials
	f.wantAuth = "Bearer something-else"

	_, err = cl.OpenReader(ctx, NewBufferChunker(out.Bytes()), DecryptConfig{})
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrKasUnauthorized), "got: %v", err)
}

func TestKasRemoteUpsert(t *testing.T) {
	ctx := context.Background()
	f := newFakeKas(t)
	cl := f.client(t, false)

	pt := []byte("remote payload")

	var out bytes.Buffer
	m, err := cl.Encrypt(ctx, NewBufferChunker(pt), &out, EncryptConfig{
		Targets: []KasTarget{{URL: f.srv.URL, Remote: true}},
	})
	require.NoError(t, err)
	require.EqualValues(t, 1, f.upsertPosts.Load())

	// the manifest carries no wrapped key for a remote KAO
	kao := m.EncryptionInformation.KeyAccess[0]
	require.Equal(t, KeyAccessRemote, kao.Type)
	require.Empty(t, kao.WrappedKey)

	// rewrap resolves the key from the upserted record
	rd, err := cl.OpenReader(ctx, NewBufferChunker(out.Bytes()), DecryptConfig{})
	require.NoError(t, err)
	defer rd.Close()

	got, err := rd.ReadAll(ctx)
	require.NoError(t, err)
	require.Equal(t, pt, got)
}

// EOF

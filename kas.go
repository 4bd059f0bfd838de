// kas.go - Key Access Server client
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
//   - KAS public key fetch and per-URL caching
//   - the signed rewrap request and response handling
//   - the upsert call for remote key-access objects
//
// Rewrap is not idempotent at the policy layer: only transport
// failures and 5xx responses are retried with backoff. Policy denials
// (403) and malformed requests (400) are never retried by that loop;
// a malformed (400) or undecryptable rewrap answer is tried once more
// after the cached KAS public key is invalidated (see rewrap).

package tdf

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/cenkalti/backoff/v4"
	"github.com/golang-jwt/jwt/v5"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"
)

const (
	_KasPubkeyPath = "/v2/kas_public_key"
	_KasRewrapPath = "/v2/rewrap"
	_KasUpsertPath = "/v2/upsert"

	_KasAttempts  = 3
	_PubkeyCache  = 32
	_KasAlgorithm = "rsa:2048"
)

// kasClient talks to one or more Key Access Servers on behalf of a
// Client. It owns the public key cache; the session signing key and
// auth provider are borrowed from the Client.
type kasClient struct {
	hc     *http.Client
	auth   AuthProvider
	signer *SigningKey
	log    *logrus.Logger

	pubkeys *lru.Cache[string, string]
}

func newKasClient(hc *http.Client, auth AuthProvider, signer *SigningKey, log *logrus.Logger) (*kasClient, error) {
	if hc == nil {
		hc = http.DefaultClient
	}

	cache, err := lru.New[string, string](_PubkeyCache)
	if err != nil {
		return nil, wrapErr(ECKas, err, "pubkey cache")
	}

	return &kasClient{
		hc:      hc,
		auth:    auth,
		signer:  signer,
		log:     log,
		pubkeys: cache,
	}, nil
}

// publicKey returns the PEM text of the KAS public key, fetching and
// caching it on first use. Cache entries never expire within a
// process; stale keys surface as rewrap failures and are retried once
// with the entry invalidated.
func (k *kasClient) publicKey(ctx context.Context, kasURL string) (string, error) {
	if pem, ok := k.pubkeys.Get(kasURL); ok {
		return pem, nil
	}

	u := strings.TrimSuffix(kasURL, "/") + _KasPubkeyPath + "?algorithm=" + _KasAlgorithm

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", wrapErr(ECKas, err, "pubkey %s", kasURL)
	}

	resp, err := k.hc.Do(req)
	if err != nil {
		return "", wrapErr(ECKas, err, "pubkey %s", kasURL)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", k.statusErr(resp.StatusCode, "pubkey %s", kasURL)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", wrapErr(ECKas, err, "pubkey %s", kasURL)
	}

	pem := parsePubkeyBody(body)
	if pem == "" {
		return "", wrapErr(ECKas, ErrKasMalformed, "pubkey %s", kasURL)
	}

	k.pubkeys.Add(kasURL, pem)
	return pem, nil
}

// parsePubkeyBody accepts either {publicKey: PEM, kid?} or raw PEM
// text.
func parsePubkeyBody(b []byte) string {
	var v struct {
		PublicKey string `json:"publicKey"`
	}
	if err := json.Unmarshal(b, &v); err == nil && v.PublicKey != "" {
		return v.PublicKey
	}

	if s := string(b); strings.Contains(s, "BEGIN") {
		return s
	}
	return ""
}

// rewrapRequest is the requestBody claim of the signed token.
type rewrapRequest struct {
	Algorithm       string    `json:"algorithm"`
	KeyAccess       KeyAccess `json:"keyAccess"`
	Policy          string    `json:"policy"`
	ClientPublicKey string    `json:"clientPublicKey"`
}

// rewrapResponse is the expected KAS answer.
type rewrapResponse struct {
	EntityWrappedKey string          `json:"entityWrappedKey"`
	Metadata         json.RawMessage `json:"metadata,omitempty"`
}

// rewrap recovers the payload key for one key-access object. The
// returned metadata is the KAS response's metadata object, verbatim.
func (k *kasClient) rewrap(ctx context.Context, kao KeyAccess, policyB64 string) ([]byte, json.RawMessage, error) {
	key, md, err := k.rewrapOnce(ctx, kao, policyB64)
	if err == nil || isCancel(err) || !staleKeySuspect(err) {
		return key, md, err
	}

	// a stale cached public key shows up as an unwrap or schema
	// failure; invalidate and retry once
	k.log.WithField("kas", kao.URL).Debug("rewrap failed; invalidating cached public key")
	k.pubkeys.Remove(kao.URL)
	return k.rewrapOnce(ctx, kao, policyB64)
}

// staleKeySuspect reports whether a rewrap failure could stem from a
// stale cached KAS public key. Policy denials and auth failures never
// are.
func staleKeySuspect(err error) bool {
	return errors.Is(err, ErrKasMalformed) || errors.Is(err, ErrKasCryptoFailure)
}

func (k *kasClient) rewrapOnce(ctx context.Context, kao KeyAccess, policyB64 string) ([]byte, json.RawMessage, error) {
	body, err := k.post(ctx, kao.URL, _KasRewrapPath, kao, policyB64)
	if err != nil {
		return nil, nil, err
	}

	var rr rewrapResponse
	if err := json.Unmarshal(body, &rr); err != nil {
		return nil, nil, wrapErr(ECKas, ErrKasMalformed, "rewrap %s: %s", kao.URL, err)
	}
	if rr.EntityWrappedKey == "" {
		return nil, nil, wrapErr(ECKas, ErrKasMalformed, "rewrap %s: no entityWrappedKey", kao.URL)
	}

	ewk, err := base64.StdEncoding.DecodeString(rr.EntityWrappedKey)
	if err != nil {
		return nil, nil, wrapErr(ECKas, ErrKasMalformed, "rewrap %s: %s", kao.URL, err)
	}

	key, err := rsaUnwrap(k.signer.Private(), ewk)
	if err != nil {
		return nil, nil, wrapErr(ECKas, ErrKasCryptoFailure, "rewrap %s", kao.URL)
	}

	return key, rr.Metadata, nil
}

// upsert registers a wrapped key with KAS for a remote key-access
// object. The response is an opaque ack; any 2xx is success.
func (k *kasClient) upsert(ctx context.Context, kao KeyAccess, policyB64 string) error {
	_, err := k.post(ctx, kao.URL, _KasUpsertPath, kao, policyB64)
	return err
}

// post signs and sends one KAS request, retrying transport failures
// with exponential backoff.
func (k *kasClient) post(ctx context.Context, kasURL, path string, kao KeyAccess, policyB64 string) ([]byte, error) {
	tok, err := k.signRequest(kao, policyB64)
	if err != nil {
		return nil, err
	}

	reqBody, err := json.Marshal(map[string]string{
		"signedRequestToken": tok,
	})
	if err != nil {
		return nil, wrapErr(ECKas, err, "%s%s", kasURL, path)
	}

	u := strings.TrimSuffix(kasURL, "/") + path

	var out []byte
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(reqBody))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")

		if err := k.auth.WithCreds(req); err != nil {
			return backoff.Permanent(err)
		}

		resp, err := k.hc.Do(req)
		if err != nil {
			k.log.WithError(err).WithField("url", u).Debug("kas transport error; will retry")
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			k.log.WithField("url", u).WithField("status", resp.StatusCode).Debug("kas 5xx; will retry")
			return fmt.Errorf("%s: %s", u, resp.Status)
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return backoff.Permanent(k.statusErr(resp.StatusCode, "%s", u))
		}

		out, err = io.ReadAll(resp.Body)
		return err
	}

	bo := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), _KasAttempts-1)
	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		if isCancel(err) {
			return nil, wrapErr(ECAborted, err, "%s", u)
		}
		var te *Error
		if errors.As(err, &te) {
			return nil, te
		}
		return nil, wrapErr(ECKas, err, "%s", u)
	}

	return out, nil
}

// signRequest builds the signed request token: an RS256 JWT whose
// single claim is the serialized request body.
func (k *kasClient) signRequest(kao KeyAccess, policyB64 string) (string, error) {
	pubPEM, err := k.signer.PublicPEM()
	if err != nil {
		return "", err
	}

	rb, err := json.Marshal(&rewrapRequest{
		Algorithm:       "RS256",
		KeyAccess:       kao,
		Policy:          policyB64,
		ClientPublicKey: pubPEM,
	})
	if err != nil {
		return "", wrapErr(ECKas, err, "request body")
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
		"requestBody": string(rb),
	})

	s, err := tok.SignedString(k.signer.Private())
	if err != nil {
		return "", wrapErr(ECCrypto, err, "sign request token")
	}
	return s, nil
}

// statusErr maps a KAS HTTP status to the module error for it.
func (k *kasClient) statusErr(code int, f string, v ...interface{}) error {
	var base error
	switch code {
	case http.StatusUnauthorized:
		base = ErrKasUnauthorized
	case http.StatusForbidden:
		base = ErrKasForbidden
	case http.StatusNotFound:
		base = ErrKasNotFound
	case http.StatusBadRequest:
		base = ErrKasMalformed
	default:
		base = fmt.Errorf("kas: unexpected status %d", code)
	}
	return wrapErr(ECKas, base, f, v...)
}

// EOF

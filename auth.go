// auth.go - outbound request credentials
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
//   - the AuthProvider capability consumed by the KAS client
//   - a bearer-token provider with optional DPoP proofs bound to the
//     session signing key
//
// Token acquisition (OIDC refresh flow, external JWT exchange) lives
// outside this module; providers only decorate requests.

package tdf

import (
	"encoding/base64"
	"math/big"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// AuthProvider decorates outbound KAS requests with credentials and
// is told the session public key once per Client.
type AuthProvider interface {
	// WithCreds attaches Authorization (and, if DPoP, a proof bound
	// to the request method and URL) to 'req'.
	WithCreds(req *http.Request) error

	// UpdateClientPublicKey rebinds the provider's token to the
	// session public key. Called once at Client construction with
	// the session signing key, which signs DPoP proofs when those
	// are enabled.
	UpdateClientPublicKey(pubPEM string, signer *SigningKey) error
}

// BearerAuth is an AuthProvider that attaches a fixed bearer token,
// optionally with DPoP proofs.
type BearerAuth struct {
	Token string
	DPoP  bool

	signer *SigningKey
}

var _ AuthProvider = &BearerAuth{}

// WithCreds attaches the bearer token and, when enabled, a DPoP proof.
func (a *BearerAuth) WithCreds(req *http.Request) error {
	req.Header.Set("Authorization", "Bearer "+a.Token)

	if a.DPoP {
		if a.signer == nil {
			return newErr(ECConfig, "dpop enabled without a signing key")
		}

		proof, err := dpopProof(a.signer, req.Method, req.URL.String())
		if err != nil {
			return err
		}
		req.Header.Set("DPoP", proof)
	}
	return nil
}

// UpdateClientPublicKey records the session signing key for DPoP.
func (a *BearerAuth) UpdateClientPublicKey(_ string, signer *SigningKey) error {
	a.signer = signer
	return nil
}

// dpopProof builds a DPoP proof JWT for one request, signed by the
// session key and carrying the public JWK in the header.
func dpopProof(k *SigningKey, method, url string) (string, error) {
	pub := k.Public()

	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
		"jti": uuid.New().String(),
		"htm": method,
		"htu": url,
		"iat": time.Now().Unix(),
	})
	tok.Header["typ"] = "dpop+jwt"
	tok.Header["jwk"] = map[string]string{
		"kty": "RSA",
		"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
		"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
	}

	s, err := tok.SignedString(k.Private())
	if err != nil {
		return "", wrapErr(ECCrypto, err, "dpop proof")
	}
	return s, nil
}

// EOF

// keyaccess.go - policy binder and key-access builder
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
//   - wrapping the payload key for each KAS target
//   - the policy binding HMAC shared by every key-access object
//   - encrypted metadata bundles
//   - the upsert path for remote key-access objects

package tdf

import (
	"context"
	"encoding/base64"
	"encoding/json"
)

// KasTarget names one KAS the payload key is wrapped against.
type KasTarget struct {
	// URL is the KAS endpoint, e.g. "https://kas.example.com".
	URL string

	// PublicKeyPEM is the KAS wrapping key. When empty it is
	// fetched from the KAS (and cached).
	PublicKeyPEM string

	// KID optionally names the KAS key used, for rotation.
	KID string

	// Remote stores the wrapped key at the KAS via upsert instead
	// of inline in the manifest.
	Remote bool
}

// policyBinding computes base64(HMAC-SHA256(key, base64 policy)).
// The binding is identical across KAOs of a single policy.
func policyBinding(key []byte, policyB64 string) string {
	return base64.StdEncoding.EncodeToString(hmacSHA256(key, []byte(policyB64)))
}

// verifyPolicyBinding checks one KAO's binding in constant time.
func verifyPolicyBinding(key []byte, policyB64, binding string) error {
	want, err := base64.StdEncoding.DecodeString(binding)
	if err != nil {
		return wrapErr(ECManifest, err, "policyBinding base64")
	}

	if !sigEqual(hmacSHA256(key, []byte(policyB64)), want) {
		return ErrPolicyBinding
	}
	return nil
}

// metadataBundle is the cleartext layout of encryptedMetadata.
type metadataBundle struct {
	Ciphertext string `json:"ciphertext"`
	IV         string `json:"iv"`
	Tag        string `json:"tag"`
}

// sealMetadata encrypts caller metadata under the payload key with a
// fresh IV and bundles the parts for the manifest.
func sealMetadata(key, metadata []byte) (string, error) {
	ae, err := newAEAD(key)
	if err != nil {
		return "", err
	}

	iv := randBuf(_GCMNonceSize)
	out := ae.Seal(nil, iv, metadata, nil)
	ct, tag := out[:len(out)-_GCMTagSize], out[len(out)-_GCMTagSize:]

	b, err := json.Marshal(&metadataBundle{
		Ciphertext: base64.StdEncoding.EncodeToString(ct),
		IV:         base64.StdEncoding.EncodeToString(iv),
		Tag:        base64.StdEncoding.EncodeToString(tag),
	})
	if err != nil {
		return "", wrapErr(ECCrypto, err, "metadata bundle")
	}

	return base64.StdEncoding.EncodeToString(b), nil
}

// openMetadata reverses sealMetadata.
func openMetadata(key []byte, enc string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(enc)
	if err != nil {
		return nil, wrapErr(ECManifest, err, "encryptedMetadata base64")
	}

	var mb metadataBundle
	if err := json.Unmarshal(raw, &mb); err != nil {
		return nil, wrapErr(ECManifest, err, "encryptedMetadata json")
	}

	ct, err := base64.StdEncoding.DecodeString(mb.Ciphertext)
	if err != nil {
		return nil, wrapErr(ECManifest, err, "encryptedMetadata ciphertext")
	}
	iv, err := base64.StdEncoding.DecodeString(mb.IV)
	if err != nil {
		return nil, wrapErr(ECManifest, err, "encryptedMetadata iv")
	}
	tag, err := base64.StdEncoding.DecodeString(mb.Tag)
	if err != nil {
		return nil, wrapErr(ECManifest, err, "encryptedMetadata tag")
	}

	ae, err := newAEAD(key)
	if err != nil {
		return nil, err
	}

	pt, err := ae.Open(nil, iv, append(ct, tag...), nil)
	if err != nil {
		return nil, wrapErr(ECCrypto, ErrBadMetadata, "metadata unseal")
	}
	return pt, nil
}

// buildKeyAccess wraps the payload key for each target and emits the
// key-access array. Remote targets are registered with their KAS via
// upsert and the wrapped key is omitted from the manifest.
func buildKeyAccess(ctx context.Context, kc *kasClient, targets []KasTarget, key []byte, policyB64 string, metadata []byte) ([]KeyAccess, error) {
	if len(targets) == 0 {
		return nil, ErrNoKasURL
	}

	binding := policyBinding(key, policyB64)

	var encMeta string
	if len(metadata) > 0 {
		var err error
		if encMeta, err = sealMetadata(key, metadata); err != nil {
			return nil, err
		}
	}

	kaos := make([]KeyAccess, 0, len(targets))
	for _, t := range targets {
		pemText := t.PublicKeyPEM
		if pemText == "" {
			if kc == nil {
				return nil, newErr(ECConfig, "no public key for %s and no KAS client", t.URL)
			}
			var err error
			if pemText, err = kc.publicKey(ctx, t.URL); err != nil {
				return nil, err
			}
		}

		pk, err := pubFromPEM(pemText)
		if err != nil {
			return nil, wrapErr(ECCrypto, err, "kas %s", t.URL)
		}

		wrapped, err := rsaWrap(pk, key)
		if err != nil {
			return nil, wrapErr(ECCrypto, err, "kas %s", t.URL)
		}

		kao := KeyAccess{
			Type:              KeyAccessWrapped,
			URL:               t.URL,
			Protocol:          _ProtoKAS,
			WrappedKey:        base64.StdEncoding.EncodeToString(wrapped),
			PolicyBinding:     binding,
			EncryptedMetadata: encMeta,
			KID:               t.KID,
		}

		if t.Remote {
			if kc == nil {
				return nil, newErr(ECConfig, "remote key access needs a KAS client")
			}
			if err := kc.upsert(ctx, kao, policyB64); err != nil {
				return nil, err
			}

			kao.Type = KeyAccessRemote
			kao.WrappedKey = ""
		}

		kaos = append(kaos, kao)
	}

	return kaos, nil
}

// EOF

// manifest.go - typed model of the TDF manifest JSON
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
//   - the manifest and policy types and their (de)serialization
//   - strict parsing: unknown top-level keys are rejected and missing
//     required fields fail with an error naming the field
//
// The base64 text of encryptionInformation.policy is the canonical
// byte string for every HMAC in the format; it is never re-encoded.

package tdf

import (
	"bytes"
	"encoding/base64"
	"encoding/json"

	"github.com/google/uuid"
)

const (
	_PayloadRef   = "reference"
	_PayloadProto = "zip"
	_DefaultMime  = "application/octet-stream"

	_EncTypeSplit = "split"
	_AlgAESGCM    = "AES-256-GCM"
	_ProtoKAS     = "kas"

	// KAO storage types
	KeyAccessWrapped = "wrapped"
	KeyAccessRemote  = "remote"
)

// Manifest is the parsed 0.manifest.json document.
type Manifest struct {
	Payload               PayloadInfo    `json:"payload"`
	EncryptionInformation EncryptionInfo `json:"encryptionInformation"`
}

// PayloadInfo describes the payload entry of the container.
type PayloadInfo struct {
	Type        string `json:"type"`
	URL         string `json:"url"`
	Protocol    string `json:"protocol"`
	MimeType    string `json:"mimeType,omitempty"`
	IsEncrypted bool   `json:"isEncrypted"`
}

// EncryptionInfo aggregates key access, method, integrity and policy.
type EncryptionInfo struct {
	Type                 string        `json:"type"`
	KeyAccess            []KeyAccess   `json:"keyAccess"`
	Method               EncryptMethod `json:"method"`
	IntegrityInformation IntegrityInfo `json:"integrityInformation"`

	// base64(policy JSON), stored verbatim
	Policy string `json:"policy"`
}

// KeyAccess binds the payload key to one KAS and one policy.
type KeyAccess struct {
	Type       string `json:"type"`
	URL        string `json:"url"`
	Protocol   string `json:"protocol"`
	WrappedKey string `json:"wrappedKey,omitempty"`

	// base64(HMAC-SHA256(payload key, base64 policy))
	PolicyBinding string `json:"policyBinding"`

	EncryptedMetadata string `json:"encryptedMetadata,omitempty"`
	KID               string `json:"kid,omitempty"`
}

// EncryptMethod names the payload cipher.
type EncryptMethod struct {
	Algorithm    string `json:"algorithm"`
	IsStreamable bool   `json:"isStreamable"`
	IV           string `json:"iv"`
}

// IntegrityInfo carries per-segment and whole-payload integrity data.
type IntegrityInfo struct {
	RootSignature               RootSignature `json:"rootSignature"`
	SegmentHashAlg              string        `json:"segmentHashAlg"`
	SegmentSizeDefault          int64         `json:"segmentSizeDefault"`
	EncryptedSegmentSizeDefault int64         `json:"encryptedSegmentSizeDefault"`
	Segments                    []Segment     `json:"segments"`
}

// RootSignature is the HMAC over the ordered raw segment hashes.
type RootSignature struct {
	Alg string `json:"alg"`
	Sig string `json:"sig"`
}

// Segment records one encrypted segment of the payload, in payload
// order.
type Segment struct {
	Hash                 string `json:"hash"`
	SegmentSize          int64  `json:"segmentSize"`
	EncryptedSegmentSize int64  `json:"encryptedSegmentSize"`
}

// Policy is the access-control document bound into the manifest.
// Immutable once the object is encrypted.
type Policy struct {
	UUID string     `json:"uuid"`
	Body PolicyBody `json:"body"`
}

// PolicyBody holds data attributes and the dissemination list.
type PolicyBody struct {
	DataAttributes []Attribute `json:"dataAttributes"`
	Dissem         []string    `json:"dissem"`
}

// Attribute is one data attribute URI.
type Attribute struct {
	Attribute string `json:"attribute"`
}

// NewPolicy makes an empty policy with a fresh UUID.
func NewPolicy() *Policy {
	return &Policy{
		UUID: uuid.New().String(),
		Body: PolicyBody{
			DataAttributes: []Attribute{},
			Dissem:         []string{},
		},
	}
}

// ToBase64 serializes the policy and base64-encodes it; the result is
// the canonical policy byte string stored in the manifest.
func (p *Policy) ToBase64() (string, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return "", wrapErr(ECManifest, err, "policy marshal")
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

// PolicyFromBase64 decodes the manifest's policy field.
func PolicyFromBase64(s string) (*Policy, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, wrapErr(ECManifest, err, "policy base64")
	}

	var p Policy
	if err := json.Unmarshal(b, &p); err != nil {
		return nil, wrapErr(ECManifest, err, "policy json")
	}
	return &p, nil
}

// manifestKeys is the set of valid top-level manifest keys.
var manifestKeys = map[string]bool{
	"payload":               true,
	"encryptionInformation": true,
}

// ParseManifest decodes and validates manifest JSON.
func ParseManifest(b []byte) (*Manifest, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(b, &top); err != nil {
		return nil, wrapErr(ECManifest, err, "manifest json")
	}

	for k := range top {
		if !manifestKeys[k] {
			return nil, newErr(ECManifest, "unknown top-level key %q", k)
		}
	}

	var m Manifest
	dec := json.NewDecoder(bytes.NewReader(b))
	if err := dec.Decode(&m); err != nil {
		return nil, wrapErr(ECManifest, err, "manifest json")
	}

	if err := m.validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// validate checks the required fields of a decoded manifest.
func (m *Manifest) validate() error {
	missing := func(f string) error {
		return newErr(ECManifest, "missing required field %q", f)
	}

	switch {
	case m.Payload.URL == "":
		return missing("payload.url")
	case m.Payload.Type == "":
		return missing("payload.type")
	case m.Payload.Protocol == "":
		return missing("payload.protocol")
	}

	ei := &m.EncryptionInformation
	switch {
	case ei.Type == "":
		return missing("encryptionInformation.type")
	case len(ei.KeyAccess) == 0:
		return ErrNoKeyAccess
	case ei.Method.Algorithm == "":
		return missing("encryptionInformation.method.algorithm")
	case ei.Policy == "":
		return missing("encryptionInformation.policy")
	case ei.IntegrityInformation.RootSignature.Sig == "":
		return missing("integrityInformation.rootSignature.sig")
	case ei.IntegrityInformation.SegmentHashAlg == "":
		return missing("integrityInformation.segmentHashAlg")
	case len(ei.IntegrityInformation.Segments) == 0:
		return missing("integrityInformation.segments")
	}

	for i, ka := range ei.KeyAccess {
		switch {
		case ka.URL == "":
			return newErr(ECManifest, "keyAccess[%d]: missing url", i)
		case ka.PolicyBinding == "":
			return newErr(ECManifest, "keyAccess[%d]: missing policyBinding", i)
		case ka.Type == KeyAccessWrapped && ka.WrappedKey == "":
			return newErr(ECManifest, "keyAccess[%d]: missing wrappedKey", i)
		}
	}

	return nil
}

// ToJSON serializes the manifest.
func (m *Manifest) ToJSON() ([]byte, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, wrapErr(ECManifest, err, "manifest marshal")
	}
	return b, nil
}

// EOF

// manifest_test.go -- Test harness for manifest parsing
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
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"
)

// a minimal, valid manifest for parser tests
func validManifest(t *testing.T) *Manifest {
	t.Helper()

	p := NewPolicy()
	pb64, err := p.ToBase64()
	if err != nil {
		t.Fatalf("policy: %s", err)
	}

	return &Manifest{
		Payload: PayloadInfo{
			Type:        _PayloadRef,
			URL:         "0.payload",
			Protocol:    _PayloadProto,
			MimeType:    _DefaultMime,
			IsEncrypted: true,
		},
		EncryptionInformation: EncryptionInfo{
			Type: _EncTypeSplit,
			KeyAccess: []KeyAccess{{
				Type:          KeyAccessWrapped,
				URL:           "https://kas.example.com",
				Protocol:      _ProtoKAS,
				WrappedKey:    base64.StdEncoding.EncodeToString(randBuf(256)),
				PolicyBinding: base64.StdEncoding.EncodeToString(randBuf(32)),
			}},
			Method: EncryptMethod{
				Algorithm:    _AlgAESGCM,
				IsStreamable: true,
			},
			IntegrityInformation: IntegrityInfo{
				RootSignature: RootSignature{
					Alg: HS256,
					Sig: base64.StdEncoding.EncodeToString(randBuf(32)),
				},
				SegmentHashAlg:              HS256,
				SegmentSizeDefault:          DefaultSegmentSize,
				EncryptedSegmentSizeDefault: DefaultSegmentSize + _SegOverhead,
				Segments: []Segment{{
					Hash:                 base64.StdEncoding.EncodeToString(randBuf(32)),
					SegmentSize:          11,
					EncryptedSegmentSize: 39,
				}},
			},
			Policy: pb64,
		},
	}
}

func TestManifestRoundTrip(t *testing.T) {
	assert := newAsserter(t)

	m := validManifest(t)
	b, err := m.ToJSON()
	assert(err == nil, "marshal: %s", err)

	out, err := ParseManifest(b)
	assert(err == nil, "parse: %s", err)
	assert(out.EncryptionInformation.Policy == m.EncryptionInformation.Policy, "policy changed")
	assert(len(out.EncryptionInformation.KeyAccess) == 1, "keyAccess lost")
	assert(out.Payload.URL == "0.payload", "payload url changed")
}

func TestManifestUnknownKey(t *testing.T) {
	assert := newAsserter(t)

	m := validManifest(t)
	b, err := m.ToJSON()
	assert(err == nil, "marshal: %s", err)

	var top map[string]json.RawMessage
	err = json.Unmarshal(b, &top)
	assert(err == nil, "unmarshal: %s", err)

	top["x-vendor"] = json.RawMessage(`"nope"`)
	b2, err := json.Marshal(top)
	assert(err == nil, "marshal: %s", err)

	_, err = ParseManifest(b2)
	assert(err != nil, "unknown top-level key accepted")
	assert(CodeOf(err) == ECManifest, "wrong code %s", CodeOf(err))
	assert(strings.Contains(err.Error(), "x-vendor"), "error misses key name: %s", err)
}

func TestManifestMissingFields(t *testing.T) {
	assert := newAsserter(t)

	drop := []struct {
		name string
		mod  func(*Manifest)
	}{
		{"payload.url", func(m *Manifest) { m.Payload.URL = "" }},
		{"payload.type", func(m *Manifest) { m.Payload.Type = "" }},
		{"encryptionInformation.type", func(m *Manifest) { m.EncryptionInformation.Type = "" }},
		{"encryptionInformation.method.algorithm", func(m *Manifest) { m.EncryptionInformation.Method.Algorithm = "" }},
		{"encryptionInformation.policy", func(m *Manifest) { m.EncryptionInformation.Policy = "" }},
		{"integrityInformation.rootSignature.sig", func(m *Manifest) {
			m.EncryptionInformation.IntegrityInformation.RootSignature.Sig = ""
		}},
		{"integrityInformation.segmentHashAlg", func(m *Manifest) {
			m.EncryptionInformation.IntegrityInformation.SegmentHashAlg = ""
		}},
		{"integrityInformation.segments", func(m *Manifest) {
			m.EncryptionInformation.IntegrityInformation.Segments = nil
		}},
	}

	for _, d := range drop {
		m := validManifest(t)
		d.mod(m)

		b, err := m.ToJSON()
		assert(err == nil, "%s: marshal: %s", d.name, err)

		_, err = ParseManifest(b)
		assert(err != nil, "%s: accepted", d.name)
		assert(CodeOf(err) == ECManifest, "%s: wrong code %s", d.name, CodeOf(err))
	}

	// keyAccess with a wrapped type needs the wrapped key inline
	m := validManifest(t)
	m.EncryptionInformation.KeyAccess[0].WrappedKey = ""
	b, _ := m.ToJSON()
	_, err := ParseManifest(b)
	assert(err != nil, "wrapped KAO without wrappedKey accepted")

	// but a remote KAO does not
	m = validManifest(t)
	m.EncryptionInformation.KeyAccess[0].Type = KeyAccessRemote
	m.EncryptionInformation.KeyAccess[0].WrappedKey = ""
	b, _ = m.ToJSON()
	_, err = ParseManifest(b)
	assert(err == nil, "remote KAO without wrappedKey rejected: %s", err)
}

func TestPolicyRoundTrip(t *testing.T) {
	assert := newAsserter(t)

	p := NewPolicy()
	p.Body.DataAttributes = append(p.Body.DataAttributes,
		Attribute{Attribute: "https://example.com/attr/class/value/secret"})
	p.Body.Dissem = append(p.Body.Dissem, "alice@example.com")

	s, err := p.ToBase64()
	assert(err == nil, "encode: %s", err)

	out, err := PolicyFromBase64(s)
	assert(err == nil, "decode: %s", err)
	assert(out.UUID == p.UUID, "uuid changed")
	assert(len(out.Body.DataAttributes) == 1, "attributes lost")
	assert(out.Body.Dissem[0] == "alice@example.com", "dissem lost")

	_, err = PolicyFromBase64("!!not-base64!!")
	assert(err != nil, "decoded junk")
	assert(CodeOf(err) == ECManifest, "wrong code %s", CodeOf(err))
}

// EOF

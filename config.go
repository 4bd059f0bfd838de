// config.go - encrypt/decrypt configuration records
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

// Configuration is an immutable record with explicit optional fields
// and a validated Freeze step; the frozen copy is what the writer and
// reader consume. Byte limits are per-call configuration, not module
// state.

package tdf

import (
	"crypto/rsa"
)

const (
	// plaintext segment size bounds
	DefaultSegmentSize int64 = 1_000_000
	MinSegmentSize     int64 = 16 * 1024
	MaxSegmentSize     int64 = 4 * 1024 * 1024

	// the manifest segment array never exceeds this
	MaxSegments = 10_000

	// payload byte limits per container profile
	ZipByteLimit  int64 = 64 * 1000 * 1000 * 1000
	HTMLByteLimit int64 = 100 * 1000 * 1000

	// bounded parallelism for segment sealing
	DefaultQueueSize = 4
)

// ProgressFunc receives cumulative plaintext bytes processed; calls
// are monotonically non-decreasing and synchronous to the writer.
type ProgressFunc func(done int64)

// EncryptConfig describes one encrypt operation. Zero values select
// the documented defaults; Freeze validates and fills them in.
type EncryptConfig struct {
	// Targets are the KAS entries the payload key is wrapped for.
	Targets []KasTarget

	// Policy bound into the container. Nil means an empty policy
	// with a fresh UUID.
	Policy *Policy

	// MimeType of the plaintext; defaults to application/octet-stream.
	MimeType string

	// SegmentSize is the plaintext bytes per segment.
	SegmentSize int64

	// IntegrityAlg is HS256 (default) or GMAC.
	IntegrityAlg string

	// Metadata is optional cleartext metadata, sealed under the
	// payload key into every key-access object.
	Metadata []byte

	// PayloadKey optionally supplies the 32-byte payload key;
	// normally one is generated per object.
	PayloadKey []byte

	// ByteLimit caps the plaintext size; defaults to ZipByteLimit.
	ByteLimit int64

	// QueueSize bounds in-flight segment seals.
	QueueSize int

	// Progress, when set, is called after each committed segment.
	Progress ProgressFunc

	frozen bool
}

// Freeze validates the record and returns an immutable copy with
// defaults applied.
func (c EncryptConfig) Freeze() (EncryptConfig, error) {
	if c.frozen {
		return c, ErrFrozen
	}
	if len(c.Targets) == 0 {
		return c, ErrNoKasURL
	}
	for _, t := range c.Targets {
		if t.URL == "" {
			return c, ErrNoKasURL
		}
	}

	if c.SegmentSize == 0 {
		c.SegmentSize = DefaultSegmentSize
	}
	if c.SegmentSize < MinSegmentSize || c.SegmentSize > MaxSegmentSize {
		return c, ErrBadSegmentSize
	}

	switch c.IntegrityAlg {
	case "":
		c.IntegrityAlg = HS256
	case HS256, GMAC:
		// ok
	default:
		return c, newErr(ECConfig, "unknown integrity alg %q", c.IntegrityAlg)
	}

	if c.MimeType == "" {
		c.MimeType = _DefaultMime
	}
	if c.ByteLimit <= 0 {
		c.ByteLimit = ZipByteLimit
	}
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultQueueSize
	}
	if c.PayloadKey != nil && len(c.PayloadKey) != _AesKeySize {
		return c, newErr(ECConfig, "payload key must be %d bytes", _AesKeySize)
	}

	c.frozen = true
	return c, nil
}

// DecryptConfig describes one decrypt operation.
type DecryptConfig struct {
	// KasURL selects the key-access object to rewrap against; the
	// first KAO is used when empty.
	KasURL string

	// KasPrivateKey enables the offline path: the payload key is
	// unwrapped locally instead of calling /v2/rewrap.
	KasPrivateKey *rsa.PrivateKey

	frozen bool
}

// Freeze validates the record.
func (c DecryptConfig) Freeze() (DecryptConfig, error) {
	if c.frozen {
		return c, ErrFrozen
	}
	c.frozen = true
	return c, nil
}

// EOF

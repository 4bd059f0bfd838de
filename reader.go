// reader.go - segmented AEAD reader
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
//

// Implementation Notes for the decrypt path:
//
// Opening a container parses the manifest, recovers the payload key
// (rewrap against KAS, or a local unwrap when the caller holds the
// KAS private key), and verifies every policy binding and the root
// signature BEFORE any plaintext can be produced. Per-segment hashes
// are verified against the fetched ciphertext as segments are read;
// any mismatch aborts the whole read.
//
// Plaintext always reaches consumers in increasing payload-offset
// order; random access re-reads only the segments covering the
// requested window.

package tdf

import (
	"context"
	"crypto/cipher"
	"encoding/base64"
	"io"
)

// segExtent is the precomputed location of one segment.
type segExtent struct {
	ptOff int64 // plaintext offset
	ptLen int64
	ctOff int64 // offset within the payload entry
	ctLen int64
	sig   []byte // raw manifest hash
}

// Reader decrypts one TDF container with random access.
type Reader struct {
	cfg DecryptConfig
	man *Manifest

	src        Chunker
	payloadOff int64

	key []byte
	ae  cipher.AEAD

	kao  KeyAccess
	segs []segExtent
	size int64 // total plaintext
}

// OpenReader opens a container for offline decryption: the payload
// key is unwrapped locally with cfg.KasPrivateKey.
func OpenReader(ctx context.Context, src Chunker, cfg DecryptConfig) (*Reader, error) {
	return openReader(ctx, nil, src, cfg)
}

func openReader(ctx context.Context, kc *kasClient, src Chunker, cfg DecryptConfig) (*Reader, error) {
	if !cfg.frozen {
		var err error
		if cfg, err = cfg.Freeze(); err != nil {
			return nil, err
		}
	}

	cont, err := openContainer(ctx, src)
	if err != nil {
		return nil, err
	}

	man, err := ParseManifest(cont.ManifestJSON)
	if err != nil {
		return nil, err
	}

	r := &Reader{
		cfg:        cfg,
		man:        man,
		src:        src,
		payloadOff: cont.Payload.Offset,
	}

	if err := r.selectKao(); err != nil {
		return nil, err
	}

	if err := r.recoverKey(ctx, kc); err != nil {
		return nil, err
	}

	if err := r.verify(); err != nil {
		clear(r.key)
		return nil, err
	}

	if r.ae, err = newAEAD(r.key); err != nil {
		clear(r.key)
		return nil, err
	}

	return r, nil
}

// selectKao picks the key-access entry: the one matching cfg.KasURL,
// or the first.
func (r *Reader) selectKao() error {
	kaos := r.man.EncryptionInformation.KeyAccess
	if r.cfg.KasURL == "" {
		r.kao = kaos[0]
		return nil
	}

	for _, ka := range kaos {
		if ka.URL == r.cfg.KasURL {
			r.kao = ka
			return nil
		}
	}
	return newErr(ECManifest, "no keyAccess entry for %s", r.cfg.KasURL)
}

// recoverKey obtains the payload key for the selected KAO.
func (r *Reader) recoverKey(ctx context.Context, kc *kasClient) error {
	policyB64 := r.man.EncryptionInformation.Policy

	if r.cfg.KasPrivateKey != nil {
		wrapped, err := base64.StdEncoding.DecodeString(r.kao.WrappedKey)
		if err != nil {
			return wrapErr(ECManifest, err, "wrappedKey base64")
		}

		key, err := rsaUnwrap(r.cfg.KasPrivateKey, wrapped)
		if err != nil {
			return err
		}
		r.key = key
		return nil
	}

	if kc == nil {
		return newErr(ECConfig, "no KAS client and no KAS private key")
	}

	key, _, err := kc.rewrap(ctx, r.kao, policyB64)
	if err != nil {
		return err
	}
	r.key = key
	return nil
}

// verify checks every policy binding and the root signature, and
// precomputes the segment extents. No plaintext is released before
// this passes.
func (r *Reader) verify() error {
	ei := &r.man.EncryptionInformation

	for i, ka := range ei.KeyAccess {
		if err := verifyPolicyBinding(r.key, ei.Policy, ka.PolicyBinding); err != nil {
			return wrapErr(ECPolicy, err, "keyAccess[%d]", i)
		}
	}

	ii := &ei.IntegrityInformation
	if len(ii.Segments) > MaxSegments {
		return newErr(ECManifest, "too many segments (%d)", len(ii.Segments))
	}

	want, err := base64.StdEncoding.DecodeString(ii.RootSignature.Sig)
	if err != nil {
		return wrapErr(ECManifest, err, "rootSignature base64")
	}

	r.segs = make([]segExtent, len(ii.Segments))

	var ptOff, ctOff int64
	sigs := make([][]byte, len(ii.Segments))
	for i, s := range ii.Segments {
		sig, err := base64.StdEncoding.DecodeString(s.Hash)
		if err != nil {
			return wrapErr(ECManifest, err, "segments[%d].hash base64", i)
		}

		ptLen, ctLen := s.SegmentSize, s.EncryptedSegmentSize
		if ptLen == 0 && ctLen == 0 {
			ptLen = ii.SegmentSizeDefault
			ctLen = ii.EncryptedSegmentSizeDefault
		}
		if ctLen < _SegOverhead || ctLen-ptLen != _SegOverhead {
			return newErr(ECManifest, "segments[%d]: bad sizes %d/%d", i, ptLen, ctLen)
		}

		r.segs[i] = segExtent{
			ptOff: ptOff,
			ptLen: ptLen,
			ctOff: ctOff,
			ctLen: ctLen,
			sig:   sig,
		}
		sigs[i] = sig
		ptOff += ptLen
		ctOff += ctLen
	}
	r.size = ptOff

	if !sigEqual(rootSig(r.key, sigs), want) {
		return wrapErr(ECCrypto, ErrRootSig, "root signature")
	}

	return nil
}

// Size returns the total plaintext length.
func (r *Reader) Size() int64 {
	return r.size
}

// Manifest returns the parsed manifest.
func (r *Reader) Manifest() *Manifest {
	return r.man
}

// Policy returns the decoded policy.
func (r *Reader) Policy() (*Policy, error) {
	return PolicyFromBase64(r.man.EncryptionInformation.Policy)
}

// Metadata decrypts the selected KAO's encrypted metadata, or returns
// nil when there is none.
func (r *Reader) Metadata() ([]byte, error) {
	if r.kao.EncryptedMetadata == "" {
		return nil, nil
	}
	return openMetadata(r.key, r.kao.EncryptedMetadata)
}

// readSegment fetches, verifies and decrypts one segment.
func (r *Reader) readSegment(ctx context.Context, i int) ([]byte, error) {
	if r.ae == nil {
		return nil, newErr(ECConfig, "reader closed")
	}
	s := &r.segs[i]

	frame, err := r.src.ReadRange(ctx, r.payloadOff+s.ctOff, r.payloadOff+s.ctOff+s.ctLen)
	if err != nil {
		return nil, wrapErr(ECSource, err, "segment %d", i)
	}

	sig, err := segmentSig(r.man.EncryptionInformation.IntegrityInformation.SegmentHashAlg, r.key, frame)
	if err != nil {
		return nil, wrapErr(ECCrypto, err, "segment %d", i)
	}

	if !sigEqual(sig, s.sig) {
		return nil, wrapErr(ECCrypto, ErrSegmentHash, "segment %d", i)
	}

	pt, err := openSegment(r.ae, frame)
	if err != nil {
		return nil, wrapErr(ECCrypto, err, "segment %d", i)
	}
	if int64(len(pt)) != s.ptLen {
		return nil, newErr(ECCrypto, "segment %d: length %d != %d", i, len(pt), s.ptLen)
	}

	return pt, nil
}

// ReadRange decrypts the plaintext window [lo, hi).
func (r *Reader) ReadRange(ctx context.Context, lo, hi int64) ([]byte, error) {
	if lo < 0 || hi < lo || hi > r.size {
		return nil, newErr(ECSource, "bad range [%d, %d) of %d", lo, hi, r.size)
	}
	if lo == hi {
		return []byte{}, nil
	}

	out := make([]byte, 0, hi-lo)
	for i := range r.segs {
		s := &r.segs[i]
		if s.ptOff+s.ptLen <= lo {
			continue
		}
		if s.ptOff >= hi {
			break
		}

		if err := ctx.Err(); err != nil {
			return nil, wrapErr(ECAborted, err, "read")
		}

		pt, err := r.readSegment(ctx, i)
		if err != nil {
			return nil, err
		}

		a, b := int64(0), s.ptLen
		if lo > s.ptOff {
			a = lo - s.ptOff
		}
		if hi < s.ptOff+s.ptLen {
			b = hi - s.ptOff
		}
		out = append(out, pt[a:b]...)
	}

	return out, nil
}

// DecryptTo streams the whole plaintext to 'w' in payload order, one
// segment buffered at a time. On error the sink must treat the stream
// as poisoned: bytes already written precede the error.
func (r *Reader) DecryptTo(ctx context.Context, w io.Writer) error {
	for i := range r.segs {
		if err := ctx.Err(); err != nil {
			return wrapErr(ECAborted, err, "decrypt")
		}

		pt, err := r.readSegment(ctx, i)
		if err != nil {
			return err
		}

		if err := fullwrite(pt, w); err != nil {
			return wrapErr(ECSource, err, "write segment %d", i)
		}
	}
	return nil
}

// ReadAll decrypts the whole payload into memory.
func (r *Reader) ReadAll(ctx context.Context) ([]byte, error) {
	return r.ReadRange(ctx, 0, r.size)
}

// Close scrubs the payload key. The reader is unusable afterwards.
func (r *Reader) Close() error {
	clear(r.key)
	r.ae = nil
	return nil
}

// EOF

// writer.go - segmented AEAD writer
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

// Implementation Notes for the encrypt path:
//
// The plaintext is cut into segmentSizeDefault-byte windows (the last
// may be shorter). Every segment is sealed with a fresh random 12-byte
// IV and framed as
//
//	IV(12) || ct || tag(16)
//
// The framed segments are concatenated with no separators into the
// 0.payload entry. Each frame gets an integrity signature (HMAC-SHA256
// or GMAC over the frame) recorded in the manifest; the root signature
// is an HMAC over the raw segment signatures in commit order.
//
// Segments are sealed in parallel up to queueSize, but committed to
// the payload stream and the segments array strictly in ascending
// plaintext offset; parallelism is never observable in the output.

package tdf

import (
	"context"
	"crypto/cipher"
	"encoding/base64"
	"io"
	"sync"

	"github.com/opencoff/tdf/internal/zipx"
)

// Encryptor holds the state of one encrypt operation. Each operation
// owns its payload key and manifest builder; nothing is shared.
type Encryptor struct {
	cfg EncryptConfig

	key []byte
	ae  cipher.AEAD

	src Chunker
	cw  *zipx.Writer
	pw  io.Writer

	segs    []Segment
	rawSigs [][]byte
	done    int64
}

// Encrypt seals the content of 'src' into a TDF container on 'dst'
// using offline (inline wrapped) key access; every target must carry
// its KAS public key. The manifest is returned for inspection.
//
// Callers streaming to a final destination are responsible for
// discarding partial output on error (see Client.EncryptFile).
func Encrypt(ctx context.Context, src Chunker, dst io.Writer, cfg EncryptConfig) (*Manifest, error) {
	return encrypt(ctx, nil, src, dst, cfg)
}

func encrypt(ctx context.Context, kc *kasClient, src Chunker, dst io.Writer, cfg EncryptConfig) (*Manifest, error) {
	if !cfg.frozen {
		var err error
		if cfg, err = cfg.Freeze(); err != nil {
			return nil, err
		}
	}

	sz := src.Size()
	if sz > cfg.ByteLimit {
		return nil, wrapErr(ECConfig, ErrPayloadTooBig, "%d bytes > limit %d", sz, cfg.ByteLimit)
	}

	nseg := sz / cfg.SegmentSize
	if sz == 0 || sz%cfg.SegmentSize != 0 {
		nseg++
	}
	if nseg > MaxSegments {
		return nil, wrapErr(ECConfig, ErrTooManySegments, "%d segments of %d bytes", nseg, cfg.SegmentSize)
	}

	e := &Encryptor{
		cfg: cfg,
		src: src,
	}

	if cfg.PayloadKey != nil {
		e.key = make([]byte, _AesKeySize)
		copy(e.key, cfg.PayloadKey)
	} else {
		e.key = randBuf(_AesKeySize)
	}
	defer clear(e.key)

	ae, err := newAEAD(e.key)
	if err != nil {
		return nil, err
	}
	e.ae = ae

	policy := cfg.Policy
	if policy == nil {
		policy = NewPolicy()
	}
	policyB64, err := policy.ToBase64()
	if err != nil {
		return nil, err
	}

	kaos, err := buildKeyAccess(ctx, kc, cfg.Targets, e.key, policyB64, cfg.Metadata)
	if err != nil {
		return nil, err
	}

	e.cw = zipx.NewWriter(dst)
	if e.pw, err = e.cw.Payload(); err != nil {
		return nil, wrapErr(ECContainer, err, "payload entry")
	}

	if err := e.run(ctx, sz); err != nil {
		return nil, err
	}

	m := &Manifest{
		Payload: PayloadInfo{
			Type:        _PayloadRef,
			URL:         zipx.PayloadName,
			Protocol:    _PayloadProto,
			MimeType:    cfg.MimeType,
			IsEncrypted: true,
		},
		EncryptionInformation: EncryptionInfo{
			Type:      _EncTypeSplit,
			KeyAccess: kaos,
			Method: EncryptMethod{
				Algorithm:    _AlgAESGCM,
				IsStreamable: true,
			},
			IntegrityInformation: IntegrityInfo{
				RootSignature: RootSignature{
					Alg: HS256,
					Sig: base64.StdEncoding.EncodeToString(rootSig(e.key, e.rawSigs)),
				},
				SegmentHashAlg:              cfg.IntegrityAlg,
				SegmentSizeDefault:          cfg.SegmentSize,
				EncryptedSegmentSizeDefault: cfg.SegmentSize + _SegOverhead,
				Segments:                    e.segs,
			},
			Policy: policyB64,
		},
	}

	mb, err := m.ToJSON()
	if err != nil {
		return nil, err
	}

	if err := e.cw.Finish(mb); err != nil {
		return nil, wrapErr(ECContainer, err, "finish")
	}

	return m, nil
}

// sealed is one in-flight segment seal.
type sealed struct {
	frame []byte
	ptLen int
}

// run walks the plaintext in segment windows, sealing up to queueSize
// segments concurrently and committing them in order.
func (e *Encryptor) run(ctx context.Context, sz int64) error {
	segSz := e.cfg.SegmentSize

	var off int64
	for {
		if err := ctx.Err(); err != nil {
			return wrapErr(ECAborted, err, "encrypt")
		}

		// window of up to queueSize segments
		n := 0
		batch := make([]sealed, 0, e.cfg.QueueSize)
		for n < e.cfg.QueueSize {
			lo := off + int64(n)*segSz
			if lo >= sz && !(lo == 0 && sz == 0) {
				break
			}

			hi := lo + segSz
			if hi > sz {
				hi = sz
			}

			pt, err := e.src.ReadRange(ctx, lo, hi)
			if err != nil {
				return wrapErr(ECSource, err, "segment @%d", lo)
			}

			batch = append(batch, sealed{ptLen: len(pt), frame: pt})
			n++

			if hi >= sz {
				break
			}
		}
		if n == 0 {
			break
		}

		// seal the batch in parallel; frames replace plaintext in place
		var wg sync.WaitGroup
		for i := range batch {
			wg.Add(1)
			go func(s *sealed) {
				defer wg.Done()
				s.frame = sealSegment(e.ae, s.frame)
			}(&batch[i])
		}
		wg.Wait()

		// commit in ascending plaintext offset
		for i := range batch {
			if err := e.commit(&batch[i]); err != nil {
				return err
			}
		}

		off += int64(n) * segSz
		if off >= sz {
			break
		}
	}

	return nil
}

// commit writes one sealed segment to the payload stream and records
// its manifest entry.
func (e *Encryptor) commit(s *sealed) error {
	if err := fullwrite(s.frame, e.pw); err != nil {
		return wrapErr(ECContainer, err, "segment %d", len(e.segs))
	}

	sig, err := segmentSig(e.cfg.IntegrityAlg, e.key, s.frame)
	if err != nil {
		return wrapErr(ECCrypto, err, "segment %d", len(e.segs))
	}

	e.segs = append(e.segs, Segment{
		Hash:                 base64.StdEncoding.EncodeToString(sig),
		SegmentSize:          int64(s.ptLen),
		EncryptedSegmentSize: int64(len(s.frame)),
	})
	e.rawSigs = append(e.rawSigs, sig)
	e.done += int64(s.ptLen)

	if e.cfg.Progress != nil {
		e.cfg.Progress(e.done)
	}
	return nil
}

// Write _all_ bytes of buffer 'buf'
func fullwrite(buf []byte, wr io.Writer) error {
	n := len(buf)

	for n > 0 {
		m, err := wr.Write(buf)
		if err != nil {
			return err
		}

		n -= m
		buf = buf[m:]
	}
	return nil
}

// EOF

// chunker.go - uniform random-access byte sources
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
//   - the Chunker capability used by the container reader and the
//     segment writer to pull bytes from wherever the caller keeps them
//   - variants for in-memory buffers, local files, one-shot streams
//     and remote HTTP sources (Range requests with retry)

package tdf

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/cenkalti/backoff/v4"
	"github.com/opencoff/go-mmap"
)

// Chunker is a random-access byte source. All variants behave
// identically for equivalent ranges.
//
// ReadRange returns bytes [start, end). A negative start is
// interpreted as an offset from the end of the content, clamped at
// zero. End is exclusive; a negative end counts from the end of the
// content for local sources, and fails with ErrUnsupportedRange for
// remote ones.
type Chunker interface {
	ReadAll(ctx context.Context) ([]byte, error)
	ReadRange(ctx context.Context, start, end int64) ([]byte, error)
	Size() int64
}

// resolveRange maps the caller-facing (start, end) pair onto concrete
// offsets within a source of 'sz' bytes.
func resolveRange(start, end, sz int64) (int64, int64, error) {
	if start < 0 {
		start = sz + start
		if start < 0 {
			start = 0
		}
	}
	if end < 0 {
		end = sz + end
	}

	switch {
	case end < start:
		return 0, 0, newErr(ECSource, "bad range [%d, %d)", start, end)
	case end > sz:
		return 0, 0, newErr(ECSource, "range [%d, %d) past end of %d byte source", start, end, sz)
	case start > sz:
		return 0, 0, newErr(ECSource, "offset %d past end of %d byte source", start, sz)
	}
	return start, end, nil
}

// -- in-memory buffer --

type bufChunker struct {
	b []byte
}

// NewBufferChunker makes a chunker over an in-memory byte slice.
// The slice is not copied.
func NewBufferChunker(b []byte) Chunker {
	return &bufChunker{b: b}
}

// NewStreamChunker materializes a one-shot stream into a buffer and
// serves ranges from it.
func NewStreamChunker(rd io.Reader) (Chunker, error) {
	b, err := io.ReadAll(rd)
	if err != nil {
		return nil, wrapErr(ECSource, err, "stream")
	}
	return &bufChunker{b: b}, nil
}

func (c *bufChunker) Size() int64 {
	return int64(len(c.b))
}

func (c *bufChunker) ReadAll(_ context.Context) ([]byte, error) {
	out := make([]byte, len(c.b))
	copy(out, c.b)
	return out, nil
}

func (c *bufChunker) ReadRange(_ context.Context, start, end int64) ([]byte, error) {
	lo, hi, err := resolveRange(start, end, int64(len(c.b)))
	if err != nil {
		return nil, err
	}

	out := make([]byte, hi-lo)
	copy(out, c.b[lo:hi])
	return out, nil
}

// -- local file --

type FileChunker struct {
	fd *os.File
	sz int64
}

// NewFileChunker makes a chunker over a seekable local file.
func NewFileChunker(fn string) (*FileChunker, error) {
	fd, err := os.Open(fn)
	if err != nil {
		return nil, wrapErr(ECSource, err, "open %s", fn)
	}

	st, err := fd.Stat()
	if err != nil {
		fd.Close()
		return nil, wrapErr(ECSource, err, "stat %s", fn)
	}

	return &FileChunker{fd: fd, sz: st.Size()}, nil
}

func (c *FileChunker) Size() int64 {
	return c.sz
}

func (c *FileChunker) ReadAll(_ context.Context) ([]byte, error) {
	out := make([]byte, 0, c.sz)
	_, err := mmap.Reader(c.fd, func(b []byte) error {
		out = append(out, b...)
		return nil
	})
	if err != nil {
		return nil, wrapErr(ECSource, err, "read %s", c.fd.Name())
	}
	return out, nil
}

func (c *FileChunker) ReadRange(_ context.Context, start, end int64) ([]byte, error) {
	lo, hi, err := resolveRange(start, end, c.sz)
	if err != nil {
		return nil, err
	}

	out := make([]byte, hi-lo)
	n, err := c.fd.ReadAt(out, lo)
	if err != nil && !(err == io.EOF && n == len(out)) {
		return nil, wrapErr(ECSource, err, "read %s @%d", c.fd.Name(), lo)
	}
	return out, nil
}

// Close releases the underlying file.
func (c *FileChunker) Close() error {
	return c.fd.Close()
}

// -- remote HTTP --

const _HTTPAttempts = 3

type httpChunker struct {
	cl  *http.Client
	url string
	sz  int64
}

// NewHTTPChunker makes a chunker over a remote URL using ranged GETs.
// The size is probed once at construction.
func NewHTTPChunker(ctx context.Context, cl *http.Client, url string) (Chunker, error) {
	if cl == nil {
		cl = http.DefaultClient
	}

	c := &httpChunker{cl: cl, url: url, sz: -1}

	err := c.retry(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
		if err != nil {
			return backoff.Permanent(err)
		}

		resp, err := cl.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("HEAD %s: %s", url, resp.Status)
		}
		if resp.ContentLength < 0 {
			return backoff.Permanent(fmt.Errorf("HEAD %s: no content length", url))
		}

		c.sz = resp.ContentLength
		return nil
	})
	if err != nil {
		return nil, wrapErr(ECSource, err, "remote %s", url)
	}

	return c, nil
}

func (c *httpChunker) Size() int64 {
	return c.sz
}

func (c *httpChunker) ReadAll(ctx context.Context) ([]byte, error) {
	return c.get(ctx, "")
}

func (c *httpChunker) ReadRange(ctx context.Context, start, end int64) ([]byte, error) {
	if end < 0 {
		return nil, ErrUnsupportedRange
	}

	lo, hi, err := resolveRange(start, end, c.sz)
	if err != nil {
		return nil, err
	}
	if lo == hi {
		return []byte{}, nil
	}

	// Range header is inclusive on both ends
	return c.get(ctx, fmt.Sprintf("bytes=%d-%d", lo, hi-1))
}

// get performs a (ranged) GET with exponential backoff. GETs are
// idempotent, so transport failures are retried.
func (c *httpChunker) get(ctx context.Context, rangeHdr string) ([]byte, error) {
	var out []byte

	err := c.retry(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		if rangeHdr != "" {
			req.Header.Set("Range", rangeHdr)
		}

		resp, err := c.cl.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusOK, resp.StatusCode == http.StatusPartialContent:
			// fallthrough to body read
		case resp.StatusCode >= 500:
			return fmt.Errorf("GET %s: %s", c.url, resp.Status)
		default:
			return backoff.Permanent(fmt.Errorf("GET %s: %s", c.url, resp.Status))
		}

		out, err = io.ReadAll(resp.Body)
		return err
	})
	if err != nil {
		return nil, wrapErr(ECSource, err, "remote %s", c.url)
	}

	return out, nil
}

func (c *httpChunker) retry(ctx context.Context, op func() error) error {
	bo := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), _HTTPAttempts-1)
	return backoff.Retry(op, backoff.WithContext(bo, ctx))
}

// EOF

// zipx.go - constrained ZIP layout for TDF containers
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

// A TDF container is a ZIP archive with exactly two entries, both
// STORED (never DEFLATE):
//
//	0.payload        raw concatenation of framed segment ciphertexts
//	0.manifest.json  UTF-8 JSON manifest
//
// The writer emits them in that order and relies on archive/zip's
// data descriptors and automatic ZIP64 switch past 4 GiB. The reader
// locates both entries from the central directory through an
// io.ReaderAt, so remote sources need only ranged reads.
package zipx

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
)

const (
	PayloadName  = "0.payload"
	ManifestName = "0.manifest.json"
)

var (
	ErrNoPayload   = errors.New("zipx: entry 0.payload missing")
	ErrNoManifest  = errors.New("zipx: entry 0.manifest.json missing")
	ErrNotStored   = errors.New("zipx: payload entry is not STORED")
	ErrOutOfOrder  = errors.New("zipx: payload must be written before the manifest")
	ErrFinished    = errors.New("zipx: archive already finished")
	ErrNotFinished = errors.New("zipx: archive not finished")
)

// Extent describes the raw byte range of a STORED entry within the
// archive.
type Extent struct {
	Offset int64
	Size   int64
}

// Container is the parsed view of a TDF archive: the manifest bytes
// and the extent of the payload entry.
type Container struct {
	Payload      Extent
	ManifestJSON []byte
}

// Open parses the central directory of the archive behind 'ra' and
// extracts the manifest entry. The payload body is not read; only its
// extent is recorded.
func Open(ra io.ReaderAt, size int64) (*Container, error) {
	zr, err := zip.NewReader(ra, size)
	if err != nil {
		return nil, fmt.Errorf("zipx: %w", err)
	}

	var payload, manifest *zip.File
	for _, f := range zr.File {
		switch f.Name {
		case PayloadName:
			payload = f
		case ManifestName:
			manifest = f
		}
	}

	if payload == nil {
		return nil, ErrNoPayload
	}
	if manifest == nil {
		return nil, ErrNoManifest
	}

	// random access into the payload needs the raw stored bytes
	if payload.Method != zip.Store {
		return nil, ErrNotStored
	}

	off, err := payload.DataOffset()
	if err != nil {
		return nil, fmt.Errorf("zipx: payload offset: %w", err)
	}

	mrd, err := manifest.Open()
	if err != nil {
		return nil, fmt.Errorf("zipx: manifest: %w", err)
	}
	defer mrd.Close()

	mb, err := io.ReadAll(mrd)
	if err != nil {
		return nil, fmt.Errorf("zipx: manifest: %w", err)
	}

	c := &Container{
		Payload: Extent{
			Offset: off,
			Size:   int64(payload.UncompressedSize64),
		},
		ManifestJSON: mb,
	}
	return c, nil
}

// Writer assembles a TDF archive on a streaming sink.
type Writer struct {
	zw *zip.Writer

	pw       io.Writer
	finished bool
}

// NewWriter makes a container writer on top of 'w'. Nothing reaches
// 'w' until Payload() is called.
func NewWriter(w io.Writer) *Writer {
	return &Writer{
		zw: zip.NewWriter(w),
	}
}

// Payload creates the 0.payload entry and returns the sink for raw
// segment ciphertexts.
func (w *Writer) Payload() (io.Writer, error) {
	if w.finished {
		return nil, ErrFinished
	}
	if w.pw != nil {
		return w.pw, nil
	}

	pw, err := w.zw.CreateHeader(&zip.FileHeader{
		Name:   PayloadName,
		Method: zip.Store,
	})
	if err != nil {
		return nil, fmt.Errorf("zipx: payload entry: %w", err)
	}

	w.pw = pw
	return pw, nil
}

// Finish writes the manifest entry and the central directory. The
// archive is complete when Finish returns nil.
func (w *Writer) Finish(manifestJSON []byte) error {
	if w.finished {
		return ErrFinished
	}
	if w.pw == nil {
		return ErrOutOfOrder
	}

	mw, err := w.zw.CreateHeader(&zip.FileHeader{
		Name:   ManifestName,
		Method: zip.Store,
	})
	if err != nil {
		return fmt.Errorf("zipx: manifest entry: %w", err)
	}

	if _, err := mw.Write(manifestJSON); err != nil {
		return fmt.Errorf("zipx: manifest: %w", err)
	}

	if err := w.zw.Close(); err != nil {
		return fmt.Errorf("zipx: close: %w", err)
	}

	w.finished = true
	return nil
}

// EOF

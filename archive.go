// archive.go - container access over a chunker
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
	"archive/zip"
	"context"
	"errors"
	"io"

	"github.com/opencoff/tdf/internal/zipx"
)

// chunkerAt adapts a Chunker to io.ReaderAt so the ZIP central
// directory can be located with ranged reads only; a remote source is
// never downloaded in full just to find the manifest.
type chunkerAt struct {
	ctx context.Context
	ck  Chunker
}

func (c *chunkerAt) ReadAt(p []byte, off int64) (int, error) {
	sz := c.ck.Size()
	if off >= sz {
		return 0, io.EOF
	}

	end := off + int64(len(p))
	if end > sz {
		end = sz
	}

	b, err := c.ck.ReadRange(c.ctx, off, end)
	if err != nil {
		return 0, err
	}

	n := copy(p, b)
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// openContainer locates the payload extent and reads the manifest
// entry of the archive behind 'ck'.
func openContainer(ctx context.Context, ck Chunker) (*zipx.Container, error) {
	ra := &chunkerAt{ctx: ctx, ck: ck}

	cont, err := zipx.Open(ra, ck.Size())
	if err != nil {
		switch {
		case errors.Is(err, zipx.ErrNoPayload):
			err = ErrNoPayload
		case errors.Is(err, zipx.ErrNoManifest):
			err = ErrNoManifest
		case errors.Is(err, zip.ErrFormat):
			err = ErrNotTDF
		}
		return nil, wrapErr(ECContainer, err, "open")
	}
	return cont, nil
}

// InspectFile parses the manifest of the container at 'fn' without
// recovering any key material.
func InspectFile(fn string) (*Manifest, error) {
	src, err := NewFileChunker(fn)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	cont, err := openContainer(context.Background(), src)
	if err != nil {
		return nil, err
	}

	return ParseManifest(cont.ManifestJSON)
}

// EOF

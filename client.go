// client.go - TDF client facade
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

// A Client owns the session signing keypair and the KAS client; each
// encrypt or decrypt operation gets its own payload key and state.
// The auth provider is told the session public key exactly once, at
// construction.

package tdf

import (
	"context"
	"io"
	"net/http"
	"os"

	"github.com/opencoff/go-fio"
	"github.com/sirupsen/logrus"
)

// ClientConfig configures a Client.
type ClientConfig struct {
	// ClientID identifies this client and is required; it becomes the
	// comment of a generated session key.
	ClientID string

	// Auth decorates outbound KAS requests.
	Auth AuthProvider

	// HTTPClient is used for all KAS traffic; connections are pooled
	// per host by the transport. Remote sources made with
	// NewHTTPChunker take their own client.
	HTTPClient *http.Client

	// Logger receives debug output; nil discards.
	Logger *logrus.Logger

	// SigningKey is the session keypair; one is generated when nil.
	SigningKey *SigningKey
}

// Client is the long-lived handle for encrypting and decrypting TDF
// objects against one or more KAS endpoints.
type Client struct {
	id     string
	signer *SigningKey
	kas    *kasClient
	log    *logrus.Logger
}

// NewClient validates the config, binds the session public key to the
// auth provider and returns a ready Client.
func NewClient(cc ClientConfig) (*Client, error) {
	if cc.ClientID == "" {
		return nil, ErrNoClientId
	}
	if cc.Auth == nil {
		return nil, newErr(ECConfig, "auth provider required")
	}

	log := cc.Logger
	if log == nil {
		log = logrus.New()
		log.SetOutput(io.Discard)
	}

	signer := cc.SigningKey
	if signer == nil {
		var err error
		if signer, err = NewSigningKey(cc.ClientID); err != nil {
			return nil, err
		}
	}

	pubPEM, err := signer.PublicPEM()
	if err != nil {
		return nil, err
	}
	if err := cc.Auth.UpdateClientPublicKey(pubPEM, signer); err != nil {
		return nil, wrapErr(ECConfig, err, "auth rebind")
	}

	kas, err := newKasClient(cc.HTTPClient, cc.Auth, signer, log)
	if err != nil {
		return nil, err
	}

	return &Client{
		id:     cc.ClientID,
		signer: signer,
		kas:    kas,
		log:    log,
	}, nil
}

// SigningKey returns the session keypair.
func (c *Client) SigningKey() *SigningKey {
	return c.signer
}

// Encrypt seals 'src' into a TDF container on 'dst'. Targets without
// an inline public key are resolved against their KAS.
func (c *Client) Encrypt(ctx context.Context, src Chunker, dst io.Writer, cfg EncryptConfig) (*Manifest, error) {
	return encrypt(ctx, c.kas, src, dst, cfg)
}

// EncryptFile encrypts 'infile' into a container at 'outfile'. The
// output is written to a temporary and renamed on success; a failed
// or cancelled encrypt leaves no partial container behind.
func (c *Client) EncryptFile(ctx context.Context, infile, outfile string, ovwrite bool, cfg EncryptConfig) (*Manifest, error) {
	src, err := NewFileChunker(infile)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	var opts uint32
	if ovwrite {
		opts |= fio.OPT_OVERWRITE
	}

	sf, err := fio.NewSafeFile(outfile, opts, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return nil, wrapErr(ECContainer, err, "create %s", outfile)
	}
	defer sf.Abort()

	m, err := c.Encrypt(ctx, src, sf, cfg)
	if err != nil {
		return nil, err
	}

	if err := sf.Close(); err != nil {
		return nil, wrapErr(ECContainer, err, "commit %s", outfile)
	}
	return m, nil
}

// OpenReader opens a container for decryption; the payload key is
// recovered by rewrap against the selected KAS.
func (c *Client) OpenReader(ctx context.Context, src Chunker, cfg DecryptConfig) (*Reader, error) {
	return openReader(ctx, c.kas, src, cfg)
}

// DecryptFile decrypts the container at 'infile' into 'outfile'.
func (c *Client) DecryptFile(ctx context.Context, infile, outfile string, ovwrite bool, cfg DecryptConfig) error {
	src, err := NewFileChunker(infile)
	if err != nil {
		return err
	}
	defer src.Close()

	rd, err := c.OpenReader(ctx, src, cfg)
	if err != nil {
		return err
	}
	defer rd.Close()

	return DecryptToFile(ctx, rd, outfile, ovwrite)
}

// DecryptToFile streams a reader's plaintext to 'outfile' through a
// temporary; no partial plaintext is left behind on failure.
func DecryptToFile(ctx context.Context, rd *Reader, outfile string, ovwrite bool) error {
	var opts uint32
	if ovwrite {
		opts |= fio.OPT_OVERWRITE
	}

	sf, err := fio.NewSafeFile(outfile, opts, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return wrapErr(ECContainer, err, "create %s", outfile)
	}
	defer sf.Abort()

	if err := rd.DecryptTo(ctx, sf); err != nil {
		return err
	}

	if err := sf.Close(); err != nil {
		return wrapErr(ECContainer, err, "commit %s", outfile)
	}
	return nil
}

// EOF

// errors.go - error codes and exportable errors for this module
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

package tdf

import (
	"context"
	"errors"
	"fmt"
)

// ErrCode is a stable, machine readable classification of an error
// returned by this module. Callers dispatch on the code; the message
// is for humans.
type ErrCode string

const (
	ECConfig    ErrCode = "config"    // bad or missing configuration
	ECSource    ErrCode = "source"    // chunker I/O or unsupported range
	ECContainer ErrCode = "container" // zip structure, missing entry
	ECManifest  ErrCode = "manifest"  // schema, unknown field, base64
	ECCrypto    ErrCode = "crypto"    // AEAD, HMAC or RSA failure
	ECPolicy    ErrCode = "policy"    // policy binding mismatch
	ECKas       ErrCode = "kas"       // KAS protocol failure
	ECAborted   ErrCode = "aborted"   // operation cancelled
)

// Error is the error type returned across the public API of this
// module. It carries a stable code and wraps the underlying cause.
type Error struct {
	Code ErrCode
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("tdf: %s: %s: %s", e.Code, e.Msg, e.Err)
	}
	return fmt.Sprintf("tdf: %s: %s", e.Code, e.Msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// newErr makes a module error with code 'c' and a formatted message.
func newErr(c ErrCode, f string, v ...interface{}) *Error {
	return &Error{Code: c, Msg: fmt.Sprintf(f, v...)}
}

// wrapErr makes a module error wrapping 'err'. If err already carries
// a code, that code wins; cancellation always maps to ECAborted.
func wrapErr(c ErrCode, err error, f string, v ...interface{}) *Error {
	var te *Error
	if errors.As(err, &te) {
		c = te.Code
	}
	if isCancel(err) {
		c = ECAborted
	}
	return &Error{Code: c, Msg: fmt.Sprintf(f, v...), Err: err}
}

// isCancel returns true if err stems from context cancellation.
func isCancel(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// CodeOf returns the error code carried by 'err', or the empty string
// if err carries none: errors from other packages, and the sentinel
// values below when they are returned bare rather than wrapped in an
// Error.
func CodeOf(err error) ErrCode {
	var te *Error
	if errors.As(err, &te) {
		return te.Code
	}
	return ""
}

var (
	ErrNoKasURL         = errors.New("config: no KAS endpoint configured")
	ErrBadSegmentSize   = errors.New("config: segment size out of range (16 KiB .. 4 MiB)")
	ErrNoClientId       = errors.New("config: clientId absent")
	ErrFrozen           = errors.New("config: already frozen")
	ErrUnsupportedRange = errors.New("source: negative end offset unsupported for remote sources")
	ErrNotTDF           = errors.New("container: not a TDF container")
	ErrNoPayload        = errors.New("container: entry 0.payload missing")
	ErrNoManifest       = errors.New("container: entry 0.manifest.json missing")
	ErrNoKeyAccess      = errors.New("manifest: no keyAccess entries")
	ErrTooManySegments  = errors.New("encrypt: segment count exceeds limit")
	ErrPayloadTooBig    = errors.New("encrypt: payload exceeds configured byte limit")
	ErrPolicyBinding    = errors.New("policy: binding mismatch")
	ErrRootSig          = errors.New("crypto: root signature mismatch")
	ErrSegmentHash      = errors.New("crypto: segment hash mismatch")
	ErrKasUnauthorized  = errors.New("kas: unauthorized (401)")
	ErrKasForbidden     = errors.New("kas: policy denied (403)")
	ErrKasNotFound      = errors.New("kas: not found (404)")
	ErrKasMalformed     = errors.New("kas: malformed response")
	ErrKasCryptoFailure = errors.New("kas: entity key unwrap failed")
	ErrBadMetadata      = errors.New("kas: metadata decrypt failed")
)

// EOF

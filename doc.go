// doc.go - package overview
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

// Package tdf produces and consumes Trusted Data Format (TDF)
// containers: ZIP archives holding a segmented AES-256-GCM payload
// and a signed JSON manifest that binds the payload key to a policy
// via one or more Key Access Servers (KAS).
//
// Encryption wraps the payload key for each KAS with RSA-OAEP and
// records a policy binding HMAC in every key-access object; the
// payload is cut into individually authenticated segments whose
// ordered hashes are sealed by a root signature. Decryption recovers
// the payload key - by a signed rewrap call against a KAS, or locally
// when the caller holds the KAS private key - and verifies the policy
// bindings, the root signature and each segment hash before plaintext
// is released.
//
// The Chunker interface abstracts byte sources (memory, file, stream,
// ranged HTTP), giving both full-stream and random-access reads over
// the same container.
package tdf

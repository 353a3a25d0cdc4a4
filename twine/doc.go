// Package twine defines the blocks of a chain: the Strand that roots it and
// the Tixels appended to it.
//
// Every block is a container {c: content, s: signature}. The signature is
// over the canonical CBOR encoding of the content; the CID is over the
// canonical CBOR encoding of the whole container, hashed with the hash code
// the content declares in its "h" field. Blocks are immutable once built:
// constructors copy their inputs and accessors return copies.
//
// Constructors (NewStrand, NewTixel) sign and address a block. Decoders
// (DecodeStrand, DecodeTixel, DecodeTwine) compute the CID of the bytes they
// are given; FromBlock keeps a CID declared by a backend so that verification
// can detect a mismatch. Nothing in this package checks signatures or chain
// structure; that is the verify package's job.
package twine

// Package codec holds the canonical encodings of twine blocks.
//
// Two forms exist and are interconvertible without loss:
//
//   - Binary: RFC 8949 core deterministic CBOR. This is the form that is
//     hashed into a CID and signed. Links to other blocks are CBOR tag 42
//     carrying the binary CID behind a 0x00 prefix byte.
//   - JSON: links are {"/": "<cid>"} and byte strings are
//     {"/": {"bytes": "<base64>"}}. Whole blocks travel inside a
//     {"cid": ..., "data": ...} container (see Tagged).
//
// Struct types that participate in both forms carry `json` tags only;
// fxamacker/cbor falls back to them when no `cbor` tag is present.
package codec

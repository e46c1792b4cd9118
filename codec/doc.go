// Package codec provides extensible encoding of arbitrary values into a
// JSON-safe tagged representation, and decoding back.
//
// Values encode to one of four variants: plain JSON primitives, tagged
// object references reconstructible by a registered codec, file references
// pointing at content-addressed artifact storage, and opaque gob blobs for
// otherwise unencodable values. Decoding dispatches purely on the stored
// tag, independent of process state, so entries written by one host decode
// on another.
package codec

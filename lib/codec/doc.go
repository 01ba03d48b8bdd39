// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides kiln's standard CBOR encoding configuration.
//
// kiln uses two serialization formats with a clear boundary:
//
//   - JSON for external output: dedup reports, CLI --json output, and
//     block manifests.
//   - CBOR for internal persistence: section and virtual-section
//     payloads in the block store.
//
// The encoder uses Core Deterministic Encoding (RFC 8949 §4.2): sorted
// map keys, smallest integer encoding, no indefinite-length items.
// Same logical data always produces identical bytes, so stored payloads
// can be compared byte-for-byte.
//
// Persisted payloads are wrapped in a versioned envelope
// ([MarshalVersioned], [UnmarshalVersioned]). A reader rejects
// envelopes whose version it does not understand instead of guessing.
//
// Types with `json` struct tags serialize through both JSON and CBOR
// (fxamacker/cbor falls back to json tags). Types implementing
// encoding.TextMarshaler, such as blockhash.Hash, encode as CBOR text
// strings so stored hashes stay in their canonical hex form.
package codec

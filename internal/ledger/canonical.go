// Package ledger implements the hash-chained, digitally signed audit log
// of consent transitions: canonical serialization, hashing, signing,
// append-only stores and the integrity verification walk.
package ledger

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// securedFields are removed from a record before canonicalization so the
// data hash covers only the business snapshot, never the chain metadata.
var securedFields = []string{
	"_id",
	"canonical_record",
	"data_hash",
	"prev_record_hash",
	"record_hash",
	"signature",
	"signed_with_key_id",
}

// StripSecured removes the chain metadata fields from a record document
// in place and returns it.
func StripSecured(doc map[string]any) map[string]any {
	for _, f := range securedFields {
		delete(doc, f)
	}
	return doc
}

// Canonicalize serializes a map-shaped record deterministically: keys
// sorted lexicographically at every depth, compact separators, UTF-8,
// no HTML escaping. Two semantically equal documents always produce
// byte-equal output.
func Canonicalize(doc map[string]any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("canonicalize record: %w", err)
	}
	// Encode appends a newline; the canonical form has none.
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// HashHex returns the lowercase hex SHA-256 digest of b.
func HashHex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// ToDocument round-trips any JSON-taggable value into the map shape the
// canonicalizer operates on.
func ToDocument(v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal record: %w", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal record: %w", err)
	}
	return doc, nil
}

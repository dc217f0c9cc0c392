package ledger

import (
	"veda/internal/artifact"

	dErrors "veda/pkg/domain-errors"
)

// Record is one immutable audit entry: a full snapshot of the artifact
// at the moment of a transition plus the chain metadata that secures it.
type Record struct {
	ID              string            `json:"_id,omitempty"`
	Artifact        artifact.Artifact `json:"-"`
	CanonicalRecord string            `json:"canonical_record"`
	DataHash        string            `json:"data_hash"`
	PrevRecordHash  string            `json:"prev_record_hash,omitempty"`
	RecordHash      string            `json:"record_hash"`
	Signature       string            `json:"signature"`
	SignedWithKeyID string            `json:"signed_with_key_id"`
}

// Key returns the chain key of the snapshot.
func (r *Record) Key() artifact.ChainKey { return r.Artifact.Key() }

// Version returns the snapshot's chain version.
func (r *Record) Version() int { return r.Artifact.Version }

// Operation returns the transition recorded by this entry.
func (r *Record) Operation() string { return r.Artifact.Operation }

// Timestamp returns the canonical transition instant.
func (r *Record) Timestamp() string { return r.Artifact.Timestamp }

// NewRecord builds an unsecured record from a post-image snapshot. The
// snapshot must already carry version, operation and canonical timestamp.
func NewRecord(snapshot *artifact.Artifact) *Record {
	return &Record{Artifact: *snapshot.Clone()}
}

// Secure computes the chain metadata for the record: the canonical
// serialization of the snapshot (with secured fields removed), its data
// hash, the link to the previous record, the record hash and the
// signature.
//
//	record_hash = SHA-256((prev_record_hash or "") || data_hash || timestamp)
func (r *Record) Secure(prev *Record, signer *Signer) error {
	if r.Artifact.Timestamp == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "record snapshot has no timestamp")
	}
	doc, err := ToDocument(r.Artifact)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "build record document")
	}
	canonical, err := Canonicalize(StripSecured(doc))
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "canonicalize record")
	}
	r.CanonicalRecord = string(canonical)
	r.DataHash = HashHex(canonical)
	r.PrevRecordHash = ""
	if prev != nil {
		r.PrevRecordHash = prev.RecordHash
	}
	r.RecordHash = HashHex([]byte(r.PrevRecordHash + r.DataHash + r.Artifact.Timestamp))
	sig, err := signer.Sign(r.RecordHash)
	if err != nil {
		return err
	}
	r.Signature = sig
	r.SignedWithKeyID = signer.KeyID()
	return nil
}

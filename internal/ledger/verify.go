package ledger

// IntegrityReport is the per-record result of a chain verification walk.
type IntegrityReport struct {
	Version     int    `json:"version"`
	Operation   string `json:"operation"`
	Timestamp   string `json:"timestamp"`
	RecordHash  string `json:"record_hash"`
	DataHashOK  bool   `json:"data_hash_ok"`
	ChainOK     bool   `json:"chain_ok"`
	SignatureOK bool   `json:"signature_ok"`
	Tampered    bool   `json:"tampered"`
}

// VerifyChain walks a chain in append order and recomputes every
// integrity property: the data hash over the canonical record, the hash
// link to the previous record, the record hash derivation and the
// signature. Any failed check marks the record tampered.
func VerifyChain(records []*Record, verifier *Verifier) []IntegrityReport {
	reports := make([]IntegrityReport, 0, len(records))
	var prev *Record
	for _, rec := range records {
		rep := IntegrityReport{
			Version:    rec.Version(),
			Operation:  rec.Operation(),
			Timestamp:  rec.Timestamp(),
			RecordHash: rec.RecordHash,
		}
		rep.DataHashOK = HashHex([]byte(rec.CanonicalRecord)) == rec.DataHash

		wantPrev := ""
		if prev != nil {
			wantPrev = prev.RecordHash
		}
		linkOK := rec.PrevRecordHash == wantPrev
		derivedOK := HashHex([]byte(rec.PrevRecordHash+rec.DataHash+rec.Timestamp())) == rec.RecordHash
		rep.ChainOK = linkOK && derivedOK

		rep.SignatureOK = verifier.Verify(rec.RecordHash, rec.Signature, rec.SignedWithKeyID) == nil
		rep.Tampered = !(rep.DataHashOK && rep.ChainOK && rep.SignatureOK)

		reports = append(reports, rep)
		prev = rec
	}
	return reports
}

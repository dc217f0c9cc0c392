package artifact

// Merge applies the submit-path spread rule: the inbound artifact is
// copied wholesale, its store-assigned fields (_id, version, operation)
// are stripped, the chain identity fields of the existing record are
// preserved, and the canonical timestamp is set. When existing is nil the
// inbound identity stands as-is.
func Merge(existing, incoming *Artifact, timestamp string) *Artifact {
	merged := incoming.Clone()
	merged.ID = ""
	merged.Version = 0
	merged.Operation = ""
	merged.Timestamp = timestamp
	if existing != nil {
		merged.AgreementID = existing.AgreementID
		merged.CPID = existing.CPID
		merged.DataPrincipal.DPID = existing.DataPrincipal.DPID
		merged.DataFiduciary.DFID = existing.DataFiduciary.DFID
	}
	return merged
}

package artifact

// FlattenedPurpose is the per-(data element, purpose) view carried in
// domain events and verification responses.
type FlattenedPurpose struct {
	DEID                string `json:"de_id"`
	DEHashID            string `json:"de_hash_id,omitempty"`
	Title               string `json:"title,omitempty"`
	DataRetentionPeriod string `json:"data_retention_period,omitempty"`
	PurposeID           string `json:"purpose_id"`
	PurposeHashID       string `json:"purpose_hash_id,omitempty"`
	PurposeTitle        string `json:"purpose_title,omitempty"`
	ConsentStatus       string `json:"consent_status"`
	ConsentExpiryPeriod string `json:"consent_expiry_period,omitempty"`
}

// StatusKey identifies one (data element, purpose) pair for diffing.
type StatusKey struct {
	DEID      string
	PurposeID string
}

// FlattenPurposes expands every (data element, purpose) pair in order of
// appearance, de-duplicating on (de_id, purpose_id). The first occurrence
// wins.
func FlattenPurposes(des []DataElementEntry) []FlattenedPurpose {
	var out []FlattenedPurpose
	seen := make(map[StatusKey]struct{})
	for _, de := range des {
		for _, c := range de.Consents {
			k := StatusKey{DEID: de.DEID, PurposeID: c.PurposeID}
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			out = append(out, FlattenedPurpose{
				DEID:                de.DEID,
				DEHashID:            de.DEHashID,
				Title:               de.Title,
				DataRetentionPeriod: de.DataRetentionPeriod,
				PurposeID:           c.PurposeID,
				PurposeHashID:       c.PurposeHashID,
				PurposeTitle:        c.Title,
				ConsentStatus:       c.ConsentStatus,
				ConsentExpiryPeriod: c.ConsentExpiryPeriod,
			})
		}
	}
	return out
}

// StatusMap projects data elements to a (de_id, purpose_id) -> status map.
func StatusMap(des []DataElementEntry) map[StatusKey]string {
	m := make(map[StatusKey]string)
	for _, fp := range FlattenPurposes(des) {
		m[StatusKey{DEID: fp.DEID, PurposeID: fp.PurposeID}] = fp.ConsentStatus
	}
	return m
}

// DiffStatuses compares old and new scopes and returns the flattened
// purposes whose status changed to approved (granted) or to denied
// (withdrawn). Unchanged purposes are omitted. With an empty old scope
// every approved purpose is granted and every denied purpose withdrawn,
// which is the first-submission case.
func DiffStatuses(old, new []DataElementEntry) (granted, withdrawn []FlattenedPurpose) {
	prev := StatusMap(old)
	for _, fp := range FlattenPurposes(new) {
		before, existed := prev[StatusKey{DEID: fp.DEID, PurposeID: fp.PurposeID}]
		if existed && before == fp.ConsentStatus {
			continue
		}
		switch fp.ConsentStatus {
		case StatusApproved:
			granted = append(granted, fp)
		case StatusDenied:
			withdrawn = append(withdrawn, fp)
		}
	}
	return granted, withdrawn
}

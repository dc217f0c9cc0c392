// Package artifact defines the consent artifact document and the pure
// helpers that operate on it: timestamp canonicalization, purpose
// flattening, status diffing, and the submit merge rule.
package artifact

import "fmt"

// Consent status values for a (data element, purpose) pair.
const (
	StatusApproved = "approved"
	StatusDenied   = "denied"
	StatusExpired  = "expired"
)

// Data element status values.
const (
	DEActive   = "active"
	DEInactive = "inactive"
)

// Audit operations recorded on the ledger.
const (
	OpInsert                = "insert"
	OpUpdate                = "update"
	OpConsentExpired        = "consent_expired"
	OpDataErasureRetention  = "data_erasure_retention_triggered"
	OpDataErasureManual     = "data_erasure_manual_triggered"
	OpOTPVerified           = "otp_verified"
)

// ChainKey identifies one consent chain. Every artifact, audit record and
// chain lock is keyed by this tuple.
type ChainKey struct {
	DPID        string `json:"dp_id"`
	DFID        string `json:"df_id"`
	CPID        string `json:"cp_id"`
	AgreementID string `json:"agreement_id"`
}

func (k ChainKey) String() string {
	return fmt.Sprintf("%s:%s:%s:%s", k.DPID, k.DFID, k.CPID, k.AgreementID)
}

// Artifact is the authoritative consent document for one chain.
type Artifact struct {
	ID               string             `json:"_id,omitempty"`
	Context          []string           `json:"context,omitempty"`
	AgreementID      string             `json:"agreement_id"`
	AgreementVersion string             `json:"agreement_version,omitempty"`
	CPID             string             `json:"cp_id"`
	CPName           string             `json:"cp_name,omitempty"`
	Version          int                `json:"version,omitempty"`
	Operation        string             `json:"operation,omitempty"`
	Timestamp        string             `json:"timestamp,omitempty"`
	Metadata         map[string]any     `json:"metadata,omitempty"`
	DataPrincipal    DataPrincipal      `json:"data_principal"`
	DataFiduciary    DataFiduciary      `json:"data_fiduciary"`
	ConsentScope     ConsentScope       `json:"consent_scope"`
}

// DataPrincipal identifies the individual. Email and mobile are stored
// only as SHAKE-256 digests; raw values never reach this struct.
type DataPrincipal struct {
	DPID           string `json:"dp_id"`
	DPSystemID     string `json:"dp_df_id,omitempty"`
	DPEmailHash    string `json:"dp_e,omitempty"`
	DPMobileHash   string `json:"dp_m,omitempty"`
	DPVerification bool   `json:"dp_verification"`
}

// DataFiduciary identifies the tenant processing under this consent.
type DataFiduciary struct {
	DFID   string `json:"df_id"`
	DFName string `json:"df_name,omitempty"`
}

// ConsentScope holds the ordered data elements covered by the agreement.
type ConsentScope struct {
	DataElements []DataElementEntry `json:"data_elements"`
}

// DataElementEntry is one categorized datum whose active/inactive state
// gates all of its purposes.
type DataElementEntry struct {
	DEID                          string         `json:"de_id"`
	DEHashID                      string         `json:"de_hash_id,omitempty"`
	Title                         string         `json:"title,omitempty"`
	DataRetentionPeriod           string         `json:"data_retention_period,omitempty"`
	DEStatus                      string         `json:"de_status"`
	DataRetentionNotificationSent bool           `json:"data_retention_notification_sent"`
	Consents                      []ConsentEntry `json:"consents"`
}

// ConsentEntry is one purpose decision nested under a data element.
type ConsentEntry struct {
	PurposeID                     string `json:"purpose_id"`
	PurposeHashID                 string `json:"purpose_hash_id,omitempty"`
	Title                         string `json:"title,omitempty"`
	ConsentStatus                 string `json:"consent_status"`
	ConsentExpiryPeriod           string `json:"consent_expiry_period,omitempty"`
	ConsentExpiryNotificationSent bool   `json:"consent_expiry_notification_sent"`
}

// Key returns the chain key of the artifact.
func (a *Artifact) Key() ChainKey {
	return ChainKey{
		DPID:        a.DataPrincipal.DPID,
		DFID:        a.DataFiduciary.DFID,
		CPID:        a.CPID,
		AgreementID: a.AgreementID,
	}
}

// DataElement returns the entry with the given de_id, or nil.
func (a *Artifact) DataElement(deID string) *DataElementEntry {
	for i := range a.ConsentScope.DataElements {
		if a.ConsentScope.DataElements[i].DEID == deID {
			return &a.ConsentScope.DataElements[i]
		}
	}
	return nil
}

// Consent returns the purpose entry with the given purpose_id, or nil.
func (de *DataElementEntry) Consent(purposeID string) *ConsentEntry {
	for i := range de.Consents {
		if de.Consents[i].PurposeID == purposeID {
			return &de.Consents[i]
		}
	}
	return nil
}

// Clone returns a deep copy. Stores hand out clones so callers never
// alias persisted state.
func (a *Artifact) Clone() *Artifact {
	if a == nil {
		return nil
	}
	cp := *a
	if a.Context != nil {
		cp.Context = append([]string(nil), a.Context...)
	}
	if a.Metadata != nil {
		cp.Metadata = make(map[string]any, len(a.Metadata))
		for k, v := range a.Metadata {
			cp.Metadata[k] = v
		}
	}
	cp.ConsentScope.DataElements = make([]DataElementEntry, len(a.ConsentScope.DataElements))
	for i, de := range a.ConsentScope.DataElements {
		deCp := de
		deCp.Consents = append([]ConsentEntry(nil), de.Consents...)
		cp.ConsentScope.DataElements[i] = deCp
	}
	return &cp
}

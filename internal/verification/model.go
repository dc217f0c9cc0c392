package verification

import "time"

// Request is one verification query. Exactly one principal identifier is
// used, by precedence: dp_id, then dp_system_id, then email, then
// mobile. Email and mobile arrive raw and are hashed before use.
type Request struct {
	DPID              string   `json:"dp_id,omitempty"`
	DPSystemID        string   `json:"dp_system_id,omitempty"`
	Email             string   `json:"dp_e,omitempty"`
	Mobile            string   `json:"dp_m,omitempty"`
	PurposeHash       string   `json:"purpose_hash"`
	DataElementHashes []string `json:"data_elements_hash"`
	DFID              string   `json:"df_id"`
	RequestedBy       string   `json:"ver_requested_by,omitempty"`
	BulkFileName      string   `json:"bulk_file_name,omitempty"`
}

// Result is the verification verdict.
type Result struct {
	Verified              bool     `json:"verified"`
	ConsentedDataElements []string `json:"consented_data_elements"`
	RequestID             string   `json:"verification_request_id"`
}

// LogRecord is the persisted trail of one verification query.
type LogRecord struct {
	RequestID         string    `json:"request_id"`
	DFID              string    `json:"df_id"`
	DPID              string    `json:"dp_id,omitempty"`
	DPSystemID        string    `json:"dp_system_id,omitempty"`
	EmailHash         string    `json:"dp_e,omitempty"`
	MobileHash        string    `json:"dp_m,omitempty"`
	PurposeHash       string    `json:"purpose_hash"`
	DataElementHashes []string  `json:"data_elements_hash"`
	MatchedElements   []string  `json:"matched_elements"`
	Verified          bool      `json:"verified"`
	RequestedBy       string    `json:"ver_requested_by,omitempty"`
	BulkFileName      string    `json:"bulk_file_name,omitempty"`
	CreatedAt         time.Time `json:"timestamp"`
}

// LogFilter narrows log listings.
type LogFilter struct {
	DFID         string
	Verified     *bool
	BulkFileName string
	From         time.Time
	To           time.Time
	Limit        int
	Offset       int
}

// Stats is the dashboard aggregate over a fiduciary's verifications.
type Stats struct {
	Total       int     `json:"total"`
	Valid       int     `json:"valid"`
	Invalid     int     `json:"invalid"`
	SuccessRate float64 `json:"success_rate"`
}

// Notification is the customer-facing record of a failed verification
// attempt against a data principal.
type Notification struct {
	DPID      string    `json:"dp_id,omitempty"`
	DFID      string    `json:"df_id"`
	RequestID string    `json:"request_id"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"created_at"`
}

package artifact

import dErrors "veda/pkg/domain-errors"

// Validate performs strict ingress validation of a submitted artifact.
// Business rules downstream assume these checks passed.
func (a *Artifact) Validate() error {
	if a.AgreementID == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "agreement_id is required")
	}
	if a.CPID == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "cp_id is required")
	}
	if a.DataPrincipal.DPID == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "data_principal.dp_id is required")
	}
	if a.DataFiduciary.DFID == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "data_fiduciary.df_id is required")
	}
	if len(a.ConsentScope.DataElements) == 0 {
		return dErrors.New(dErrors.CodeInvalidInput, "consent_scope.data_elements must not be empty")
	}
	for _, de := range a.ConsentScope.DataElements {
		if de.DEID == "" {
			return dErrors.New(dErrors.CodeInvalidInput, "data element de_id is required")
		}
		if de.DEStatus != DEActive && de.DEStatus != DEInactive {
			return dErrors.Newf(dErrors.CodeInvalidInput, "data element %s: de_status must be active or inactive", de.DEID)
		}
		if de.DataRetentionPeriod != "" {
			if _, err := ParseTimestamp(de.DataRetentionPeriod); err != nil {
				return dErrors.Newf(dErrors.CodeInvalidInput, "data element %s: bad data_retention_period", de.DEID)
			}
		}
		for _, c := range de.Consents {
			if c.PurposeID == "" {
				return dErrors.Newf(dErrors.CodeInvalidInput, "data element %s: purpose_id is required", de.DEID)
			}
			switch c.ConsentStatus {
			case StatusApproved, StatusDenied, StatusExpired:
			default:
				return dErrors.Newf(dErrors.CodeInvalidInput, "purpose %s: consent_status must be approved, denied or expired", c.PurposeID)
			}
			if c.ConsentExpiryPeriod != "" {
				if _, err := ParseTimestamp(c.ConsentExpiryPeriod); err != nil {
					return dErrors.Newf(dErrors.CodeInvalidInput, "purpose %s: bad consent_expiry_period", c.PurposeID)
				}
			}
		}
	}
	if a.Timestamp != "" {
		if _, err := ParseTimestamp(a.Timestamp); err != nil {
			return dErrors.New(dErrors.CodeInvalidInput, "bad artifact timestamp")
		}
	}
	return nil
}

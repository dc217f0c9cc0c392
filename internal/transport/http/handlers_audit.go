package httptransport

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"veda/internal/artifact"
	"veda/internal/ledger"
	dErrors "veda/pkg/domain-errors"
)

type chainReport struct {
	ChainKey string                   `json:"chain_key"`
	Records  []ledger.IntegrityReport `json:"records"`
	Tampered bool                     `json:"tampered"`
}

// handleAudit walks every chain a data principal holds with the
// fiduciary and re-verifies hashes, links and signatures record by
// record.
func (h *Handler) handleAudit(w http.ResponseWriter, r *http.Request) {
	dpID := chi.URLParam(r, "dp_id")
	df := r.Header.Get(FiduciaryHeader)
	if df == "" {
		writeError(w, dErrors.New(dErrors.CodeInvalidInput, "fiduciary header is required"))
		return
	}

	records, err := h.audit.ChainsForPrincipal(r.Context(), dpID, df)
	if err != nil {
		writeError(w, dErrors.Wrap(err, dErrors.CodeStorage, "load audit chains"))
		return
	}
	if len(records) == 0 {
		writeError(w, dErrors.Newf(dErrors.CodeNotFound, "no audit records for data principal %s", dpID))
		return
	}

	// records arrive grouped by chain in append order
	var order []artifact.ChainKey
	grouped := make(map[artifact.ChainKey][]*ledger.Record)
	for _, rec := range records {
		key := rec.Key()
		if _, seen := grouped[key]; !seen {
			order = append(order, key)
		}
		grouped[key] = append(grouped[key], rec)
	}

	reports := make([]chainReport, 0, len(order))
	for _, key := range order {
		reps := ledger.VerifyChain(grouped[key], h.verifier)
		tampered := false
		for _, rep := range reps {
			if rep.Tampered {
				tampered = true
				break
			}
		}
		reports = append(reports, chainReport{
			ChainKey: key.String(),
			Records:  reps,
			Tampered: tampered,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"dp_id": dpID, "chains": reports})
}

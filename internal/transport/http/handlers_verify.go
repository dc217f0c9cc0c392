package httptransport

import (
	"encoding/csv"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"veda/internal/verification"
	dErrors "veda/pkg/domain-errors"
)

func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req verification.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, dErrors.Wrap(err, dErrors.CodeInvalidInput, "decode verification request"))
		return
	}
	if df := r.Header.Get(FiduciaryHeader); df != "" {
		req.DFID = df
	}

	res, err := h.verify.Verify(r.Context(), &req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) handleLog(w http.ResponseWriter, r *http.Request) {
	rec, err := h.verify.Log(r.Context(), chi.URLParam(r, "request_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *Handler) handleLogs(w http.ResponseWriter, r *http.Request) {
	filter, err := logFilter(r)
	if err != nil {
		writeError(w, err)
		return
	}
	logs, err := h.verify.Logs(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": logs, "count": len(logs)})
}

func (h *Handler) handleLogsDownload(w http.ResponseWriter, r *http.Request) {
	filter, err := logFilter(r)
	if err != nil {
		writeError(w, err)
		return
	}
	logs, err := h.verify.Logs(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="verification_logs.csv"`)
	cw := csv.NewWriter(w)
	_ = cw.Write([]string{
		"request_id", "df_id", "dp_id", "dp_system_id", "dp_e", "dp_m",
		"purpose_hash", "data_elements_hash", "matched_elements", "verified",
		"ver_requested_by", "bulk_file_name", "timestamp",
	})
	for _, rec := range logs {
		_ = cw.Write([]string{
			rec.RequestID, rec.DFID, rec.DPID, rec.DPSystemID, rec.EmailHash, rec.MobileHash,
			rec.PurposeHash,
			strings.Join(rec.DataElementHashes, ";"),
			strings.Join(rec.MatchedElements, ";"),
			strconv.FormatBool(rec.Verified),
			rec.RequestedBy, rec.BulkFileName,
			rec.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	cw.Flush()
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	df := r.Header.Get(FiduciaryHeader)
	if df == "" {
		writeError(w, dErrors.New(dErrors.CodeInvalidInput, "fiduciary header is required"))
		return
	}
	stats, err := h.verify.DashboardStats(r.Context(), df)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *Handler) handleFiles(w http.ResponseWriter, r *http.Request) {
	df := r.Header.Get(FiduciaryHeader)
	if df == "" {
		writeError(w, dErrors.New(dErrors.CodeInvalidInput, "fiduciary header is required"))
		return
	}
	files, err := h.files.List(r.Context(), df)
	if err != nil {
		writeError(w, dErrors.Wrap(err, dErrors.CodeStorage, "list bulk files"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"files": files, "count": len(files)})
}

func logFilter(r *http.Request) (verification.LogFilter, error) {
	df := r.Header.Get(FiduciaryHeader)
	if df == "" {
		return verification.LogFilter{}, dErrors.New(dErrors.CodeInvalidInput, "fiduciary header is required")
	}
	filter := verification.LogFilter{
		DFID:         df,
		BulkFileName: r.URL.Query().Get("bulk_file_name"),
	}
	if raw := r.URL.Query().Get("verified"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return filter, dErrors.New(dErrors.CodeInvalidInput, "verified must be a boolean")
		}
		filter.Verified = &v
	}
	if raw := r.URL.Query().Get("from"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, dErrors.New(dErrors.CodeInvalidInput, "from must be RFC 3339")
		}
		filter.From = t
	}
	if raw := r.URL.Query().Get("to"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, dErrors.New(dErrors.CodeInvalidInput, "to must be RFC 3339")
		}
		filter.To = t
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return filter, dErrors.New(dErrors.CodeInvalidInput, "limit must be a non-negative integer")
		}
		filter.Limit = n
	}
	if raw := r.URL.Query().Get("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return filter, dErrors.New(dErrors.CodeInvalidInput, "offset must be a non-negative integer")
		}
		filter.Offset = n
	}
	return filter, nil
}

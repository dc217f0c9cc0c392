package verification

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"veda/internal/artifact"
	"veda/internal/artifactstore"
	dErrors "veda/pkg/domain-errors"
	stringsutil "veda/pkg/platform/strings"
)

var verifications = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "veda_verifications_total",
	Help: "Verification queries answered, by verdict",
}, []string{"verdict"})

// Service is the verification engine. It reads Latest-State only; it
// never writes consent state.
type Service struct {
	latest        artifactstore.Store
	logs          LogStore
	notifications NotificationStore
	log           *slog.Logger
	now           func() time.Time
}

func NewService(latest artifactstore.Store, logs LogStore, notifications NotificationStore, log *slog.Logger) *Service {
	return &Service{
		latest:        latest,
		logs:          logs,
		notifications: notifications,
		log:           log,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the wall clock. Test hook.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Verify answers one query. The verdict is true iff every requested data
// element hash is covered by an active element holding an approved,
// unexpired consent for the requested purpose. Every query is logged;
// failed ones additionally queue a customer notification.
func (s *Service) Verify(ctx context.Context, req *Request) (*Result, error) {
	field, value, err := s.principalIdentifier(req)
	if err != nil {
		return nil, err
	}
	if req.DFID == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "df_id is required")
	}
	if req.PurposeHash == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "purpose_hash is required")
	}
	req.DataElementHashes = stringsutil.DedupeAndTrim(req.DataElementHashes)
	if len(req.DataElementHashes) == 0 {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "data_elements_hash must not be empty")
	}

	requestID := strings.ReplaceAll(uuid.NewString(), "-", "")

	artifacts, err := s.latest.FindByIdentifier(ctx, field, value, req.DFID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeStorage, "find artifacts")
	}
	if len(artifacts) == 0 {
		s.record(ctx, req, field, value, requestID, false, nil)
		return nil, dErrors.Newf(dErrors.CodeNotFound, "no consent artifacts for the given identifier")
	}

	consented := s.consentedElements(artifacts, req.PurposeHash)
	var matched []string
	verified := true
	for _, want := range req.DataElementHashes {
		if _, ok := consented[want]; ok {
			matched = append(matched, want)
		} else {
			verified = false
		}
	}

	s.record(ctx, req, field, value, requestID, verified, matched)

	verdict := "invalid"
	if verified {
		verdict = "valid"
	}
	verifications.WithLabelValues(verdict).Inc()

	return &Result{Verified: verified, ConsentedDataElements: matched, RequestID: requestID}, nil
}

// principalIdentifier resolves the identifier by precedence, hashing raw
// email/mobile before anything else touches them.
func (s *Service) principalIdentifier(req *Request) (artifactstore.IdentifierField, string, error) {
	switch {
	case req.DPID != "":
		return artifactstore.ByDPID, req.DPID, nil
	case req.DPSystemID != "":
		return artifactstore.ByDPSystemID, req.DPSystemID, nil
	case req.Email != "":
		return artifactstore.ByEmailHash, HashIdentifier(req.Email), nil
	case req.Mobile != "":
		return artifactstore.ByMobileHash, HashIdentifier(req.Mobile), nil
	default:
		return "", "", dErrors.New(dErrors.CodeInvalidInput, "a data principal identifier is required")
	}
}

// consentedElements unions the de_hash_id values that currently answer
// consented for the purpose across artifacts (I7/I8: active element,
// approved consent, matching purpose hash, expiry absent or in the
// future).
func (s *Service) consentedElements(artifacts []*artifact.Artifact, purposeHash string) map[string]struct{} {
	now := s.now()
	out := make(map[string]struct{})
	for _, a := range artifacts {
		for _, de := range a.ConsentScope.DataElements {
			if de.DEStatus != artifact.DEActive || de.DEHashID == "" {
				continue
			}
			for _, c := range de.Consents {
				if c.ConsentStatus != artifact.StatusApproved || c.PurposeHashID != purposeHash {
					continue
				}
				if c.ConsentExpiryPeriod != "" {
					expiry, err := artifact.ParseTimestamp(c.ConsentExpiryPeriod)
					if err != nil || !expiry.After(now) {
						continue
					}
				}
				out[de.DEHashID] = struct{}{}
				break
			}
		}
	}
	return out
}

// record persists the verification trail; on a failed verdict it also
// queues the customer notification. Logging never fails the query.
func (s *Service) record(ctx context.Context, req *Request, field artifactstore.IdentifierField, value, requestID string, verified bool, matched []string) {
	rec := &LogRecord{
		RequestID:         requestID,
		DFID:              req.DFID,
		PurposeHash:       req.PurposeHash,
		DataElementHashes: req.DataElementHashes,
		MatchedElements:   matched,
		Verified:          verified,
		RequestedBy:       req.RequestedBy,
		BulkFileName:      req.BulkFileName,
		CreatedAt:         s.now(),
	}
	switch field {
	case artifactstore.ByDPID:
		rec.DPID = value
	case artifactstore.ByDPSystemID:
		rec.DPSystemID = value
	case artifactstore.ByEmailHash:
		rec.EmailHash = value
	case artifactstore.ByMobileHash:
		rec.MobileHash = value
	}
	if err := s.logs.Insert(ctx, rec); err != nil {
		s.log.Error("persist verification log failed", "request_id", requestID, "error", err)
	}
	if !verified {
		n := &Notification{
			DPID:      rec.DPID,
			DFID:      req.DFID,
			RequestID: requestID,
			Reason:    "verification_failed",
			CreatedAt: s.now(),
		}
		if err := s.notifications.Insert(ctx, n); err != nil {
			s.log.Error("queue customer notification failed", "request_id", requestID, "error", err)
		}
	}
}

// Log returns one verification trail by request id.
func (s *Service) Log(ctx context.Context, requestID string) (*LogRecord, error) {
	rec, err := s.logs.GetByRequestID(ctx, requestID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeStorage, "load verification log")
	}
	if rec == nil {
		return nil, dErrors.Newf(dErrors.CodeNotFound, "verification log %s not found", requestID)
	}
	return rec, nil
}

// Logs lists verification trails for the dashboard.
func (s *Service) Logs(ctx context.Context, filter LogFilter) ([]*LogRecord, error) {
	recs, err := s.logs.List(ctx, filter)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeStorage, "list verification logs")
	}
	return recs, nil
}

// DashboardStats aggregates a fiduciary's verification outcomes.
func (s *Service) DashboardStats(ctx context.Context, dfID string) (*Stats, error) {
	stats, err := s.logs.Stats(ctx, dfID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeStorage, "aggregate verification stats")
	}
	return stats, nil
}

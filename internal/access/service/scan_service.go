package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/FERLEY2004/QRRR-sub001/internal/access/model"
	"github.com/FERLEY2004/QRRR-sub001/internal/access/store"
	"github.com/FERLEY2004/QRRR-sub001/internal/access/types"
	"github.com/FERLEY2004/QRRR-sub001/internal/clock"
	"github.com/FERLEY2004/QRRR-sub001/internal/config"
)

// ScanStore is what a scan needs from persistence.
type ScanStore interface {
	store.Ledger
	store.SecurityLog
}

// ScanService evaluates one scanned credential end to end. Resolution,
// decision and commit run inside a single Ledger unit, so two concurrent
// scans of one person are serialised and cannot both enter.
type ScanService struct {
	store     ScanStore
	identity  *IdentityResolver
	admission *AdmissionPolicy
	detector  *Detector
	policy    config.Policy
	clock     clock.Clock
	logger    *slog.Logger
}

// NewScanService wires the resolvers. detector may be nil, which disables
// inline alerts.
func NewScanService(st ScanStore, presence *PresenceResolver, detector *Detector, policy config.Policy, clk clock.Clock, logger *slog.Logger) *ScanService {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &ScanService{
		store:     st,
		identity:  NewIdentityResolver(policy.Visitor.Validity, policy.Visitor.DefaultDocumentType),
		admission: NewAdmissionPolicy(presence, policy),
		detector:  detector,
		policy:    policy,
		clock:     clk,
		logger:    logger,
	}
}

// Scan runs the minimal scan path.
func (s *ScanService) Scan(ctx context.Context, req types.ScanRequest) (types.ScanResponse, error) {
	d, err := s.Evaluate(ctx, req, false)
	if err != nil {
		return types.ScanResponse{}, err
	}
	return ToScanResponse(d), nil
}

// ScanComplete also applies the schedule and capacity rules to entries.
func (s *ScanService) ScanComplete(ctx context.Context, req types.ScanRequest) (types.ScanResponse, error) {
	d, err := s.Evaluate(ctx, req, true)
	if err != nil {
		return types.ScanResponse{}, err
	}
	return ToScanResponse(d), nil
}

// Evaluate returns the committed Decision for req. Errors are
// ErrInvalidCredential, ErrStoreUnavailable or ErrPartialCommit; a policy
// denial is a Decision, never an error.
func (s *ScanService) Evaluate(ctx context.Context, req types.ScanRequest, complete bool) (Decision, error) {
	cred, err := ParseCredential(req, s.clock.Now(), s.policy.Visitor.IssueSkew)
	if err != nil {
		return Decision{}, err
	}

	var d Decision
	err = s.store.Atomically(ctx, func(ctx context.Context, tx store.Tx) error {
		// Read the clock inside the unit so event times follow commit order.
		now := s.clock.Now()

		id, err := s.identity.Resolve(ctx, tx, cred, now)
		if err != nil {
			return err
		}
		d, err = s.admission.Decide(ctx, tx, id, DecideOptions{At: now, Complete: complete})
		if err != nil {
			return err
		}
		return s.admission.Commit(ctx, tx, &d)
	})
	if err != nil {
		err = classifyUnitError(err)
		s.logger.Error("scan failed", "document", cred.Document, "kind", cred.Kind, "err", err)
		return Decision{}, err
	}

	if d.Admitted() {
		s.logger.Info("scan admitted",
			"person_id", d.Person.ID, "direction", d.Direction, "event_id", d.eventID)
	} else {
		s.logger.Info("scan denied", "document", cred.Document, "reason", d.Reason)
		s.afterDenial(ctx, d, cred)
	}
	return d, nil
}

// afterDenial records the denial in the security log and runs the inline
// alert checks. Both are best effort: the decision already stands.
func (s *ScanService) afterDenial(ctx context.Context, d Decision, cred Credential) {
	entry := model.SecurityEntry{
		Category:   model.SecurityAccessDenied,
		Subject:    cred.Document,
		OccurredAt: d.At,
		Detail:     string(d.Reason),
	}
	if d.Person != nil {
		entry.PersonID = d.Person.ID
	}
	err := s.store.AppendSecurityEntry(ctx, entry)
	if err != nil {
		s.logger.Warn("security log append failed", "document", cred.Document, "err", err)
	}

	if s.detector == nil {
		return
	}
	if _, _, err := s.detector.Inline(ctx, d, cred.Document); err != nil {
		s.logger.Warn("inline alert check failed", "document", cred.Document, "err", err)
	}
}

// ToScanResponse renders a Decision for the wire.
func ToScanResponse(d Decision) types.ScanResponse {
	resp := types.ScanResponse{
		Outcome:   string(d.Outcome),
		Timestamp: d.At.UTC().Format(time.RFC3339Nano),
	}
	if d.Admitted() {
		resp.Direction = string(d.Direction)
	} else {
		resp.ReasonCode = string(d.Reason)
		resp.Message = d.Reason.Message()
	}
	if d.Person != nil {
		ps := ToPersonSummary(*d.Person)
		resp.Person = &ps
	}
	return resp
}

func ToPersonSummary(p model.Person) types.PersonSummary {
	return types.PersonSummary{
		ID:             p.ID,
		DocumentNumber: p.DocumentNumber,
		DocumentType:   p.DocumentType,
		DisplayName:    p.DisplayName,
		Role:           p.Role.String(),
		Status:         string(p.Status),
	}
}

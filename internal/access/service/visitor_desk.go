package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/FERLEY2004/QRRR-sub001/internal/access/model"
	"github.com/FERLEY2004/QRRR-sub001/internal/access/store"
	"github.com/FERLEY2004/QRRR-sub001/internal/access/types"
	"github.com/FERLEY2004/QRRR-sub001/internal/clock"
	"github.com/FERLEY2004/QRRR-sub001/internal/config"
)

// VisitorDesk issues visitor credentials at reception. Registering a known
// visitor again is how a used credential is re-issued: the person is
// re-activated and a fresh pass opened, never the old one resurrected.
type VisitorDesk struct {
	ledger         store.Ledger
	defaultDocType string
	clock          clock.Clock
	logger         *slog.Logger
	ids            *idSource
}

func NewVisitorDesk(ledger store.Ledger, policy config.Policy, clk clock.Clock, logger *slog.Logger) *VisitorDesk {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &VisitorDesk{
		ledger:         ledger,
		defaultDocType: model.NormalizeDocumentType(policy.Visitor.DefaultDocumentType),
		clock:          clk,
		logger:         logger,
		ids:            newIDSource(),
	}
}

func (v *VisitorDesk) Register(ctx context.Context, req types.RegisterVisitorRequest) (types.RegisterVisitorResponse, error) {
	doc := model.NormalizeDocument(req.Document)
	name := strings.Join(strings.Fields(req.DisplayName), " ")
	if doc == "" {
		return types.RegisterVisitorResponse{}, fmt.Errorf("%w: document is required", ErrInvalidRequest)
	}
	if name == "" {
		return types.RegisterVisitorResponse{}, fmt.Errorf("%w: display_name is required", ErrInvalidRequest)
	}
	docType := model.NormalizeDocumentType(req.DocumentType)
	if docType == "" {
		docType = v.defaultDocType
	}

	var (
		person model.Person
		pass   model.VisitorPass
	)
	err := v.ledger.Atomically(ctx, func(ctx context.Context, tx store.Tx) error {
		now := v.clock.Now()
		// The printed QR carries whole seconds.
		issuedAt := now.Truncate(time.Second)

		matches, err := tx.PersonsByDocument(ctx, doc)
		if err != nil {
			return unavailable("register visitor", err)
		}
		var found bool
		for _, m := range matches {
			if m.DocumentType == docType {
				person, found = m, true
				break
			}
		}

		switch {
		case !found:
			given, surnames := model.SplitDisplayName(name)
			person = model.Person{
				ID:             v.ids.uuid(),
				DocumentNumber: doc,
				DocumentType:   docType,
				GivenNames:     given,
				Surnames:       surnames,
				DisplayName:    name,
				Role:           model.RoleVisitor,
				Status:         model.StatusActive,
				CreatedAt:      now,
				UpdatedAt:      now,
			}
			if err := tx.InsertPerson(ctx, person); err != nil {
				return unavailable("register visitor", err)
			}
		case person.Role.IsMember():
			return fmt.Errorf("%w: %s %s", ErrNotAVisitor, docType, doc)
		default:
			if person.Status != model.StatusActive {
				if err := tx.UpdatePersonStatus(ctx, person.ID, model.StatusActive, now); err != nil {
					return unavailable("reactivate visitor", err)
				}
				person.Status = model.StatusActive
				person.UpdatedAt = now
			}
			latest, ok, err := tx.LatestVisitorPass(ctx, person.ID)
			if err != nil {
				return unavailable("register visitor", err)
			}
			if ok && latest.State == model.PassActive {
				if err := tx.CloseVisitorPass(ctx, latest.ID, now); err != nil {
					return unavailable("close dangling pass", err)
				}
			}
		}

		pass = model.VisitorPass{
			ID:        v.ids.uuid(),
			PersonID:  person.ID,
			Reason:    strings.TrimSpace(req.Reason),
			IssuedAt:  issuedAt,
			StartedAt: now,
			State:     model.PassActive,
		}
		if err := tx.OpenVisitorPass(ctx, pass); err != nil {
			return unavailable("open visitor pass", err)
		}
		return nil
	})
	if err != nil {
		return types.RegisterVisitorResponse{}, classifyUnitError(err)
	}

	v.logger.Info("visitor registered", "person_id", person.ID, "pass_id", pass.ID)
	return types.RegisterVisitorResponse{
		Person:   ToPersonSummary(person),
		PassID:   pass.ID,
		IssuedAt: pass.IssuedAt.UTC().Format(time.RFC3339),
		QR:       EncodeQR(person, pass.IssuedAt),
	}, nil
}

package service

import (
	"context"
	"time"

	"github.com/FERLEY2004/QRRR-sub001/internal/access/model"
	"github.com/FERLEY2004/QRRR-sub001/internal/access/store"
	"github.com/FERLEY2004/QRRR-sub001/internal/config"
)

type Outcome string

const (
	OutcomeAdmit Outcome = "ADMIT"
	OutcomeDeny  Outcome = "DENY"
)

// Decision is the result of Decide. Person is set whenever the credential
// resolved to someone, including denials, so operators can intervene.
type Decision struct {
	Outcome   Outcome
	Direction model.Direction
	Person    *model.Person
	Reason    DenialReason
	At        time.Time

	// Set on an admitted visitor EXIT: the pass Commit must close.
	closePass *model.VisitorPass
	eventID   string
}

func (d Decision) Admitted() bool { return d.Outcome == OutcomeAdmit }

type DecideOptions struct {
	At time.Time
	// Complete applies the schedule and capacity rules of scanComplete.
	Complete bool
}

// AdmissionPolicy turns a resolved identity plus derived presence into a
// Decision, and commits admitted decisions to the log.
type AdmissionPolicy struct {
	presence *PresenceResolver
	policy   config.Policy
	ids      *idSource
}

func NewAdmissionPolicy(presence *PresenceResolver, policy config.Policy) *AdmissionPolicy {
	return &AdmissionPolicy{presence: presence, policy: policy, ids: newIDSource()}
}

func (a *AdmissionPolicy) Decide(ctx context.Context, tx store.Tx, id Identity, opts DecideOptions) (Decision, error) {
	at := opts.At
	if id.Reason != "" {
		return deny(id.Reason, personRef(id), at), nil
	}

	// Status is re-read here, not taken from resolution.
	p, err := tx.PersonByID(ctx, id.Person.ID)
	if err != nil {
		return Decision{}, unavailable("decide: reload person", err)
	}
	if p.Status != model.StatusActive {
		if p.Role == model.RoleVisitor {
			return deny(ReasonQRRequiresReissue, &p, at), nil
		}
		return deny(ReasonAccessDeniedInactive, &p, at), nil
	}

	dir, at, err := a.presence.nextDirection(ctx, tx, p.ID, at)
	if err != nil {
		return Decision{}, err
	}

	d := Decision{Outcome: OutcomeAdmit, Direction: dir, Person: &p, At: at}

	if p.Role == model.RoleVisitor {
		pass, found, err := tx.LatestVisitorPass(ctx, p.ID)
		if err != nil {
			return Decision{}, unavailable("decide: visitor pass", err)
		}
		switch dir {
		case model.DirectionEntry:
			if !found || pass.State != model.PassActive {
				return deny(ReasonQRRequiresReissue, &p, at), nil
			}
			if at.Sub(id.Credential.IssuedAt) > a.policy.Visitor.Validity {
				return deny(ReasonQRExpired, &p, at), nil
			}
		case model.DirectionExit:
			if found && pass.State == model.PassActive {
				d.closePass = &pass
			}
		}
		return d, nil
	}

	if opts.Complete && dir == model.DirectionEntry {
		reason, err := a.checkSchedule(ctx, tx, p, at)
		if err != nil {
			return Decision{}, err
		}
		if reason != "" {
			return deny(reason, &p, at), nil
		}
	}
	return d, nil
}

// Commit appends the event of an admitted decision. A visitor EXIT also
// closes the pass and deactivates the person; all writes go through tx so
// they land together or not at all.
func (a *AdmissionPolicy) Commit(ctx context.Context, tx store.Tx, d *Decision) error {
	if !d.Admitted() {
		return nil
	}
	ev := model.AccessEvent{
		ID:         a.ids.ulid(d.At),
		PersonID:   d.Person.ID,
		Direction:  d.Direction,
		OccurredAt: d.At,
	}
	if err := tx.AppendEvent(ctx, ev); err != nil {
		return unavailable("commit: append event", err)
	}
	d.eventID = ev.ID

	if d.Person.Role != model.RoleVisitor || d.Direction != model.DirectionExit {
		return nil
	}
	if d.closePass != nil {
		if err := tx.CloseVisitorPass(ctx, d.closePass.ID, d.At); err != nil {
			return unavailable("commit: close visitor pass", err)
		}
	}
	if err := tx.UpdatePersonStatus(ctx, d.Person.ID, model.StatusInactive, d.At); err != nil {
		return unavailable("commit: deactivate visitor", err)
	}
	d.Person.Status = model.StatusInactive
	d.Person.UpdatedAt = d.At
	return nil
}

func deny(reason DenialReason, p *model.Person, at time.Time) Decision {
	return Decision{Outcome: OutcomeDeny, Person: p, Reason: reason, At: at}
}

func personRef(id Identity) *model.Person {
	if !id.Found() {
		return nil
	}
	p := id.Person
	return &p
}

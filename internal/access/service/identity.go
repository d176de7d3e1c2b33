package service

import (
	"context"
	"fmt"
	"time"

	"github.com/FERLEY2004/QRRR-sub001/internal/access/model"
	"github.com/FERLEY2004/QRRR-sub001/internal/access/store"
)

type IdentityOutcome int

const (
	IdentityUnknown IdentityOutcome = iota
	IdentityActive
	IdentityInactive
)

func (o IdentityOutcome) String() string {
	switch o {
	case IdentityActive:
		return "active"
	case IdentityInactive:
		return "inactive"
	default:
		return "unknown"
	}
}

// Identity is the result of resolving a credential. Reason is set when
// resolution itself already denies the scan.
type Identity struct {
	Outcome     IdentityOutcome
	Person      model.Person
	Credential  Credential
	Provisioned bool
	Reason      DenialReason
}

func (id Identity) Found() bool { return id.Outcome != IdentityUnknown }

// IdentityResolver maps a credential to a person. It only runs inside a
// Ledger unit: visitor auto-provisioning writes through the same tx.
type IdentityResolver struct {
	validity       time.Duration
	defaultDocType string
	ids            *idSource
}

func NewIdentityResolver(validity time.Duration, defaultVisitorDocType string) *IdentityResolver {
	return &IdentityResolver{
		validity:       validity,
		defaultDocType: model.NormalizeDocumentType(defaultVisitorDocType),
		ids:            newIDSource(),
	}
}

func (r *IdentityResolver) Resolve(ctx context.Context, tx store.Tx, cred Credential, now time.Time) (Identity, error) {
	if cred.Kind == KindVisitor {
		return r.resolveVisitor(ctx, tx, cred, now)
	}
	return r.resolveMember(ctx, tx, cred)
}

func (r *IdentityResolver) resolveVisitor(ctx context.Context, tx store.Tx, cred Credential, now time.Time) (Identity, error) {
	docType := cred.DocumentType
	if docType == "" {
		docType = r.defaultDocType
	}
	id := Identity{Credential: cred}

	matches, err := tx.PersonsByDocument(ctx, cred.Document)
	if err != nil {
		return Identity{}, unavailable("resolve visitor", err)
	}
	var (
		p     model.Person
		found bool
	)
	for _, m := range matches {
		if m.DocumentType == docType {
			p, found = m, true
			break
		}
	}

	if !found {
		if now.Sub(cred.IssuedAt) > r.validity {
			id.Reason = ReasonQRExpired
			return id, nil
		}
		p, err = r.provisionVisitor(ctx, tx, cred, docType, now)
		if err != nil {
			return Identity{}, err
		}
		id.Outcome = IdentityActive
		id.Person = p
		id.Provisioned = true
		return id, nil
	}

	id.Person = p
	id.Outcome = outcomeOf(p)
	switch {
	case p.Role.IsMember():
		id.Reason = ReasonCredentialRoleMismatch
	case p.Status != model.StatusActive:
		id.Reason = ReasonQRRequiresReissue
	default:
		pass, ok, err := tx.LatestVisitorPass(ctx, p.ID)
		if err != nil {
			return Identity{}, unavailable("resolve visitor pass", err)
		}
		if ok && issuedBefore(cred.IssuedAt, pass.IssuedAt) {
			// Credential printed for an earlier visit.
			id.Reason = ReasonQRRequiresReissue
		}
	}
	return id, nil
}

func (r *IdentityResolver) provisionVisitor(ctx context.Context, tx store.Tx, cred Credential, docType string, now time.Time) (model.Person, error) {
	given, surnames := model.SplitDisplayName(cred.DisplayName)
	p := model.Person{
		ID:             r.ids.uuid(),
		DocumentNumber: cred.Document,
		DocumentType:   docType,
		GivenNames:     given,
		Surnames:       surnames,
		DisplayName:    cred.DisplayName,
		Role:           model.RoleVisitor,
		Status:         model.StatusActive,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := tx.InsertPerson(ctx, p); err != nil {
		return model.Person{}, unavailable("provision visitor", err)
	}
	pass := model.VisitorPass{
		ID:        r.ids.uuid(),
		PersonID:  p.ID,
		Reason:    "self-service credential",
		IssuedAt:  cred.IssuedAt,
		StartedAt: now,
		State:     model.PassActive,
	}
	if err := tx.OpenVisitorPass(ctx, pass); err != nil {
		return model.Person{}, unavailable("open visitor pass", err)
	}
	return p, nil
}

func (r *IdentityResolver) resolveMember(ctx context.Context, tx store.Tx, cred Credential) (Identity, error) {
	id := Identity{Credential: cred}

	matches, err := tx.PersonsByDocument(ctx, cred.Document)
	if err != nil {
		return Identity{}, unavailable("resolve member", err)
	}

	var members, visitors []model.Person
	for _, m := range matches {
		if cred.DocumentType != "" && m.DocumentType != cred.DocumentType {
			continue
		}
		if m.Role.IsMember() {
			members = append(members, m)
		} else {
			visitors = append(visitors, m)
		}
	}

	switch {
	case len(members) > 1:
		return Identity{}, fmt.Errorf("%w: document %s matches %d persons; document_type is required",
			ErrInvalidCredential, cred.Document, len(members))
	case len(members) == 0 && len(visitors) == 0:
		id.Reason = ReasonPersonNotRegistered
		return id, nil
	case len(members) == 0:
		id.Person = visitors[0]
		id.Outcome = outcomeOf(id.Person)
		id.Reason = ReasonCredentialRoleMismatch
		return id, nil
	}

	id.Person = members[0]
	id.Outcome = outcomeOf(id.Person)
	if id.Outcome == IdentityInactive {
		id.Reason = ReasonAccessDeniedInactive
	}
	return id, nil
}

func outcomeOf(p model.Person) IdentityOutcome {
	if p.Status == model.StatusActive {
		return IdentityActive
	}
	return IdentityInactive
}

// issuedBefore compares at the millisecond precision timestamps are stored
// with.
func issuedBefore(a, b time.Time) bool {
	return a.Truncate(time.Millisecond).Before(b.Truncate(time.Millisecond))
}

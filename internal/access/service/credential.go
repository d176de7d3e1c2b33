package service

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/FERLEY2004/QRRR-sub001/internal/access/model"
	"github.com/FERLEY2004/QRRR-sub001/internal/access/types"
)

type CredentialKind string

const (
	KindVisitor CredentialKind = "visitor"
	KindMember  CredentialKind = "member"
)

// Credential is a validated scan payload.
type Credential struct {
	Kind         CredentialKind
	Document     string
	DocumentType string
	DisplayName  string
	IssuedAt     time.Time
	RoleHint     model.Role
}

// ParseCredential validates req at time now. Fields of the raw QR payload,
// when present, take precedence over the structured ones. An issue time
// more than skew in the future is rejected.
func ParseCredential(req types.ScanRequest, now time.Time, skew time.Duration) (Credential, error) {
	if raw := strings.TrimSpace(req.QR); raw != "" {
		var qr types.QRPayload
		if err := json.Unmarshal([]byte(raw), &qr); err != nil {
			return Credential{}, fmt.Errorf("%w: qr payload: %v", ErrInvalidCredential, err)
		}
		overlay(&req.CredentialKind, qr.Kind)
		overlay(&req.Document, qr.Document)
		overlay(&req.DocumentType, qr.DocumentType)
		overlay(&req.DisplayName, qr.Name)
		overlay(&req.RoleHint, qr.Role)
		overlay(&req.IssueTimestamp, qr.IssuedAt)
	}

	var c Credential

	kind, hint, err := parseKind(req.CredentialKind)
	if err != nil {
		return Credential{}, err
	}
	c.Kind = kind
	c.RoleHint = hint

	if h := strings.TrimSpace(req.RoleHint); h != "" {
		r, err := model.ParseRole(h)
		if err != nil {
			return Credential{}, fmt.Errorf("%w: %v", ErrInvalidCredential, err)
		}
		c.RoleHint = r
	}

	c.Document = model.NormalizeDocument(req.Document)
	if c.Document == "" {
		return Credential{}, fmt.Errorf("%w: document is required", ErrInvalidCredential)
	}
	c.DocumentType = model.NormalizeDocumentType(req.DocumentType)
	c.DisplayName = strings.Join(strings.Fields(req.DisplayName), " ")

	if ts := strings.TrimSpace(req.IssueTimestamp); ts != "" {
		t, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return Credential{}, fmt.Errorf("%w: issue_timestamp: %v", ErrInvalidCredential, err)
		}
		c.IssuedAt = t.UTC()
		if c.IssuedAt.Sub(now) > skew {
			return Credential{}, fmt.Errorf("%w: issue_timestamp is in the future", ErrInvalidCredential)
		}
	}

	if c.Kind == KindVisitor {
		if c.DisplayName == "" {
			return Credential{}, fmt.Errorf("%w: display_name is required for visitors", ErrInvalidCredential)
		}
		if c.IssuedAt.IsZero() {
			return Credential{}, fmt.Errorf("%w: issue_timestamp is required for visitors", ErrInvalidCredential)
		}
		if c.RoleHint != model.RoleUnknown && c.RoleHint != model.RoleVisitor {
			return Credential{}, fmt.Errorf("%w: role_hint %s on a visitor credential", ErrInvalidCredential, c.RoleHint)
		}
	}
	return c, nil
}

// parseKind accepts "visitor", "member" or a member role name, which also
// becomes the role hint.
func parseKind(s string) (CredentialKind, model.Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "visitor", "visitante":
		return KindVisitor, model.RoleUnknown, nil
	case "member", "miembro":
		return KindMember, model.RoleUnknown, nil
	case "":
		return "", model.RoleUnknown, fmt.Errorf("%w: credential_kind is required", ErrInvalidCredential)
	}
	r, err := model.ParseRole(s)
	if err != nil {
		return "", model.RoleUnknown, fmt.Errorf("%w: credential_kind %q", ErrInvalidCredential, s)
	}
	if r == model.RoleVisitor {
		return KindVisitor, model.RoleUnknown, nil
	}
	return KindMember, r, nil
}

func overlay(dst *string, v string) {
	if strings.TrimSpace(v) != "" {
		*dst = v
	}
}

// EncodeQR renders the payload printed on a visitor credential.
func EncodeQR(p model.Person, issuedAt time.Time) string {
	b, _ := json.Marshal(types.QRPayload{
		Kind:         string(KindVisitor),
		Document:     p.DocumentNumber,
		DocumentType: p.DocumentType,
		Name:         p.DisplayName,
		IssuedAt:     issuedAt.UTC().Format(time.RFC3339),
	})
	return string(b)
}

package httpapi

import (
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/FERLEY2004/QRRR-sub001/internal/access/model"
	"github.com/FERLEY2004/QRRR-sub001/internal/access/service"
	"github.com/FERLEY2004/QRRR-sub001/internal/access/types"
)

// ── Scan ─────────────────────────────────────────────────────────────────────

func scanRequestFromStruct(p *structpb.Struct) types.ScanRequest {
	str := func(key string) string {
		if v, ok := p.GetFields()[key]; ok {
			return v.GetStringValue()
		}
		return ""
	}
	return types.ScanRequest{
		CredentialKind: str("credential_kind"),
		Document:       str("document"),
		DocumentType:   str("document_type"),
		DisplayName:    str("display_name"),
		IssueTimestamp: str("issue_timestamp"),
		RoleHint:       str("role_hint"),
		QR:             str("qr"),
	}
}

func scanResponseToStruct(r types.ScanResponse) (*structpb.Struct, error) {
	m := map[string]any{
		"outcome":   r.Outcome,
		"timestamp": r.Timestamp,
	}
	if r.Direction != "" {
		m["direction"] = r.Direction
	}
	if r.ReasonCode != "" {
		m["reason_code"] = r.ReasonCode
		m["message"] = r.Message
	}
	if p := r.Person; p != nil {
		m["person"] = map[string]any{
			"id":              p.ID,
			"document_number": p.DocumentNumber,
			"document_type":   p.DocumentType,
			"display_name":    p.DisplayName,
			"role":            p.Role,
			"status":          p.Status,
		}
	}
	return structpb.NewStruct(m)
}

// ── Presence ─────────────────────────────────────────────────────────────────

func occupantsResponse(now time.Time, occ []service.PresenceRecord) types.OccupantsResponse {
	out := types.OccupantsResponse{
		AsOf:      now.UTC().Format(time.RFC3339Nano),
		Count:     len(occ),
		Occupants: make([]types.OccupantRecord, 0, len(occ)),
	}
	for _, o := range occ {
		out.Occupants = append(out.Occupants, types.OccupantRecord{
			Person:         service.ToPersonSummary(o.Person),
			EnteredAt:      o.EnteredAt.UTC().Format(time.RFC3339Nano),
			ElapsedMinutes: o.ElapsedMinutes,
		})
	}
	return out
}

// ── Alerts ───────────────────────────────────────────────────────────────────

func alertRecord(a model.Alert) types.AlertRecord {
	rec := types.AlertRecord{
		ID:              a.ID,
		Type:            string(a.Type),
		Severity:        string(a.Severity),
		SubjectPersonID: a.SubjectPersonID,
		Subject:         a.Subject,
		Message:         a.Message,
		CreatedAt:       a.CreatedAt.UTC().Format(time.RFC3339Nano),
		Metadata:        a.Metadata,
	}
	if a.ReadAt != nil {
		s := a.ReadAt.UTC().Format(time.RFC3339Nano)
		rec.ReadAt = &s
	}
	return rec
}

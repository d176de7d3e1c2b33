package service_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/FERLEY2004/QRRR-sub001/internal/access/model"
	"github.com/FERLEY2004/QRRR-sub001/internal/access/service"
	"github.com/FERLEY2004/QRRR-sub001/internal/access/store"
	"github.com/FERLEY2004/QRRR-sub001/internal/access/store/memory"
	"github.com/FERLEY2004/QRRR-sub001/internal/access/types"
	"github.com/FERLEY2004/QRRR-sub001/internal/clock"
	"github.com/FERLEY2004/QRRR-sub001/internal/config"
)

// T0 is a Monday morning.
var T0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func silentLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testPolicy(t *testing.T) config.Policy {
	t.Helper()
	p := config.DefaultPolicy()
	p.Timezone = "UTC"
	if err := p.Validate(); err != nil {
		t.Fatalf("policy: %v", err)
	}
	return p
}

type harness struct {
	st       *memory.Store
	clk      *clock.FakeClock
	policy   config.Policy
	presence *service.PresenceResolver
	detector *service.Detector
	scans    *service.ScanService
	desk     *service.VisitorDesk
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWith(t, memory.New(), nil)
}

// newHarnessWith builds a harness whose scans go through ledger when it is
// non-nil, and through st otherwise.
func newHarnessWith(t *testing.T, st *memory.Store, ledger service.ScanStore) *harness {
	t.Helper()
	h := &harness{st: st, clk: clock.Fake(T0), policy: testPolicy(t)}
	if ledger == nil {
		ledger = st
	}
	h.presence = service.NewPresenceResolver(st, h.clk)
	h.detector = service.NewDetector(st, h.policy, h.clk, silentLogger())
	h.scans = service.NewScanService(ledger, h.presence, h.detector, h.policy, h.clk, silentLogger())
	h.desk = service.NewVisitorDesk(st, h.policy, h.clk, silentLogger())
	return h
}

func (h *harness) member(t *testing.T, id, doc string, role model.Role) model.Person {
	t.Helper()
	p := model.Person{
		ID:             id,
		DocumentNumber: doc,
		DocumentType:   "CC",
		GivenNames:     "Laura",
		Surnames:       "Gomez",
		DisplayName:    "Laura Gomez",
		Role:           role,
		Status:         model.StatusActive,
		CreatedAt:      T0.Add(-24 * time.Hour),
		UpdatedAt:      T0.Add(-24 * time.Hour),
	}
	if err := h.st.PutPerson(p); err != nil {
		t.Fatalf("PutPerson: %v", err)
	}
	return p
}

func (h *harness) setStatus(t *testing.T, personID string, status model.Status) {
	t.Helper()
	err := h.st.Atomically(context.Background(), func(ctx context.Context, tx store.Tx) error {
		return tx.UpdatePersonStatus(ctx, personID, status, h.clk.Now())
	})
	if err != nil {
		t.Fatalf("UpdatePersonStatus: %v", err)
	}
}

func (h *harness) appendEvent(t *testing.T, id, personID string, dir model.Direction, at time.Time) {
	t.Helper()
	err := h.st.Atomically(context.Background(), func(ctx context.Context, tx store.Tx) error {
		return tx.AppendEvent(ctx, model.AccessEvent{ID: id, PersonID: personID, Direction: dir, OccurredAt: at})
	})
	if err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}
}

func (h *harness) scan(t *testing.T, req types.ScanRequest) types.ScanResponse {
	t.Helper()
	resp, err := h.scans.Scan(context.Background(), req)
	if err != nil {
		t.Fatalf("Scan(%+v): %v", req, err)
	}
	return resp
}

func (h *harness) scanComplete(t *testing.T, req types.ScanRequest) types.ScanResponse {
	t.Helper()
	resp, err := h.scans.ScanComplete(context.Background(), req)
	if err != nil {
		t.Fatalf("ScanComplete(%+v): %v", req, err)
	}
	return resp
}

func visitorReq(doc, name string, issued time.Time) types.ScanRequest {
	return types.ScanRequest{
		CredentialKind: "visitor",
		Document:       doc,
		DisplayName:    name,
		IssueTimestamp: issued.Format(time.RFC3339),
	}
}

func memberReq(doc string) types.ScanRequest {
	return types.ScanRequest{CredentialKind: "member", Document: doc}
}

func expectAdmit(t *testing.T, resp types.ScanResponse, dir model.Direction) {
	t.Helper()
	if resp.Outcome != "ADMIT" || resp.Direction != string(dir) {
		t.Fatalf("expected ADMIT/%s, got %s/%s (reason %q)", dir, resp.Outcome, resp.Direction, resp.ReasonCode)
	}
}

func expectDeny(t *testing.T, resp types.ScanResponse, reason service.DenialReason) {
	t.Helper()
	if resp.Outcome != "DENY" || resp.ReasonCode != string(reason) {
		t.Fatalf("expected DENY/%s, got %s/%s", reason, resp.Outcome, resp.ReasonCode)
	}
	if resp.Direction != "" {
		t.Errorf("expected no direction on a denial, got %s", resp.Direction)
	}
}

func alertsOfType(t *testing.T, st store.AlertStore, typ model.AlertType) []model.Alert {
	t.Helper()
	all, err := st.ListAlerts(context.Background(), store.AlertFilter{})
	if err != nil {
		t.Fatalf("ListAlerts: %v", err)
	}
	var out []model.Alert
	for _, a := range all {
		if a.Type == typ {
			out = append(out, a)
		}
	}
	return out
}

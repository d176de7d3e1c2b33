package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/FERLEY2004/QRRR-sub001/internal/access/model"
	"github.com/FERLEY2004/QRRR-sub001/internal/access/service"
	"github.com/FERLEY2004/QRRR-sub001/internal/access/store"
	"github.com/FERLEY2004/QRRR-sub001/internal/access/store/memory"
	"github.com/FERLEY2004/QRRR-sub001/internal/access/types"
	"github.com/FERLEY2004/QRRR-sub001/internal/clock"
	"github.com/FERLEY2004/QRRR-sub001/internal/config"
	"github.com/FERLEY2004/QRRR-sub001/internal/httpapi"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type testEnv struct {
	ts      *httptest.Server
	handler http.Handler
	st      *memory.Store
	clk     *clock.FakeClock
	stream  *httpapi.AlertStream
}

// newTestServer wires up the full dependency graph on the memory store
// and returns an httptest.Server whose URL can be hit with a plain
// http.Client.
func newTestServer(t *testing.T, prod bool) *testEnv {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	policy := config.DefaultPolicy()
	policy.Timezone = "UTC"
	if err := policy.Validate(); err != nil {
		t.Fatalf("policy: %v", err)
	}

	env := &testEnv{st: memory.New(), clk: clock.Fake(t0), stream: httpapi.NewAlertStream(logger)}
	presence := service.NewPresenceResolver(env.st, env.clk)
	detector := service.NewDetector(env.st, policy, env.clk, logger)
	detector.SetPublisher(env.stream)

	srv := httpapi.NewServer(httpapi.Dependencies{
		Logger:   logger,
		Addr:     ":0",
		Prod:     prod,
		Clock:    env.clk,
		Scans:    service.NewScanService(env.st, presence, detector, policy, env.clk, logger),
		Presence: presence,
		Desk:     service.NewVisitorDesk(env.st, policy, env.clk, logger),
		Alerts:   env.st,
		Security: env.st,
		Sweeper:  service.NewSweeper(detector, time.Hour, logger),
		Stream:   env.stream,
		Ping:     func(context.Context) error { return nil },
	})

	env.handler = srv.Handler()
	env.ts = httptest.NewServer(env.handler)
	t.Cleanup(func() {
		env.stream.Close()
		env.ts.Close()
	})
	return env
}

func (e *testEnv) member(t *testing.T, id, doc string, status model.Status) {
	t.Helper()
	err := e.st.PutPerson(model.Person{
		ID: id, DocumentNumber: doc, DocumentType: "CC", DisplayName: "Laura Gomez",
		Role: model.RoleAprendiz, Status: status, CreatedAt: t0, UpdatedAt: t0,
	})
	if err != nil {
		t.Fatalf("PutPerson: %v", err)
	}
}

func postJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return v
}

func expectStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("expected %d, got %d: %s", want, resp.StatusCode, body)
	}
}

// ── Scans ────────────────────────────────────────────────────────────────────

func TestScan_MemberTogglesEntryExit(t *testing.T) {
	env := newTestServer(t, false)
	env.member(t, "m-1010", "1010", model.StatusActive)

	for _, want := range []string{"ENTRY", "EXIT"} {
		resp := postJSON(t, env.ts.URL+"/v1/scans", `{"credential_kind":"member","document":"1010"}`)
		expectStatus(t, resp, http.StatusOK)

		sr := decode[types.ScanResponse](t, resp)
		if sr.Outcome != "ADMIT" || sr.Direction != want {
			t.Fatalf("expected ADMIT/%s, got %s/%s", want, sr.Outcome, sr.Direction)
		}
		if sr.Person == nil || sr.Person.ID != "m-1010" {
			t.Errorf("expected person m-1010, got %+v", sr.Person)
		}
	}
}

func TestScan_DenialIs200WithReason(t *testing.T) {
	env := newTestServer(t, false)

	resp := postJSON(t, env.ts.URL+"/v1/scans", `{"credential_kind":"member","document":"404"}`)
	expectStatus(t, resp, http.StatusOK)

	sr := decode[types.ScanResponse](t, resp)
	if sr.Outcome != "DENY" || sr.ReasonCode != "PERSON_NOT_REGISTERED" || sr.Direction != "" {
		t.Errorf("unexpected response %+v", sr)
	}
}

func TestScan_InvalidCredential_400(t *testing.T) {
	env := newTestServer(t, false)

	resp := postJSON(t, env.ts.URL+"/v1/scans", `{"credential_kind":"visitor","document":"900"}`)
	expectStatus(t, resp, http.StatusBadRequest)
	if e := decode[types.ErrorResponse](t, resp); e.Code != "invalid_credential" {
		t.Errorf("expected invalid_credential, got %q", e.Code)
	}
}

func TestScan_InvalidJSON_400(t *testing.T) {
	env := newTestServer(t, false)

	for _, body := range []string{`not json at all`, `{"credential_kind":"member","document":"1","extra":1}`} {
		resp := postJSON(t, env.ts.URL+"/v1/scans", body)
		expectStatus(t, resp, http.StatusBadRequest)
	}
}

func TestScan_StoreFailure_503(t *testing.T) {
	env := newTestServer(t, true)
	env.member(t, "m-1010", "1010", model.StatusActive)
	env.st.FailOn("AppendEvent", errors.New("disk I/O error"))

	resp := postJSON(t, env.ts.URL+"/v1/scans", `{"credential_kind":"member","document":"1010"}`)
	expectStatus(t, resp, http.StatusServiceUnavailable)

	e := decode[types.ErrorResponse](t, resp)
	if e.Code != "store_unavailable" {
		t.Errorf("expected store_unavailable, got %q", e.Code)
	}
	if strings.Contains(e.Message, "disk") {
		t.Errorf("expected a generic message in prod, got %q", e.Message)
	}
}

func TestScanComplete_OutOfSchedule(t *testing.T) {
	env := newTestServer(t, false)
	err := env.st.PutPerson(model.Person{
		ID: "adm", DocumentNumber: "1030", DocumentType: "CC", DisplayName: "Marta Suarez",
		Role: model.RoleAdministrative, Status: model.StatusActive, CreatedAt: t0, UpdatedAt: t0,
	})
	if err != nil {
		t.Fatalf("PutPerson: %v", err)
	}
	env.clk.Set(time.Date(2026, 3, 7, 10, 0, 0, 0, time.UTC)) // Saturday

	resp := postJSON(t, env.ts.URL+"/v1/scans/complete", `{"credential_kind":"member","document":"1030"}`)
	expectStatus(t, resp, http.StatusOK)
	if sr := decode[types.ScanResponse](t, resp); sr.ReasonCode != "OUT_OF_SCHEDULE" {
		t.Errorf("expected OUT_OF_SCHEDULE, got %+v", sr)
	}

	// The minimal path has no schedule rules.
	resp = postJSON(t, env.ts.URL+"/v1/scans", `{"credential_kind":"member","document":"1030"}`)
	if sr := decode[types.ScanResponse](t, resp); sr.Outcome != "ADMIT" {
		t.Errorf("expected ADMIT on the minimal path, got %+v", sr)
	}
}

func TestScan_Protobuf(t *testing.T) {
	env := newTestServer(t, false)
	env.member(t, "m-1010", "1010", model.StatusActive)

	req, err := structpb.NewStruct(map[string]any{"credential_kind": "member", "document": "1010"})
	if err != nil {
		t.Fatalf("NewStruct: %v", err)
	}
	body, err := proto.Marshal(req)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	resp, err := http.Post(env.ts.URL+"/v1/scans", "application/x-protobuf", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	expectStatus(t, resp, http.StatusOK)
	if ct := resp.Header.Get("Content-Type"); ct != "application/x-protobuf" {
		t.Fatalf("expected protobuf response, got %q", ct)
	}

	raw, _ := io.ReadAll(resp.Body)
	out := &structpb.Struct{}
	if err := proto.Unmarshal(raw, out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	f := out.GetFields()
	if f["outcome"].GetStringValue() != "ADMIT" || f["direction"].GetStringValue() != "ENTRY" {
		t.Errorf("unexpected response %v", out)
	}
	if f["person"].GetStructValue().GetFields()["id"].GetStringValue() != "m-1010" {
		t.Errorf("expected nested person, got %v", f["person"])
	}
}

// ── Presence ─────────────────────────────────────────────────────────────────

func TestPresenceAndOccupants(t *testing.T) {
	env := newTestServer(t, false)
	env.member(t, "m-1010", "1010", model.StatusActive)
	postJSON(t, env.ts.URL+"/v1/scans", `{"credential_kind":"member","document":"1010"}`)
	env.clk.Advance(90 * time.Minute)

	resp, err := http.Get(env.ts.URL + "/v1/presence/m-1010")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	expectStatus(t, resp, http.StatusOK)
	if p := decode[types.PresenceResponse](t, resp); !p.Inside {
		t.Error("expected inside")
	}

	before := t0.Add(-time.Minute).Format(time.RFC3339)
	resp2, err := http.Get(env.ts.URL + "/v1/presence/m-1010?at=" + before)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp2.Body.Close()
	if p := decode[types.PresenceResponse](t, resp2); p.Inside {
		t.Error("expected outside before the entry")
	}

	resp3, err := http.Get(env.ts.URL + "/v1/occupants")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp3.Body.Close()
	occ := decode[types.OccupantsResponse](t, resp3)
	if occ.Count != 1 || occ.Occupants[0].ElapsedMinutes != 90 {
		t.Errorf("unexpected occupants %+v", occ)
	}
}

func TestPresence_BadTimestamp_400(t *testing.T) {
	env := newTestServer(t, false)
	resp, err := http.Get(env.ts.URL + "/v1/presence/x?at=yesterday")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	expectStatus(t, resp, http.StatusBadRequest)
}

// ── Visitors ─────────────────────────────────────────────────────────────────

func TestRegisterVisitor_ThenScanQR(t *testing.T) {
	env := newTestServer(t, false)

	resp := postJSON(t, env.ts.URL+"/v1/visitors", `{"document":"900123","display_name":"Ana Perez","reason":"reunion"}`)
	expectStatus(t, resp, http.StatusCreated)
	reg := decode[types.RegisterVisitorResponse](t, resp)
	if reg.QR == "" || reg.PassID == "" {
		t.Fatalf("unexpected registration %+v", reg)
	}

	body, _ := json.Marshal(types.ScanRequest{QR: reg.QR})
	resp = postJSON(t, env.ts.URL+"/v1/scans", string(body))
	if sr := decode[types.ScanResponse](t, resp); sr.Outcome != "ADMIT" || sr.Direction != "ENTRY" {
		t.Errorf("expected ADMIT/ENTRY, got %+v", sr)
	}
}

func TestRegisterVisitor_MemberDocument_409(t *testing.T) {
	env := newTestServer(t, false)
	env.member(t, "m-1010", "1010", model.StatusActive)

	resp := postJSON(t, env.ts.URL+"/v1/visitors", `{"document":"1010","display_name":"Laura"}`)
	expectStatus(t, resp, http.StatusConflict)
}

// ── Alerts ───────────────────────────────────────────────────────────────────

func TestAlerts_InlineAlertListedAndMarkedRead(t *testing.T) {
	env := newTestServer(t, false)
	env.member(t, "m-1010", "1010", model.StatusInactive)
	postJSON(t, env.ts.URL+"/v1/scans", `{"credential_kind":"member","document":"1010"}`)

	resp, err := http.Get(env.ts.URL + "/v1/alerts?unread=true")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	list := decode[types.AlertsResponse](t, resp)
	if len(list.Alerts) != 1 || list.Alerts[0].Type != "inactive_access_attempt" {
		t.Fatalf("unexpected alerts %+v", list)
	}

	resp2 := postJSON(t, env.ts.URL+"/v1/alerts/"+list.Alerts[0].ID+"/read", "")
	expectStatus(t, resp2, http.StatusNoContent)

	resp3, err := http.Get(env.ts.URL + "/v1/alerts?unread=true")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp3.Body.Close()
	if list := decode[types.AlertsResponse](t, resp3); len(list.Alerts) != 0 {
		t.Errorf("expected no unread alerts, got %d", len(list.Alerts))
	}

	resp4 := postJSON(t, env.ts.URL+"/v1/alerts/nope/read", "")
	expectStatus(t, resp4, http.StatusNotFound)
}

func TestSecurityEvents_FeedFailedLoginSweep(t *testing.T) {
	env := newTestServer(t, false)
	for i := 0; i < 4; i++ {
		resp := postJSON(t, env.ts.URL+"/v1/security_events", `{"category":"auth_failure","origin":"10.0.0.7"}`)
		expectStatus(t, resp, http.StatusAccepted)
	}

	resp := postJSON(t, env.ts.URL+"/v1/sweeps", "")
	expectStatus(t, resp, http.StatusOK)
	sweep := decode[types.SweepResponse](t, resp)
	if sweep.Skipped {
		t.Fatal("unexpected skip")
	}
	var raised int
	for _, r := range sweep.Rules {
		if r.Rule == "failed_login" {
			raised = r.Raised
		}
	}
	if raised != 1 {
		t.Errorf("expected one failed_login alert, got %+v", sweep.Rules)
	}
}

func TestSweep_CompletesAfterClientGoesAway(t *testing.T) {
	env := newTestServer(t, false)
	for i := 0; i < 4; i++ {
		resp := postJSON(t, env.ts.URL+"/v1/security_events", `{"category":"AUTH_FAILURE","origin":"10.0.0.9"}`)
		expectStatus(t, resp, http.StatusAccepted)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/v1/sweeps", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var sweep types.SweepResponse
	if err := json.NewDecoder(rec.Body).Decode(&sweep); err != nil {
		t.Fatalf("decode: %v", err)
	}
	for _, r := range sweep.Rules {
		if r.Error != "" {
			t.Errorf("rule %s failed: %s", r.Rule, r.Error)
		}
	}

	alerts, err := env.st.ListAlerts(context.Background(), store.AlertFilter{})
	if err != nil {
		t.Fatalf("ListAlerts: %v", err)
	}
	var failed int
	for _, a := range alerts {
		if a.Type == model.AlertFailedLogin {
			failed++
		}
	}
	if failed != 1 {
		t.Errorf("expected one failed_login alert, got %d", failed)
	}
}

func TestSecurityEvents_Validation(t *testing.T) {
	env := newTestServer(t, false)
	for _, body := range []string{
		`{"category":"ACCESS_DENIED","origin":"10.0.0.7"}`,
		`{"category":"AUTH_FAILURE","origin":"  "}`,
		`{"category":"AUTH_FAILURE","origin":"10.0.0.7","occurred_at":"soon"}`,
	} {
		resp := postJSON(t, env.ts.URL+"/v1/security_events", body)
		expectStatus(t, resp, http.StatusBadRequest)
	}
}

func TestAlertStream_ReceivesRaisedAlerts(t *testing.T) {
	env := newTestServer(t, false)
	env.member(t, "m-1010", "1010", model.StatusInactive)

	wsURL := "ws" + strings.TrimPrefix(env.ts.URL, "http") + "/v1/alerts/stream"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for env.stream.Clients() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	postJSON(t, env.ts.URL+"/v1/scans", `{"credential_kind":"member","document":"1010"}`)

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var rec types.AlertRecord
	if err := conn.ReadJSON(&rec); err != nil {
		t.Fatalf("read: %v", err)
	}
	if rec.Type != "inactive_access_attempt" || rec.Subject != "1010" {
		t.Errorf("unexpected alert %+v", rec)
	}
}

// ── Health ───────────────────────────────────────────────────────────────────

func TestHealthz(t *testing.T) {
	env := newTestServer(t, false)
	resp, err := http.Get(env.ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	expectStatus(t, resp, http.StatusOK)
}

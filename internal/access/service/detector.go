package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/FERLEY2004/QRRR-sub001/internal/access/model"
	"github.com/FERLEY2004/QRRR-sub001/internal/access/store"
	"github.com/FERLEY2004/QRRR-sub001/internal/clock"
	"github.com/FERLEY2004/QRRR-sub001/internal/config"
)

// AlertPublisher receives every alert after it is stored. Publish must not
// block.
type AlertPublisher interface {
	Publish(a model.Alert)
}

// DetectorStore is the read/write surface the detector needs.
type DetectorStore interface {
	store.EventReader
	store.PersonReader
	store.VisitorPassReader
	store.AlertStore
	store.SecurityLog
}

// Rule is one independent detection rule.
type Rule struct {
	Name string
	Run  func(ctx context.Context) ([]model.Alert, error)
}

// Detector raises alerts from the access log, the visitor passes and the
// security log. Every rule is idempotent: re-running it over unchanged
// data raises nothing new.
type Detector struct {
	store     DetectorStore
	policy    config.Policy
	clock     clock.Clock
	logger    *slog.Logger
	publisher AlertPublisher
	ids       *idSource
}

func NewDetector(st DetectorStore, policy config.Policy, clk clock.Clock, logger *slog.Logger) *Detector {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Detector{store: st, policy: policy, clock: clk, logger: logger, ids: newIDSource()}
}

// SetPublisher wires a live feed. Call before the detector is used.
func (d *Detector) SetPublisher(p AlertPublisher) { d.publisher = p }

func (d *Detector) Rules() []Rule {
	return []Rule{
		{Name: string(model.AlertOffSchedule), Run: d.OffSchedule},
		{Name: string(model.AlertVisitorPassExpiring), Run: d.VisitorPassExpiring},
		{Name: string(model.AlertFrequentAccess), Run: d.FrequentAccess},
		{Name: string(model.AlertFailedLogin), Run: d.FailedLogins},
		{Name: string(model.AlertSuspiciousBehavior), Run: d.SuspiciousBehavior},
	}
}

// OffSchedule flags ENTRY events of the current local day outside
// [open_hour, close_hour). One alert per person and day.
func (d *Detector) OffSchedule(ctx context.Context) ([]model.Alert, error) {
	now := d.clock.Now()
	loc := d.policy.Location()
	local := now.In(loc)
	dayStart := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	day := dayStart.Format(time.DateOnly)
	open, closeHour := d.policy.Detector.OffSchedule.OpenHour, d.policy.Detector.OffSchedule.CloseHour

	events, err := d.store.EventsBetween(ctx, dayStart, through(now), model.DirectionEntry)
	if err != nil {
		return nil, fmt.Errorf("off_schedule: %w", err)
	}

	var raised []model.Alert
	for _, ev := range events {
		at := ev.OccurredAt.In(loc)
		if h := at.Hour(); h >= open && h < closeHour {
			continue
		}
		person := ev.PersonID
		a := d.newAlert(model.AlertOffSchedule, model.SeverityMedium, &person, d.subjectOf(ctx, person),
			fmt.Sprintf("entry at %s outside %02d:00-%02d:00", at.Format("15:04"), open, closeHour),
			fmt.Sprintf("off_schedule:%s:%s", person, day), now)
		a.Metadata["event_id"] = ev.ID
		ok, err := d.raise(ctx, a, time.Time{})
		if err != nil {
			return raised, fmt.Errorf("off_schedule: %w", err)
		}
		if ok {
			raised = append(raised, a)
		}
	}
	return raised, nil
}

// VisitorPassExpiring flags ACTIVE passes whose age is inside the closing
// window before the validity boundary.
func (d *Detector) VisitorPassExpiring(ctx context.Context) ([]model.Alert, error) {
	now := d.clock.Now()
	validity := d.policy.Visitor.Validity
	from := validity - d.policy.Visitor.ExpiringWindow

	passes, err := d.store.ActiveVisitorPasses(ctx)
	if err != nil {
		return nil, fmt.Errorf("visitor_pass_expiring: %w", err)
	}

	var raised []model.Alert
	for _, p := range passes {
		age := p.Age(now)
		if age < from || age >= validity {
			continue
		}
		person := p.PersonID
		a := d.newAlert(model.AlertVisitorPassExpiring, model.SeverityLow, &person, d.subjectOf(ctx, person),
			fmt.Sprintf("visitor pass expires in %d minutes", int64((validity-age)/time.Minute)),
			fmt.Sprintf("visitor_pass_expiring:%s:%s", person, p.ID), now)
		a.Metadata["pass_id"] = p.ID
		ok, err := d.raise(ctx, a, time.Time{})
		if err != nil {
			return raised, fmt.Errorf("visitor_pass_expiring: %w", err)
		}
		if ok {
			raised = append(raised, a)
		}
	}
	return raised, nil
}

// FrequentAccess flags persons with more than max_entries ENTRY events in
// the rolling window.
func (d *Detector) FrequentAccess(ctx context.Context) ([]model.Alert, error) {
	cfg := d.policy.Detector.FrequentAccess
	now := d.clock.Now()
	since := now.Add(-cfg.Window)

	events, err := d.store.EventsBetween(ctx, since, through(now), model.DirectionEntry)
	if err != nil {
		return nil, fmt.Errorf("frequent_access: %w", err)
	}

	var raised []model.Alert
	for _, c := range countBy(events, func(ev model.AccessEvent) string { return ev.PersonID }) {
		if c.n <= cfg.MaxEntries {
			continue
		}
		severity := model.SeverityMedium
		if c.n >= cfg.HighAt {
			severity = model.SeverityHigh
		}
		person := c.key
		a := d.newAlert(model.AlertFrequentAccess, severity, &person, d.subjectOf(ctx, person),
			fmt.Sprintf("%d entries in the last %s", c.n, cfg.Window),
			"frequent_access:"+person, now)
		a.Metadata["count"] = strconv.Itoa(c.n)
		ok, err := d.raise(ctx, a, since)
		if err != nil {
			return raised, fmt.Errorf("frequent_access: %w", err)
		}
		if ok {
			raised = append(raised, a)
		}
	}
	return raised, nil
}

// FailedLogins flags origins with more than max_attempts authentication
// failures in the window.
func (d *Detector) FailedLogins(ctx context.Context) ([]model.Alert, error) {
	cfg := d.policy.Detector.FailedLogin
	now := d.clock.Now()
	since := now.Add(-cfg.Window)

	entries, err := d.store.SecurityEntriesSince(ctx, model.SecurityAuthFailure, since)
	if err != nil {
		return nil, fmt.Errorf("failed_login: %w", err)
	}

	var raised []model.Alert
	for _, c := range countBy(entries, func(e model.SecurityEntry) string { return e.Subject }) {
		if c.n <= cfg.MaxAttempts {
			continue
		}
		severity := model.SeverityHigh
		if c.n >= cfg.CriticalAt {
			severity = model.SeverityCritical
		}
		a := d.newAlert(model.AlertFailedLogin, severity, nil, c.key,
			fmt.Sprintf("%d failed logins from %s in the last %s", c.n, c.key, cfg.Window),
			"failed_login:"+c.key, now)
		a.Metadata["count"] = strconv.Itoa(c.n)
		ok, err := d.raise(ctx, a, since)
		if err != nil {
			return raised, fmt.Errorf("failed_login: %w", err)
		}
		if ok {
			raised = append(raised, a)
		}
	}
	return raised, nil
}

// SuspiciousBehavior flags a person with at least min_accesses accesses in
// the window. Accesses are logged events in either direction plus denied
// scans from the security log. A denial that names no person is attributed
// to the only person holding that document number; otherwise it counts
// against the bare document.
func (d *Detector) SuspiciousBehavior(ctx context.Context) ([]model.Alert, error) {
	cfg := d.policy.Detector.Suspicious
	now := d.clock.Now()
	since := now.Add(-cfg.Window)

	events, err := d.store.EventsBetween(ctx, since, through(now), "")
	if err != nil {
		return nil, fmt.Errorf("suspicious_behavior: %w", err)
	}
	denied, err := d.store.SecurityEntriesSince(ctx, model.SecurityAccessDenied, since)
	if err != nil {
		return nil, fmt.Errorf("suspicious_behavior: %w", err)
	}

	persons := make(map[string]model.Person)
	loadPerson := func(id string) error {
		if _, ok := persons[id]; ok {
			return nil
		}
		p, err := d.store.PersonByID(ctx, id)
		if err != nil {
			return fmt.Errorf("suspicious_behavior: person %s: %w", id, err)
		}
		persons[id] = p
		return nil
	}

	// Keys are "person:<id>" or "document:<number>".
	counts := make(map[string]int)
	for personID, n := range tally(events, func(ev model.AccessEvent) string { return ev.PersonID }) {
		if err := loadPerson(personID); err != nil {
			return nil, err
		}
		counts["person:"+personID] += n
	}

	holders := make(map[string][]model.Person)
	for _, e := range denied {
		if e.PersonID != "" {
			if err := loadPerson(e.PersonID); err != nil {
				return nil, err
			}
			counts["person:"+e.PersonID]++
			continue
		}
		matches, ok := holders[e.Subject]
		if !ok {
			matches, err = d.store.PersonsByDocument(ctx, e.Subject)
			if err != nil {
				return nil, fmt.Errorf("suspicious_behavior: document %s: %w", e.Subject, err)
			}
			holders[e.Subject] = matches
		}
		if len(matches) == 1 {
			persons[matches[0].ID] = matches[0]
			counts["person:"+matches[0].ID]++
			continue
		}
		counts["document:"+e.Subject]++
	}

	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var raised []model.Alert
	for _, k := range keys {
		n := counts[k]
		if n < cfg.MinAccesses {
			continue
		}
		var (
			subjectPerson *string
			subject       string
			docType       string
			dedup         string
		)
		if id, ok := strings.CutPrefix(k, "person:"); ok {
			p := persons[id]
			subjectPerson = &id
			subject, docType, dedup = p.DocumentNumber, p.DocumentType, id
		} else {
			subject = strings.TrimPrefix(k, "document:")
			dedup = subject
		}
		a := d.newAlert(model.AlertSuspiciousBehavior, model.SeverityHigh, subjectPerson, subject,
			fmt.Sprintf("%d access attempts in the last %s", n, cfg.Window),
			"suspicious_behavior:"+dedup, now)
		a.Metadata["count"] = strconv.Itoa(n)
		if docType != "" {
			a.Metadata["document_type"] = docType
		}
		ok, err := d.raise(ctx, a, since)
		if err != nil {
			return raised, fmt.Errorf("suspicious_behavior: %w", err)
		}
		if ok {
			raised = append(raised, a)
		}
	}
	return raised, nil
}

// Inline raises the alert a denied scan warrants, if any. Keys are per
// subject and local day.
func (d *Detector) Inline(ctx context.Context, dec Decision, document string) (model.Alert, bool, error) {
	var (
		typ      model.AlertType
		severity model.Severity
	)
	switch dec.Reason {
	case ReasonQRRequiresReissue:
		typ, severity = model.AlertCredentialReuse, model.SeverityMedium
	case ReasonAccessDeniedInactive:
		typ, severity = model.AlertInactiveAccessAttempt, model.SeverityLow
	default:
		return model.Alert{}, false, nil
	}

	var (
		subjectPerson *string
		subjectKey    = document
	)
	if dec.Person != nil {
		id := dec.Person.ID
		subjectPerson = &id
		subjectKey = id
	}
	day := dec.At.In(d.policy.Location()).Format(time.DateOnly)

	a := d.newAlert(typ, severity, subjectPerson, document,
		fmt.Sprintf("%s: %s", dec.Reason, dec.Reason.Message()),
		fmt.Sprintf("%s:%s:%s", typ, subjectKey, day), dec.At)
	a.Metadata["reason_code"] = string(dec.Reason)
	ok, err := d.raise(ctx, a, time.Time{})
	if err != nil {
		return model.Alert{}, false, fmt.Errorf("%s: %w", typ, err)
	}
	return a, ok, nil
}

func (d *Detector) newAlert(typ model.AlertType, severity model.Severity, personID *string, subject, msg, key string, at time.Time) model.Alert {
	return model.Alert{
		ID:              d.ids.ulid(at),
		Type:            typ,
		Severity:        severity,
		SubjectPersonID: personID,
		Subject:         subject,
		Message:         msg,
		CreatedAt:       at,
		Metadata:        map[string]string{model.MetaDedupKey: key},
	}
}

func (d *Detector) raise(ctx context.Context, a model.Alert, since time.Time) (bool, error) {
	ok, err := d.store.RaiseAlert(ctx, a, since)
	if err != nil || !ok {
		return false, err
	}
	d.logger.Info("alert raised",
		"type", a.Type, "severity", a.Severity, "subject", a.Subject, "dedup_key", a.DedupKey())
	if d.publisher != nil {
		d.publisher.Publish(a)
	}
	return true, nil
}

// subjectOf returns the document of personID for display, or the ID when
// the lookup fails.
func (d *Detector) subjectOf(ctx context.Context, personID string) string {
	p, err := d.store.PersonByID(ctx, personID)
	if err != nil {
		return personID
	}
	return p.DocumentNumber
}

// through makes the exclusive upper bound of EventsBetween include events
// stored in the same millisecond as now.
func through(now time.Time) time.Time {
	return now.Truncate(time.Millisecond).Add(time.Millisecond)
}

type keyCount struct {
	key string
	n   int
}

func tally[T any](items []T, key func(T) string) map[string]int {
	m := make(map[string]int)
	for _, it := range items {
		m[key(it)]++
	}
	return m
}

// countBy tallies items by key in deterministic key order.
func countBy[T any](items []T, key func(T) string) []keyCount {
	m := tally(items, key)
	out := make([]keyCount, 0, len(m))
	for k, n := range m {
		out = append(out, keyCount{key: k, n: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].key < out[j].key })
	return out
}

package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/FERLEY2004/QRRR-sub001/internal/access/model"
	"github.com/FERLEY2004/QRRR-sub001/internal/access/store"
)

func (s *Store) RaiseAlert(ctx context.Context, a model.Alert, since time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	key := a.DedupKey()
	if key == "" {
		return false, fmt.Errorf("RaiseAlert %s: missing %s", a.Type, model.MetaDedupKey)
	}

	s.alertMu.Lock()
	defer s.alertMu.Unlock()

	for _, existing := range s.alerts {
		if existing.DedupKey() == key && !existing.CreatedAt.Before(since) {
			return false, nil
		}
	}
	s.alerts = append(s.alerts, copyAlert(a))
	return true, nil
}

func (s *Store) ListAlerts(_ context.Context, f store.AlertFilter) ([]model.Alert, error) {
	s.alertMu.Lock()
	defer s.alertMu.Unlock()

	out := make([]model.Alert, 0, len(s.alerts))
	for i := len(s.alerts) - 1; i >= 0; i-- {
		a := s.alerts[i]
		if f.UnreadOnly && a.ReadAt != nil {
			continue
		}
		out = append(out, copyAlert(a))
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}

func (s *Store) MarkAlertRead(_ context.Context, id string, at time.Time) error {
	s.alertMu.Lock()
	defer s.alertMu.Unlock()

	for i := range s.alerts {
		if s.alerts[i].ID != id {
			continue
		}
		if s.alerts[i].ReadAt == nil {
			readAt := at
			s.alerts[i].ReadAt = &readAt
		}
		return nil
	}
	return fmt.Errorf("MarkAlertRead %s: %w", id, store.ErrNotFound)
}

func (s *Store) AppendSecurityEntry(_ context.Context, e model.SecurityEntry) error {
	s.alertMu.Lock()
	defer s.alertMu.Unlock()
	s.security = append(s.security, e)
	return nil
}

func (s *Store) SecurityEntriesSince(_ context.Context, category model.SecurityCategory, since time.Time) ([]model.SecurityEntry, error) {
	s.alertMu.Lock()
	defer s.alertMu.Unlock()

	var out []model.SecurityEntry
	for _, e := range s.security {
		if e.Category == category && !e.OccurredAt.Before(since) {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].OccurredAt.Before(out[j].OccurredAt) })
	return out, nil
}

func copyAlert(a model.Alert) model.Alert {
	meta := make(map[string]string, len(a.Metadata))
	for k, v := range a.Metadata {
		meta[k] = v
	}
	a.Metadata = meta
	return a
}

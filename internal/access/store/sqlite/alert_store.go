package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/FERLEY2004/QRRR-sub001/internal/access/model"
	"github.com/FERLEY2004/QRRR-sub001/internal/access/store"
)

// RaiseAlert checks for an alert with the same dedup key created at or
// after since and inserts a only if there is none. Check and insert share
// one writer transaction.
func (s *Store) RaiseAlert(ctx context.Context, a model.Alert, since time.Time) (bool, error) {
	key := a.DedupKey()
	if key == "" {
		return false, fmt.Errorf("RaiseAlert %s: missing %s", a.Type, model.MetaDedupKey)
	}
	meta, err := json.Marshal(a.Metadata)
	if err != nil {
		return false, fmt.Errorf("RaiseAlert metadata: %w", err)
	}

	var subjectPerson any
	if a.SubjectPersonID != nil {
		subjectPerson = *a.SubjectPersonID
	}

	var raised bool
	err = s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		var one int
		err := tx.QueryRowContext(ctx, `
SELECT 1 FROM alerts
WHERE dedup_key = ? AND created_at_ms >= ?
LIMIT 1;
`, key, since.UTC().UnixMilli()).Scan(&one)
		if err == nil {
			return nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("RaiseAlert dedup check: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
INSERT INTO alerts(
  alert_id, alert_type, severity, subject_person_id, subject, message,
  dedup_key, metadata_json, created_at_ms, read_at_ms
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, NULL);
`,
			a.ID, string(a.Type), string(a.Severity), subjectPerson, a.Subject, a.Message,
			key, string(meta), a.CreatedAt.UTC().UnixMilli(),
		); err != nil {
			return fmt.Errorf("RaiseAlert insert: %w", err)
		}
		raised = true
		return nil
	})
	return raised, err
}

func (s *Store) ListAlerts(ctx context.Context, f store.AlertFilter) ([]model.Alert, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	unread := 0
	if f.UnreadOnly {
		unread = 1
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT alert_id, alert_type, severity, subject_person_id, subject, message,
       metadata_json, created_at_ms, read_at_ms
FROM alerts
WHERE (? = 0 OR read_at_ms IS NULL)
ORDER BY created_at_ms DESC, alert_id DESC
LIMIT ?;
`, unread, limit)
	if err != nil {
		return nil, fmt.Errorf("ListAlerts query: %w", err)
	}
	defer rows.Close()

	var out []model.Alert
	for rows.Next() {
		var (
			a             model.Alert
			typ, severity string
			subjectPerson sql.NullString
			metaJSON      string
			createdMs     int64
			readMs        sql.NullInt64
		)
		if err := rows.Scan(&a.ID, &typ, &severity, &subjectPerson, &a.Subject, &a.Message,
			&metaJSON, &createdMs, &readMs); err != nil {
			return nil, fmt.Errorf("ListAlerts scan: %w", err)
		}
		a.Type = model.AlertType(typ)
		a.Severity = model.Severity(severity)
		if subjectPerson.Valid {
			id := subjectPerson.String
			a.SubjectPersonID = &id
		}
		if err := json.Unmarshal([]byte(metaJSON), &a.Metadata); err != nil {
			return nil, fmt.Errorf("ListAlerts metadata %s: %w", a.ID, err)
		}
		a.CreatedAt = fromMs(createdMs)
		if readMs.Valid {
			t := fromMs(readMs.Int64)
			a.ReadAt = &t
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListAlerts rows: %w", err)
	}
	return out, nil
}

func (s *Store) MarkAlertRead(ctx context.Context, id string, at time.Time) error {
	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
UPDATE alerts
SET read_at_ms = COALESCE(read_at_ms, ?)
WHERE alert_id = ?;
`, at.UTC().UnixMilli(), id)
		if err != nil {
			return fmt.Errorf("MarkAlertRead: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("MarkAlertRead %s: %w", id, store.ErrNotFound)
		}
		return nil
	})
}

func (s *Store) AppendSecurityEntry(ctx context.Context, e model.SecurityEntry) error {
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO security_log(category, subject, person_id, occurred_at_ms, detail)
VALUES (?, ?, ?, ?, ?);
`, string(e.Category), e.Subject, e.PersonID, e.OccurredAt.UTC().UnixMilli(), e.Detail); err != nil {
			return fmt.Errorf("AppendSecurityEntry: %w", err)
		}
		return nil
	})
}

func (s *Store) SecurityEntriesSince(ctx context.Context, category model.SecurityCategory, since time.Time) ([]model.SecurityEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT category, subject, person_id, occurred_at_ms, detail
FROM security_log
WHERE category = ? AND occurred_at_ms >= ?
ORDER BY occurred_at_ms ASC, id ASC;
`, string(category), since.UTC().UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("SecurityEntriesSince query: %w", err)
	}
	defer rows.Close()

	var out []model.SecurityEntry
	for rows.Next() {
		var (
			e   model.SecurityEntry
			cat string
			ms  int64
		)
		if err := rows.Scan(&cat, &e.Subject, &e.PersonID, &ms, &e.Detail); err != nil {
			return nil, fmt.Errorf("SecurityEntriesSince scan: %w", err)
		}
		e.Category = model.SecurityCategory(cat)
		e.OccurredAt = fromMs(ms)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("SecurityEntriesSince rows: %w", err)
	}
	return out, nil
}

package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/FERLEY2004/QRRR-sub001/internal/access/model"
	"github.com/FERLEY2004/QRRR-sub001/internal/access/store"
)

// sqlTx implements store.Tx on a transaction owned by the writer worker.
// It must never touch Store.db: the pool has a single connection and the
// transaction already holds it.
type sqlTx struct {
	tx *sql.Tx
}

func (t *sqlTx) PersonsByDocument(ctx context.Context, document string) ([]model.Person, error) {
	return personsByDocument(ctx, t.tx, document)
}

func (t *sqlTx) PersonByID(ctx context.Context, id string) (model.Person, error) {
	return personByID(ctx, t.tx, id)
}

func (t *sqlTx) InsertPerson(ctx context.Context, p model.Person) error {
	if _, err := t.tx.ExecContext(ctx, `
INSERT INTO persons(
  person_id, document_number, document_type, given_names, surnames,
  display_name, role, status, created_at_ms, updated_at_ms
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`,
		p.ID, p.DocumentNumber, p.DocumentType, p.GivenNames, p.Surnames,
		p.DisplayName, p.Role.String(), string(p.Status),
		p.CreatedAt.UTC().UnixMilli(), p.UpdatedAt.UTC().UnixMilli(),
	); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("InsertPerson %s/%s: %w", p.DocumentType, p.DocumentNumber, store.ErrConflict)
		}
		return fmt.Errorf("InsertPerson: %w", err)
	}
	return nil
}

func (t *sqlTx) UpdatePersonStatus(ctx context.Context, id string, status model.Status, at time.Time) error {
	res, err := t.tx.ExecContext(ctx, `
UPDATE persons
SET status = ?,
    updated_at_ms = ?
WHERE person_id = ?;
`, string(status), at.UTC().UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("UpdatePersonStatus: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("UpdatePersonStatus %s: %w", id, store.ErrNotFound)
	}
	return nil
}

func (t *sqlTx) LatestEvent(ctx context.Context, personID string, asOf time.Time) (model.AccessEvent, bool, error) {
	return latestEvent(ctx, t.tx, personID, asOf)
}

func (t *sqlTx) LastEvent(ctx context.Context, personID string) (model.AccessEvent, bool, error) {
	row := t.tx.QueryRowContext(ctx, `
SELECT event_id, person_id, direction, occurred_at_ms
FROM access_events
WHERE person_id = ?
ORDER BY seq DESC
LIMIT 1;
`, personID)
	ev, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.AccessEvent{}, false, nil
	}
	if err != nil {
		return model.AccessEvent{}, false, fmt.Errorf("LastEvent: %w", err)
	}
	return ev, true, nil
}

func (t *sqlTx) AppendEvent(ctx context.Context, ev model.AccessEvent) error {
	if _, err := t.tx.ExecContext(ctx, `
INSERT INTO access_events(event_id, person_id, direction, occurred_at_ms)
VALUES (?, ?, ?, ?);
`, ev.ID, ev.PersonID, string(ev.Direction), ev.OccurredAt.UTC().UnixMilli()); err != nil {
		return fmt.Errorf("AppendEvent: %w", err)
	}
	return nil
}

func (t *sqlTx) LatestVisitorPass(ctx context.Context, personID string) (model.VisitorPass, bool, error) {
	row := t.tx.QueryRowContext(ctx, `
SELECT `+passColumns+`
FROM visitor_passes
WHERE person_id = ?
ORDER BY created_seq DESC
LIMIT 1;
`, personID)
	p, err := scanPass(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.VisitorPass{}, false, nil
	}
	if err != nil {
		return model.VisitorPass{}, false, fmt.Errorf("LatestVisitorPass: %w", err)
	}
	return p, true, nil
}

func (t *sqlTx) OpenVisitorPass(ctx context.Context, pass model.VisitorPass) error {
	if _, err := t.tx.ExecContext(ctx, `
INSERT INTO visitor_passes(
  pass_id, person_id, reason, issued_at_ms, started_at_ms, ended_at_ms, state, created_seq
) VALUES (?, ?, ?, ?, ?, NULL, 'ACTIVE',
  (SELECT COALESCE(MAX(created_seq), 0) + 1 FROM visitor_passes));
`,
		pass.ID, pass.PersonID, pass.Reason,
		pass.IssuedAt.UTC().UnixMilli(), pass.StartedAt.UTC().UnixMilli(),
	); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("OpenVisitorPass %s: %w", pass.PersonID, store.ErrConflict)
		}
		return fmt.Errorf("OpenVisitorPass: %w", err)
	}
	return nil
}

func (t *sqlTx) CloseVisitorPass(ctx context.Context, passID string, endedAt time.Time) error {
	res, err := t.tx.ExecContext(ctx, `
UPDATE visitor_passes
SET state = 'CLOSED',
    ended_at_ms = COALESCE(ended_at_ms, ?)
WHERE pass_id = ?;
`, endedAt.UTC().UnixMilli(), passID)
	if err != nil {
		return fmt.Errorf("CloseVisitorPass: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("CloseVisitorPass %s: %w", passID, store.ErrNotFound)
	}
	return nil
}

func (t *sqlTx) Placement(ctx context.Context, personID string) (model.Placement, bool, error) {
	var (
		p     model.Placement
		shift string
	)
	err := t.tx.QueryRowContext(ctx, `
SELECT pg.person_id, g.group_code, g.program, g.shift,
       COALESCE(g.environment_id, ''), COALESCE(e.name, ''), COALESCE(e.capacity, 0)
FROM person_groups pg
JOIN training_groups g ON g.group_code = pg.group_code
LEFT JOIN environments e ON e.environment_id = g.environment_id
WHERE pg.person_id = ?;
`, personID).Scan(&p.PersonID, &p.GroupCode, &p.Program, &shift,
		&p.EnvironmentID, &p.EnvironmentName, &p.Capacity)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Placement{}, false, nil
	}
	if err != nil {
		return model.Placement{}, false, fmt.Errorf("Placement: %w", err)
	}
	sh, err := model.ParseShift(shift)
	if err != nil {
		return model.Placement{}, false, fmt.Errorf("Placement %s: %w", personID, err)
	}
	p.Shift = sh
	return p, true, nil
}

func (t *sqlTx) CountOccupantsIn(ctx context.Context, environmentID string, asOf time.Time) (int, error) {
	var n int
	err := t.tx.QueryRowContext(ctx, `
WITH latest AS (
  SELECT person_id, direction,
         ROW_NUMBER() OVER (PARTITION BY person_id ORDER BY occurred_at_ms DESC, seq DESC) AS rn
  FROM access_events
  WHERE occurred_at_ms <= ?
)
SELECT COUNT(*)
FROM latest l
JOIN person_groups pg ON pg.person_id = l.person_id
JOIN training_groups g ON g.group_code = pg.group_code
WHERE l.rn = 1 AND l.direction = 'ENTRY' AND g.environment_id = ?;
`, asOf.UTC().UnixMilli(), environmentID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("CountOccupantsIn: %w", err)
	}
	return n, nil
}

func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		return se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE ||
			se.Code() == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return false
}

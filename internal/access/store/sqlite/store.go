package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/FERLEY2004/QRRR-sub001/internal/access/model"
	"github.com/FERLEY2004/QRRR-sub001/internal/access/store"
	dbpkg "github.com/FERLEY2004/QRRR-sub001/internal/db"
)

// Store implements store.Store on SQLite. Reads go straight to db; every
// write, including each Ledger unit, runs as one transaction on writer.
type Store struct {
	db     *sql.DB
	writer *dbpkg.Worker
}

var _ store.Store = (*Store)(nil)

func New(db *sql.DB, writer *dbpkg.Worker) *Store {
	return &Store{db: db, writer: writer}
}

func (s *Store) Atomically(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		return fn(ctx, &sqlTx{tx: tx})
	})
}

// querier is satisfied by both *sql.DB and *sql.Tx so read queries are
// shared between the read side and Ledger units.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// ── Read side ───────────────────────────────────────────────────────────────

func (s *Store) PersonByID(ctx context.Context, id string) (model.Person, error) {
	return personByID(ctx, s.db, id)
}

func (s *Store) PersonsByDocument(ctx context.Context, document string) ([]model.Person, error) {
	return personsByDocument(ctx, s.db, document)
}

func (s *Store) LatestEvent(ctx context.Context, personID string, asOf time.Time) (model.AccessEvent, bool, error) {
	return latestEvent(ctx, s.db, personID, asOf)
}

func (s *Store) Occupants(ctx context.Context, asOf time.Time) ([]store.Occupant, error) {
	rows, err := s.db.QueryContext(ctx, `
WITH latest AS (
  SELECT event_id, person_id, direction, occurred_at_ms,
         ROW_NUMBER() OVER (PARTITION BY person_id ORDER BY occurred_at_ms DESC, seq DESC) AS rn
  FROM access_events
  WHERE occurred_at_ms <= ?
)
SELECT l.event_id, l.direction, l.occurred_at_ms, `+personColumns("p")+`
FROM latest l
JOIN persons p ON p.person_id = l.person_id
WHERE l.rn = 1 AND l.direction = 'ENTRY'
ORDER BY l.occurred_at_ms ASC;
`, asOf.UTC().UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("Occupants query: %w", err)
	}
	defer rows.Close()

	var out []store.Occupant
	for rows.Next() {
		var (
			ev   model.AccessEvent
			dir  string
			atMs int64
			r    personRow
		)
		dest := append([]any{&ev.ID, &dir, &atMs}, r.dest()...)
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("Occupants scan: %w", err)
		}
		person, err := r.toPerson()
		if err != nil {
			return nil, err
		}
		ev.PersonID = person.ID
		ev.Direction = model.Direction(dir)
		ev.OccurredAt = fromMs(atMs)
		out = append(out, store.Occupant{Person: person, Entry: ev})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("Occupants rows: %w", err)
	}
	return out, nil
}

func (s *Store) EventsBetween(ctx context.Context, from, to time.Time, direction model.Direction) ([]model.AccessEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT event_id, person_id, direction, occurred_at_ms
FROM access_events
WHERE occurred_at_ms >= ? AND occurred_at_ms < ?
  AND (? = '' OR direction = ?)
ORDER BY seq ASC;
`, from.UTC().UnixMilli(), to.UTC().UnixMilli(), string(direction), string(direction))
	if err != nil {
		return nil, fmt.Errorf("EventsBetween query: %w", err)
	}
	defer rows.Close()

	var out []model.AccessEvent
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("EventsBetween scan: %w", err)
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("EventsBetween rows: %w", err)
	}
	return out, nil
}

func (s *Store) ActiveVisitorPasses(ctx context.Context) ([]model.VisitorPass, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT `+passColumns+`
FROM visitor_passes
WHERE state = 'ACTIVE'
ORDER BY issued_at_ms ASC;
`)
	if err != nil {
		return nil, fmt.Errorf("ActiveVisitorPasses query: %w", err)
	}
	defer rows.Close()

	var out []model.VisitorPass
	for rows.Next() {
		p, err := scanPass(rows)
		if err != nil {
			return nil, fmt.Errorf("ActiveVisitorPasses scan: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ActiveVisitorPasses rows: %w", err)
	}
	return out, nil
}

// ── shared queries ──────────────────────────────────────────────────────────

func personColumns(alias string) string {
	p := ""
	if alias != "" {
		p = alias + "."
	}
	return p + "person_id, " + p + "document_number, " + p + "document_type, " +
		p + "given_names, " + p + "surnames, " + p + "display_name, " +
		p + "role, " + p + "status, " + p + "created_at_ms, " + p + "updated_at_ms"
}

// personRow holds the raw columns of a persons row until toPerson
// converts them.
type personRow struct {
	p         model.Person
	role      string
	status    string
	createdMs int64
	updatedMs int64
}

func (r *personRow) dest() []any {
	return []any{
		&r.p.ID, &r.p.DocumentNumber, &r.p.DocumentType, &r.p.GivenNames, &r.p.Surnames,
		&r.p.DisplayName, &r.role, &r.status, &r.createdMs, &r.updatedMs,
	}
}

func (r *personRow) toPerson() (model.Person, error) {
	role, err := model.ParseRole(r.role)
	if err != nil {
		return model.Person{}, fmt.Errorf("person %s: %w", r.p.ID, err)
	}
	status, err := model.ParseStatus(r.status)
	if err != nil {
		return model.Person{}, fmt.Errorf("person %s: %w", r.p.ID, err)
	}
	p := r.p
	p.Role = role
	p.Status = status
	p.CreatedAt = fromMs(r.createdMs)
	p.UpdatedAt = fromMs(r.updatedMs)
	return p, nil
}

func personByID(ctx context.Context, q querier, id string) (model.Person, error) {
	var r personRow
	err := q.QueryRowContext(ctx, `
SELECT `+personColumns("")+` FROM persons WHERE person_id = ?;
`, id).Scan(r.dest()...)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Person{}, store.ErrNotFound
	}
	if err != nil {
		return model.Person{}, fmt.Errorf("PersonByID query: %w", err)
	}
	return r.toPerson()
}

func personsByDocument(ctx context.Context, q querier, document string) ([]model.Person, error) {
	rows, err := q.QueryContext(ctx, `
SELECT `+personColumns("")+` FROM persons
WHERE document_number = ?
ORDER BY document_type ASC;
`, document)
	if err != nil {
		return nil, fmt.Errorf("PersonsByDocument query: %w", err)
	}
	defer rows.Close()

	var out []model.Person
	for rows.Next() {
		var r personRow
		if err := rows.Scan(r.dest()...); err != nil {
			return nil, fmt.Errorf("PersonsByDocument scan: %w", err)
		}
		p, err := r.toPerson()
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("PersonsByDocument rows: %w", err)
	}
	return out, nil
}

func latestEvent(ctx context.Context, q querier, personID string, asOf time.Time) (model.AccessEvent, bool, error) {
	row := q.QueryRowContext(ctx, `
SELECT event_id, person_id, direction, occurred_at_ms
FROM access_events
WHERE person_id = ? AND occurred_at_ms <= ?
ORDER BY occurred_at_ms DESC, seq DESC
LIMIT 1;
`, personID, asOf.UTC().UnixMilli())
	ev, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.AccessEvent{}, false, nil
	}
	if err != nil {
		return model.AccessEvent{}, false, fmt.Errorf("LatestEvent query: %w", err)
	}
	return ev, true, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEvent(sc scanner) (model.AccessEvent, error) {
	var (
		ev   model.AccessEvent
		dir  string
		atMs int64
	)
	if err := sc.Scan(&ev.ID, &ev.PersonID, &dir, &atMs); err != nil {
		return model.AccessEvent{}, err
	}
	ev.Direction = model.Direction(dir)
	ev.OccurredAt = fromMs(atMs)
	return ev, nil
}

const passColumns = "pass_id, person_id, reason, issued_at_ms, started_at_ms, ended_at_ms, state"

func scanPass(sc scanner) (model.VisitorPass, error) {
	var (
		p                   model.VisitorPass
		issuedMs, startedMs int64
		endedMs             sql.NullInt64
		state               string
	)
	if err := sc.Scan(&p.ID, &p.PersonID, &p.Reason, &issuedMs, &startedMs, &endedMs, &state); err != nil {
		return model.VisitorPass{}, err
	}
	p.IssuedAt = fromMs(issuedMs)
	p.StartedAt = fromMs(startedMs)
	if endedMs.Valid {
		t := fromMs(endedMs.Int64)
		p.EndedAt = &t
	}
	p.State = model.PassState(state)
	return p, nil
}

func fromMs(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

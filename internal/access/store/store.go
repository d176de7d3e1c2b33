package store

import (
	"context"
	"errors"
	"time"

	"github.com/FERLEY2004/QRRR-sub001/internal/access/model"
)

var (
	// ErrNotFound is returned by single-row lookups that match nothing.
	ErrNotFound = errors.New("store: not found")

	// ErrConflict is returned when a write would break a uniqueness
	// invariant (duplicate document, second ACTIVE visitor pass).
	ErrConflict = errors.New("store: conflict")

	// ErrRollbackFailed marks a unit of work whose rollback did not
	// complete; some of its writes may have been applied.
	ErrRollbackFailed = errors.New("store: rollback failed")
)

// Tx is the view of the store available inside a Ledger unit of work.
// Every read observes the writes made earlier in the same unit.
type Tx interface {
	PersonsByDocument(ctx context.Context, document string) ([]model.Person, error)
	PersonByID(ctx context.Context, id string) (model.Person, error)
	InsertPerson(ctx context.Context, p model.Person) error
	UpdatePersonStatus(ctx context.Context, id string, status model.Status, at time.Time) error

	// LatestEvent returns the most recent event for personID with
	// OccurredAt <= asOf. found is false when there is none.
	LatestEvent(ctx context.Context, personID string, asOf time.Time) (ev model.AccessEvent, found bool, err error)
	// LastEvent returns the last event appended for personID, regardless
	// of its timestamp.
	LastEvent(ctx context.Context, personID string) (ev model.AccessEvent, found bool, err error)
	AppendEvent(ctx context.Context, ev model.AccessEvent) error

	LatestVisitorPass(ctx context.Context, personID string) (pass model.VisitorPass, found bool, err error)
	OpenVisitorPass(ctx context.Context, pass model.VisitorPass) error
	CloseVisitorPass(ctx context.Context, passID string, endedAt time.Time) error

	Placement(ctx context.Context, personID string) (p model.Placement, found bool, err error)
	// CountOccupantsIn counts persons inside as of asOf whose placement
	// assigns them to environmentID.
	CountOccupantsIn(ctx context.Context, environmentID string, asOf time.Time) (int, error)
}

// Ledger runs fn as a single atomic unit: either every write fn made is
// applied or none is. Units are serialised, which gives per-person
// linearizability of the read-decide-append sequence.
type Ledger interface {
	Atomically(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Occupant is a person whose latest event is an ENTRY.
type Occupant struct {
	Person model.Person
	Entry  model.AccessEvent
}

type EventReader interface {
	LatestEvent(ctx context.Context, personID string, asOf time.Time) (model.AccessEvent, bool, error)
	Occupants(ctx context.Context, asOf time.Time) ([]Occupant, error)
	// EventsBetween returns events with from <= OccurredAt < to in log
	// order. An empty direction matches both.
	EventsBetween(ctx context.Context, from, to time.Time, direction model.Direction) ([]model.AccessEvent, error)
}

type PersonReader interface {
	PersonByID(ctx context.Context, id string) (model.Person, error)
	PersonsByDocument(ctx context.Context, document string) ([]model.Person, error)
}

type VisitorPassReader interface {
	ActiveVisitorPasses(ctx context.Context) ([]model.VisitorPass, error)
}

type AlertFilter struct {
	UnreadOnly bool
	Limit      int
}

type AlertStore interface {
	// RaiseAlert inserts a unless an alert with the same dedup key was
	// created at or after since. The check and insert are atomic.
	RaiseAlert(ctx context.Context, a model.Alert, since time.Time) (raised bool, err error)
	ListAlerts(ctx context.Context, f AlertFilter) ([]model.Alert, error)
	MarkAlertRead(ctx context.Context, id string, at time.Time) error
}

type SecurityLog interface {
	AppendSecurityEntry(ctx context.Context, e model.SecurityEntry) error
	SecurityEntriesSince(ctx context.Context, category model.SecurityCategory, since time.Time) ([]model.SecurityEntry, error)
}

// Store is everything the engine needs from persistence.
type Store interface {
	Ledger
	EventReader
	PersonReader
	VisitorPassReader
	AlertStore
	SecurityLog
}

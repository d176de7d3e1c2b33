package service

import (
	"context"
	"time"

	"github.com/FERLEY2004/QRRR-sub001/internal/access/model"
	"github.com/FERLEY2004/QRRR-sub001/internal/access/store"
	"github.com/FERLEY2004/QRRR-sub001/internal/clock"
)

// PresenceRecord describes one person currently inside.
type PresenceRecord struct {
	Person         model.Person
	EnteredAt      time.Time
	ElapsedMinutes int64
}

// PresenceResolver derives presence from the access log on every call.
// Nothing is cached: a person is inside iff their latest event at the
// query time is an ENTRY.
type PresenceResolver struct {
	events store.EventReader
	clock  clock.Clock
}

func NewPresenceResolver(events store.EventReader, clk clock.Clock) *PresenceResolver {
	return &PresenceResolver{events: events, clock: clk}
}

func (r *PresenceResolver) IsInside(ctx context.Context, personID string) (bool, error) {
	return r.IsInsideAt(ctx, personID, r.clock.Now())
}

func (r *PresenceResolver) IsInsideAt(ctx context.Context, personID string, at time.Time) (bool, error) {
	ev, found, err := r.events.LatestEvent(ctx, personID, at)
	if err != nil {
		return false, unavailable("presence", err)
	}
	return insideAfter(ev, found), nil
}

func (r *PresenceResolver) CurrentOccupants(ctx context.Context) ([]PresenceRecord, error) {
	now := r.clock.Now()
	occ, err := r.events.Occupants(ctx, now)
	if err != nil {
		return nil, unavailable("occupants", err)
	}
	out := make([]PresenceRecord, 0, len(occ))
	for _, o := range occ {
		out = append(out, PresenceRecord{
			Person:         o.Person,
			EnteredAt:      o.Entry.OccurredAt,
			ElapsedMinutes: elapsedMinutes(o.Entry.OccurredAt, now),
		})
	}
	return out, nil
}

// OccupancyOf counts current occupants placed in environmentID, as seen
// by the Ledger unit tx.
func (r *PresenceResolver) OccupancyOf(ctx context.Context, tx store.Tx, environmentID string, at time.Time) (int, error) {
	n, err := tx.CountOccupantsIn(ctx, environmentID, at)
	if err != nil {
		return 0, unavailable("occupancy", err)
	}
	return n, nil
}

// nextDirection is the direction the next admitted scan of personID takes:
// the opposite of the last event in log order. It also returns the time
// the event is recorded at, which never precedes that last event, so a
// clock stepping backwards cannot reorder the person's history.
func (r *PresenceResolver) nextDirection(ctx context.Context, tx store.Tx, personID string, now time.Time) (model.Direction, time.Time, error) {
	ev, found, err := tx.LastEvent(ctx, personID)
	if err != nil {
		return "", now, unavailable("last event", err)
	}
	if found && ev.OccurredAt.After(now) {
		now = ev.OccurredAt
	}
	return model.DirectionAfter(ev, found), now, nil
}

func insideAfter(latest model.AccessEvent, found bool) bool {
	return found && latest.Direction == model.DirectionEntry
}

func elapsedMinutes(since, now time.Time) int64 {
	d := now.Sub(since)
	if d < 0 {
		return 0
	}
	return int64(d / time.Minute)
}

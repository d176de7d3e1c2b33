// Package memory is an in-process implementation of store.Store intended
// for tests and dev environments.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/FERLEY2004/QRRR-sub001/internal/access/model"
	"github.com/FERLEY2004/QRRR-sub001/internal/access/store"
)

type docKey struct {
	number string
	kind   string
}

// state holds everything a Ledger unit may change. Units run against a
// clone and the clone replaces the live state only when the unit succeeds.
type state struct {
	persons map[string]model.Person
	byDoc   map[docKey]string

	// events is the append-only arena; eventsByPerson indexes into it.
	events         []model.AccessEvent
	eventsByPerson map[string][]int

	passes         map[string]model.VisitorPass
	passesByPerson map[string][]string

	placements map[string]model.Placement
}

func newState() *state {
	return &state{
		persons:        make(map[string]model.Person),
		byDoc:          make(map[docKey]string),
		eventsByPerson: make(map[string][]int),
		passes:         make(map[string]model.VisitorPass),
		passesByPerson: make(map[string][]string),
		placements:     make(map[string]model.Placement),
	}
}

// clone copies the maps; the event arena and index slices are shared
// because a unit only ever appends past their current length.
func (s *state) clone() *state {
	c := &state{
		persons:        make(map[string]model.Person, len(s.persons)),
		byDoc:          make(map[docKey]string, len(s.byDoc)),
		events:         s.events,
		eventsByPerson: make(map[string][]int, len(s.eventsByPerson)),
		passes:         make(map[string]model.VisitorPass, len(s.passes)),
		passesByPerson: make(map[string][]string, len(s.passesByPerson)),
		placements:     s.placements,
	}
	for k, v := range s.persons {
		c.persons[k] = v
	}
	for k, v := range s.byDoc {
		c.byDoc[k] = v
	}
	for k, v := range s.eventsByPerson {
		c.eventsByPerson[k] = v
	}
	for k, v := range s.passes {
		c.passes[k] = v
	}
	for k, v := range s.passesByPerson {
		c.passesByPerson[k] = v
	}
	return c
}

type Store struct {
	mu    sync.RWMutex
	state *state
	fail  map[string]error

	alertMu  sync.Mutex
	alerts   []model.Alert
	security []model.SecurityEntry
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		state: newState(),
		fail:  make(map[string]error),
	}
}

// FailOn makes the next call to the named Tx operation (for example
// "AppendEvent") return err. Test-only helper.
func (s *Store) FailOn(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail[op] = err
}

func (s *Store) Atomically(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{st: s.state.clone(), fail: s.fail}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	s.state = tx.st
	return nil
}

// PutPerson inserts or replaces a person directly, bypassing the ledger.
// Enrollment is an external concern; this stands in for it in tests and
// the dev seeder.
func (s *Store) PutPerson(p model.Person) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := docKey{p.DocumentNumber, p.DocumentType}
	if id, ok := s.state.byDoc[key]; ok && id != p.ID {
		return fmt.Errorf("PutPerson %s: %w", p.DocumentNumber, store.ErrConflict)
	}
	s.state.persons[p.ID] = p
	s.state.byDoc[key] = p.ID
	return nil
}

// PutPlacement records the institutional context of a member.
func (s *Store) PutPlacement(p model.Placement) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := make(map[string]model.Placement, len(s.state.placements)+1)
	for k, v := range s.state.placements {
		next[k] = v
	}
	next[p.PersonID] = p
	s.state.placements = next
}

// Events returns a copy of the access log in append order. Test-only helper.
func (s *Store) Events() []model.AccessEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.AccessEvent, len(s.state.events))
	copy(out, s.state.events)
	return out
}

// VisitorPasses returns every pass of personID in creation order.
func (s *Store) VisitorPasses(personID string) []model.VisitorPass {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.state.passesByPerson[personID]
	out := make([]model.VisitorPass, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.state.passes[id])
	}
	return out
}

func (s *Store) PersonCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.state.persons)
}

// ── Read side ───────────────────────────────────────────────────────────────

func (s *Store) PersonByID(_ context.Context, id string) (model.Person, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.personByID(id)
}

func (s *Store) PersonsByDocument(_ context.Context, document string) ([]model.Person, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.personsByDocument(document), nil
}

func (s *Store) LatestEvent(_ context.Context, personID string, asOf time.Time) (model.AccessEvent, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ev, ok := s.state.latestEvent(personID, asOf)
	return ev, ok, nil
}

func (s *Store) Occupants(_ context.Context, asOf time.Time) ([]store.Occupant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.occupants(asOf), nil
}

func (s *Store) EventsBetween(_ context.Context, from, to time.Time, direction model.Direction) ([]model.AccessEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.AccessEvent
	for _, ev := range s.state.events {
		if ev.OccurredAt.Before(from) || !ev.OccurredAt.Before(to) {
			continue
		}
		if direction != "" && ev.Direction != direction {
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

func (s *Store) ActiveVisitorPasses(_ context.Context) ([]model.VisitorPass, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.VisitorPass
	for _, p := range s.state.passes {
		if p.State == model.PassActive {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IssuedAt.Before(out[j].IssuedAt) })
	return out, nil
}

// ── state queries shared by the read side and memTx ─────────────────────────

func (st *state) personByID(id string) (model.Person, error) {
	p, ok := st.persons[id]
	if !ok {
		return model.Person{}, store.ErrNotFound
	}
	return p, nil
}

func (st *state) personsByDocument(document string) []model.Person {
	var out []model.Person
	for key, id := range st.byDoc {
		if key.number == document {
			out = append(out, st.persons[id])
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DocumentType < out[j].DocumentType })
	return out
}

// latestEvent picks the event with the greatest OccurredAt not after asOf;
// ties go to the later append.
func (st *state) latestEvent(personID string, asOf time.Time) (model.AccessEvent, bool) {
	var (
		best  model.AccessEvent
		found bool
	)
	for _, idx := range st.eventsByPerson[personID] {
		ev := st.events[idx]
		if ev.OccurredAt.After(asOf) {
			continue
		}
		if !found || !ev.OccurredAt.Before(best.OccurredAt) {
			best, found = ev, true
		}
	}
	return best, found
}

func (st *state) occupants(asOf time.Time) []store.Occupant {
	var out []store.Occupant
	for personID := range st.eventsByPerson {
		ev, ok := st.latestEvent(personID, asOf)
		if !ok || ev.Direction != model.DirectionEntry {
			continue
		}
		out = append(out, store.Occupant{Person: st.persons[personID], Entry: ev})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Entry.OccurredAt.Before(out[j].Entry.OccurredAt) })
	return out
}

func (st *state) latestPass(personID string) (model.VisitorPass, bool) {
	ids := st.passesByPerson[personID]
	if len(ids) == 0 {
		return model.VisitorPass{}, false
	}
	return st.passes[ids[len(ids)-1]], true
}

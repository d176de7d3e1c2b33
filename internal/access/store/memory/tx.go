package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/FERLEY2004/QRRR-sub001/internal/access/model"
	"github.com/FERLEY2004/QRRR-sub001/internal/access/store"
)

// memTx operates on a private clone of the store state. The caller holds
// the store's write lock for the lifetime of the unit.
type memTx struct {
	st   *state
	fail map[string]error
}

func (t *memTx) injected(op string) error {
	if err, ok := t.fail[op]; ok {
		delete(t.fail, op)
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (t *memTx) PersonsByDocument(_ context.Context, document string) ([]model.Person, error) {
	if err := t.injected("PersonsByDocument"); err != nil {
		return nil, err
	}
	return t.st.personsByDocument(document), nil
}

func (t *memTx) PersonByID(_ context.Context, id string) (model.Person, error) {
	if err := t.injected("PersonByID"); err != nil {
		return model.Person{}, err
	}
	return t.st.personByID(id)
}

func (t *memTx) InsertPerson(_ context.Context, p model.Person) error {
	if err := t.injected("InsertPerson"); err != nil {
		return err
	}
	key := docKey{p.DocumentNumber, p.DocumentType}
	if _, ok := t.st.byDoc[key]; ok {
		return fmt.Errorf("InsertPerson %s/%s: %w", p.DocumentType, p.DocumentNumber, store.ErrConflict)
	}
	if _, ok := t.st.persons[p.ID]; ok {
		return fmt.Errorf("InsertPerson id %s: %w", p.ID, store.ErrConflict)
	}
	t.st.persons[p.ID] = p
	t.st.byDoc[key] = p.ID
	return nil
}

func (t *memTx) UpdatePersonStatus(_ context.Context, id string, status model.Status, at time.Time) error {
	if err := t.injected("UpdatePersonStatus"); err != nil {
		return err
	}
	p, ok := t.st.persons[id]
	if !ok {
		return fmt.Errorf("UpdatePersonStatus %s: %w", id, store.ErrNotFound)
	}
	p.Status = status
	p.UpdatedAt = at
	t.st.persons[id] = p
	return nil
}

func (t *memTx) LatestEvent(_ context.Context, personID string, asOf time.Time) (model.AccessEvent, bool, error) {
	if err := t.injected("LatestEvent"); err != nil {
		return model.AccessEvent{}, false, err
	}
	ev, ok := t.st.latestEvent(personID, asOf)
	return ev, ok, nil
}

func (t *memTx) LastEvent(_ context.Context, personID string) (model.AccessEvent, bool, error) {
	if err := t.injected("LastEvent"); err != nil {
		return model.AccessEvent{}, false, err
	}
	idx := t.st.eventsByPerson[personID]
	if len(idx) == 0 {
		return model.AccessEvent{}, false, nil
	}
	return t.st.events[idx[len(idx)-1]], true, nil
}

func (t *memTx) AppendEvent(_ context.Context, ev model.AccessEvent) error {
	if err := t.injected("AppendEvent"); err != nil {
		return err
	}
	if _, ok := t.st.persons[ev.PersonID]; !ok {
		return fmt.Errorf("AppendEvent person %s: %w", ev.PersonID, store.ErrNotFound)
	}
	t.st.events = append(t.st.events, ev)
	t.st.eventsByPerson[ev.PersonID] = append(t.st.eventsByPerson[ev.PersonID], len(t.st.events)-1)
	return nil
}

func (t *memTx) LatestVisitorPass(_ context.Context, personID string) (model.VisitorPass, bool, error) {
	if err := t.injected("LatestVisitorPass"); err != nil {
		return model.VisitorPass{}, false, err
	}
	p, ok := t.st.latestPass(personID)
	return p, ok, nil
}

func (t *memTx) OpenVisitorPass(_ context.Context, pass model.VisitorPass) error {
	if err := t.injected("OpenVisitorPass"); err != nil {
		return err
	}
	for _, id := range t.st.passesByPerson[pass.PersonID] {
		if t.st.passes[id].State == model.PassActive {
			return fmt.Errorf("OpenVisitorPass %s already has active pass %s: %w", pass.PersonID, id, store.ErrConflict)
		}
	}
	pass.State = model.PassActive
	pass.EndedAt = nil
	t.st.passes[pass.ID] = pass
	ids := t.st.passesByPerson[pass.PersonID]
	next := make([]string, len(ids), len(ids)+1)
	copy(next, ids)
	t.st.passesByPerson[pass.PersonID] = append(next, pass.ID)
	return nil
}

func (t *memTx) CloseVisitorPass(_ context.Context, passID string, endedAt time.Time) error {
	if err := t.injected("CloseVisitorPass"); err != nil {
		return err
	}
	p, ok := t.st.passes[passID]
	if !ok {
		return fmt.Errorf("CloseVisitorPass %s: %w", passID, store.ErrNotFound)
	}
	if p.State == model.PassClosed {
		return nil
	}
	ended := endedAt
	p.EndedAt = &ended
	p.State = model.PassClosed
	t.st.passes[passID] = p
	return nil
}

func (t *memTx) Placement(_ context.Context, personID string) (model.Placement, bool, error) {
	if err := t.injected("Placement"); err != nil {
		return model.Placement{}, false, err
	}
	p, ok := t.st.placements[personID]
	return p, ok, nil
}

func (t *memTx) CountOccupantsIn(_ context.Context, environmentID string, asOf time.Time) (int, error) {
	if err := t.injected("CountOccupantsIn"); err != nil {
		return 0, err
	}
	n := 0
	for _, occ := range t.st.occupants(asOf) {
		if pl, ok := t.st.placements[occ.Person.ID]; ok && pl.EnvironmentID == environmentID {
			n++
		}
	}
	return n, nil
}

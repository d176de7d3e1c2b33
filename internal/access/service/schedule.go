package service

import (
	"context"
	"time"

	"github.com/FERLEY2004/QRRR-sub001/internal/access/model"
	"github.com/FERLEY2004/QRRR-sub001/internal/access/store"
)

// checkSchedule applies the scanComplete rules to an ENTRY at time at.
// It returns an empty reason when the entry is allowed.
func (a *AdmissionPolicy) checkSchedule(ctx context.Context, tx store.Tx, p model.Person, at time.Time) (DenialReason, error) {
	pl, placed, err := tx.Placement(ctx, p.ID)
	if err != nil {
		return "", unavailable("schedule: placement", err)
	}
	local := at.In(a.policy.Location())

	switch p.Role {
	case model.RoleAdministrative:
		if !isWeekday(local) || !a.policy.Schedule.Administrative.Contains(local, 0) {
			return ReasonOutOfSchedule, nil
		}
	case model.RoleAprendiz, model.RoleInstructor:
		if placed && pl.Shift != model.ShiftMixed {
			if w, ok := a.policy.ShiftWindow(string(pl.Shift)); ok &&
				!w.Contains(local, a.policy.Schedule.EarlyTolerance) {
				return ReasonOutOfSchedule, nil
			}
		}
	}

	if !placed || pl.EnvironmentID == "" || pl.Capacity <= 0 {
		return "", nil
	}
	n, err := a.presence.OccupancyOf(ctx, tx, pl.EnvironmentID, at)
	if err != nil {
		return "", err
	}
	if float64(n) >= a.policy.Schedule.MaxOccupancyRatio*float64(pl.Capacity) {
		return ReasonCapacityExceeded, nil
	}
	return "", nil
}

func isWeekday(t time.Time) bool {
	wd := t.Weekday()
	return wd != time.Saturday && wd != time.Sunday
}

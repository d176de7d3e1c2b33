package service_test

import (
	"testing"
	"time"

	"github.com/FERLEY2004/QRRR-sub001/internal/access/model"
	"github.com/FERLEY2004/QRRR-sub001/internal/access/service"
)

func TestScanComplete_AdministrativeWeekdayHours(t *testing.T) {
	cases := []struct {
		name string
		at   time.Time
		deny bool
	}{
		{"monday 09:00", T0, false},
		{"monday 06:59", time.Date(2026, 3, 2, 6, 59, 0, 0, time.UTC), true},
		{"monday 18:00", time.Date(2026, 3, 2, 18, 0, 0, 0, time.UTC), true},
		{"saturday 10:00", time.Date(2026, 3, 7, 10, 0, 0, 0, time.UTC), true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			h := newHarness(t)
			h.member(t, "adm", "1030", model.RoleAdministrative)
			h.clk.Set(c.at)

			resp := h.scanComplete(t, memberReq("1030"))
			if c.deny {
				expectDeny(t, resp, service.ReasonOutOfSchedule)
			} else {
				expectAdmit(t, resp, model.DirectionEntry)
			}
		})
	}
}

func TestScanComplete_ShiftWindowWithTolerance(t *testing.T) {
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	cases := []struct {
		name  string
		shift model.Shift
		at    time.Duration
		deny  bool
	}{
		{"morning too early", model.ShiftMorning, 5*time.Hour + 29*time.Minute, true},
		{"morning within tolerance", model.ShiftMorning, 5*time.Hour + 45*time.Minute, false},
		{"morning after end", model.ShiftMorning, 13 * time.Hour, true},
		{"night on time", model.ShiftNight, 18 * time.Hour, false},
		{"mixed any time", model.ShiftMixed, 3 * time.Hour, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			h := newHarness(t)
			h.member(t, "ap", "1010", model.RoleAprendiz)
			h.st.PutPlacement(model.Placement{PersonID: "ap", GroupCode: "ADSO-1", Shift: c.shift})
			h.clk.Set(day.Add(c.at))

			resp := h.scanComplete(t, memberReq("1010"))
			if c.deny {
				expectDeny(t, resp, service.ReasonOutOfSchedule)
			} else {
				expectAdmit(t, resp, model.DirectionEntry)
			}
		})
	}
}

func TestScanComplete_NoPlacementSkipsShiftCheck(t *testing.T) {
	h := newHarness(t)
	h.member(t, "in", "1020", model.RoleInstructor)
	h.clk.Set(time.Date(2026, 3, 2, 2, 0, 0, 0, time.UTC))

	expectAdmit(t, h.scanComplete(t, memberReq("1020")), model.DirectionEntry)
}

func TestScanComplete_CapacityExceeded(t *testing.T) {
	h := newHarness(t)
	for _, doc := range []string{"1", "2", "3"} {
		id := "ap-" + doc
		h.member(t, id, doc, model.RoleAprendiz)
		h.st.PutPlacement(model.Placement{PersonID: id, GroupCode: "G", Shift: model.ShiftMixed, EnvironmentID: "amb-1", Capacity: 2})
	}

	expectAdmit(t, h.scanComplete(t, memberReq("1")), model.DirectionEntry)
	// One inside: 1 < 0.9*2.
	expectAdmit(t, h.scanComplete(t, memberReq("2")), model.DirectionEntry)
	// Two inside: 2 >= 1.8.
	expectDeny(t, h.scanComplete(t, memberReq("3")), service.ReasonCapacityExceeded)

	// Exits are never blocked.
	expectAdmit(t, h.scanComplete(t, memberReq("1")), model.DirectionExit)
	expectAdmit(t, h.scanComplete(t, memberReq("3")), model.DirectionEntry)
}

func TestScanComplete_ExitNeverBlockedBySchedule(t *testing.T) {
	h := newHarness(t)
	h.member(t, "adm", "1030", model.RoleAdministrative)
	expectAdmit(t, h.scanComplete(t, memberReq("1030")), model.DirectionEntry)

	h.clk.Set(time.Date(2026, 3, 2, 23, 0, 0, 0, time.UTC))
	expectAdmit(t, h.scanComplete(t, memberReq("1030")), model.DirectionExit)
}

func TestScan_MinimalPathIgnoresSchedule(t *testing.T) {
	h := newHarness(t)
	h.member(t, "adm", "1030", model.RoleAdministrative)
	h.clk.Set(time.Date(2026, 3, 7, 23, 0, 0, 0, time.UTC))

	expectAdmit(t, h.scan(t, memberReq("1030")), model.DirectionEntry)
}

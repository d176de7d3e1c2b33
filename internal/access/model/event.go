package model

import (
	"fmt"
	"strings"
	"time"
)

type Direction string

const (
	DirectionEntry Direction = "ENTRY"
	DirectionExit  Direction = "EXIT"
)

func ParseDirection(s string) (Direction, error) {
	switch d := Direction(strings.ToUpper(strings.TrimSpace(s))); d {
	case DirectionEntry, DirectionExit:
		return d, nil
	}
	return "", fmt.Errorf("unknown direction %q", s)
}

func (d Direction) Opposite() Direction {
	if d == DirectionEntry {
		return DirectionExit
	}
	return DirectionEntry
}

// AccessEvent is an immutable row of the append-only access log.
type AccessEvent struct {
	ID         string
	PersonID   string
	Direction  Direction
	OccurredAt time.Time
}

// DirectionAfter returns the direction the next admitted scan takes given
// the latest event (if any). No prior event means the person is outside.
func DirectionAfter(latest AccessEvent, found bool) Direction {
	if !found {
		return DirectionEntry
	}
	return latest.Direction.Opposite()
}

type PassState string

const (
	PassActive PassState = "ACTIVE"
	PassClosed PassState = "CLOSED"
)

// VisitorPass bounds a single visit. IssuedAt is the timestamp encoded in
// the printed credential; a credential older than the latest pass's
// IssuedAt belongs to a previous visit.
type VisitorPass struct {
	ID        string
	PersonID  string
	Reason    string
	IssuedAt  time.Time
	StartedAt time.Time
	EndedAt   *time.Time
	State     PassState
}

func (p VisitorPass) Age(now time.Time) time.Duration {
	return now.Sub(p.IssuedAt)
}

type Shift string

const (
	ShiftMorning   Shift = "MORNING"
	ShiftAfternoon Shift = "AFTERNOON"
	ShiftNight     Shift = "NIGHT"
	ShiftMixed     Shift = "MIXED"
)

func ParseShift(s string) (Shift, error) {
	switch sh := Shift(strings.ToUpper(strings.TrimSpace(s))); sh {
	case ShiftMorning, ShiftAfternoon, ShiftNight, ShiftMixed:
		return sh, nil
	case "MAÑANA", "MANANA":
		return ShiftMorning, nil
	case "TARDE":
		return ShiftAfternoon, nil
	case "NOCHE":
		return ShiftNight, nil
	case "MIXTA":
		return ShiftMixed, nil
	}
	return "", fmt.Errorf("unknown shift %q", s)
}

// Placement is the institutional context of a member: training group,
// expected shift and assigned environment.
type Placement struct {
	PersonID        string
	GroupCode       string
	Program         string
	Shift           Shift
	EnvironmentID   string
	EnvironmentName string
	Capacity        int
}

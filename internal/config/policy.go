package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"gopkg.in/yaml.v3"
)

// Policy holds every threshold the engine reads at decision time. It is
// loaded once at startup and treated as read-only afterwards.
type Policy struct {
	Timezone string         `yaml:"timezone"`
	Visitor  VisitorPolicy  `yaml:"visitor"`
	Schedule SchedulePolicy `yaml:"schedule"`
	Detector DetectorPolicy `yaml:"detector"`

	loc *time.Location
}

type VisitorPolicy struct {
	Validity            time.Duration `yaml:"validity"`
	ExpiringWindow      time.Duration `yaml:"expiring_window"`
	IssueSkew           time.Duration `yaml:"issue_skew"`
	DefaultDocumentType string        `yaml:"default_document_type"`
}

type SchedulePolicy struct {
	Administrative    Window            `yaml:"administrative"`
	Shifts            map[string]Window `yaml:"shifts"` // keyed by MORNING, AFTERNOON, NIGHT
	EarlyTolerance    time.Duration     `yaml:"early_tolerance"`
	MaxOccupancyRatio float64           `yaml:"max_occupancy_ratio"`
}

type DetectorPolicy struct {
	SweepInterval time.Duration `yaml:"sweep_interval"`

	OffSchedule struct {
		OpenHour  int `yaml:"open_hour"`
		CloseHour int `yaml:"close_hour"`
	} `yaml:"off_schedule"`

	FrequentAccess struct {
		Window     time.Duration `yaml:"window"`
		MaxEntries int           `yaml:"max_entries"`
		HighAt     int           `yaml:"high_at"`
	} `yaml:"frequent_access"`

	FailedLogin struct {
		Window      time.Duration `yaml:"window"`
		MaxAttempts int           `yaml:"max_attempts"`
		CriticalAt  int           `yaml:"critical_at"`
	} `yaml:"failed_login"`

	Suspicious struct {
		Window      time.Duration `yaml:"window"`
		MinAccesses int           `yaml:"min_accesses"`
	} `yaml:"suspicious"`
}

// ClockTime is a wall-clock time of day written as "HH:MM".
type ClockTime struct {
	Hour   int
	Minute int
}

func ParseClockTime(s string) (ClockTime, error) {
	h, m, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return ClockTime{}, fmt.Errorf("clock time %q: want HH:MM", s)
	}
	hour, err := strconv.Atoi(h)
	if err != nil || hour < 0 || hour > 24 {
		return ClockTime{}, fmt.Errorf("clock time %q: bad hour", s)
	}
	minute, err := strconv.Atoi(m)
	if err != nil || minute < 0 || minute > 59 || (hour == 24 && minute != 0) {
		return ClockTime{}, fmt.Errorf("clock time %q: bad minute", s)
	}
	return ClockTime{Hour: hour, Minute: minute}, nil
}

func (c *ClockTime) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := ParseClockTime(s)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

func (c ClockTime) MarshalYAML() (any, error) {
	return c.String(), nil
}

func (c ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}

// Offset is the duration since local midnight.
func (c ClockTime) Offset() time.Duration {
	return time.Duration(c.Hour)*time.Hour + time.Duration(c.Minute)*time.Minute
}

// Window is a [Start, End) time-of-day range on one local day.
type Window struct {
	Start ClockTime `yaml:"start"`
	End   ClockTime `yaml:"end"`
}

// Contains reports whether the local time of day of t falls in
// [Start-early, End).
func (w Window) Contains(t time.Time, early time.Duration) bool {
	midnight := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	since := t.Sub(midnight)
	return since >= w.Start.Offset()-early && since < w.End.Offset()
}

func DefaultPolicy() Policy {
	var p Policy
	p.Timezone = "America/Bogota"

	p.Visitor.Validity = 24 * time.Hour
	p.Visitor.ExpiringWindow = 2 * time.Hour
	p.Visitor.IssueSkew = 5 * time.Minute
	p.Visitor.DefaultDocumentType = "CC"

	p.Schedule.Administrative = Window{Start: ClockTime{7, 0}, End: ClockTime{18, 0}}
	p.Schedule.Shifts = map[string]Window{
		"MORNING":   {Start: ClockTime{6, 0}, End: ClockTime{12, 0}},
		"AFTERNOON": {Start: ClockTime{12, 0}, End: ClockTime{18, 0}},
		"NIGHT":     {Start: ClockTime{18, 0}, End: ClockTime{22, 0}},
	}
	p.Schedule.EarlyTolerance = 30 * time.Minute
	p.Schedule.MaxOccupancyRatio = 0.9

	p.Detector.SweepInterval = 5 * time.Minute
	p.Detector.OffSchedule.OpenHour = 6
	p.Detector.OffSchedule.CloseHour = 22
	p.Detector.FrequentAccess.Window = 2 * time.Hour
	p.Detector.FrequentAccess.MaxEntries = 4
	p.Detector.FrequentAccess.HighAt = 8
	p.Detector.FailedLogin.Window = 15 * time.Minute
	p.Detector.FailedLogin.MaxAttempts = 3
	p.Detector.FailedLogin.CriticalAt = 10
	p.Detector.Suspicious.Window = 30 * time.Minute
	p.Detector.Suspicious.MinAccesses = 5

	p.loc, _ = time.LoadLocation(p.Timezone)
	return p
}

// LoadPolicy starts from DefaultPolicy, overlays the YAML file at path
// (when path is non-empty), applies QRACCESS_* overrides and validates the
// result.
func LoadPolicy(path string) (Policy, error) {
	p := DefaultPolicy()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Policy{}, fmt.Errorf("policy load: %w", err)
		}
		if err := yaml.Unmarshal(data, &p); err != nil {
			return Policy{}, fmt.Errorf("policy unmarshal: %w", err)
		}
	}
	applyPolicyEnvOverrides(&p)
	if err := p.Validate(); err != nil {
		return Policy{}, err
	}
	return p, nil
}

func applyPolicyEnvOverrides(p *Policy) {
	if v := os.Getenv("QRACCESS_TIMEZONE"); v != "" {
		p.Timezone = v
	}
	if d, ok := getenvDuration("QRACCESS_VISITOR_VALIDITY"); ok {
		p.Visitor.Validity = d
	}
	if d, ok := getenvDuration("QRACCESS_SWEEP_INTERVAL"); ok {
		p.Detector.SweepInterval = d
	}
	p.Detector.OffSchedule.OpenHour = getenvInt("QRACCESS_OFF_SCHEDULE_OPEN_HOUR", p.Detector.OffSchedule.OpenHour)
	p.Detector.OffSchedule.CloseHour = getenvInt("QRACCESS_OFF_SCHEDULE_CLOSE_HOUR", p.Detector.OffSchedule.CloseHour)
	p.Detector.FrequentAccess.MaxEntries = getenvInt("QRACCESS_FREQUENT_MAX_ENTRIES", p.Detector.FrequentAccess.MaxEntries)
	p.Detector.FailedLogin.MaxAttempts = getenvInt("QRACCESS_FAILED_LOGIN_MAX_ATTEMPTS", p.Detector.FailedLogin.MaxAttempts)
}

var ErrInvalidPolicy = errors.New("invalid policy")

// Validate rejects inconsistent thresholds and resolves the time zone.
func (p *Policy) Validate() error {
	bad := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", ErrInvalidPolicy, fmt.Sprintf(format, args...))
	}

	loc, err := time.LoadLocation(p.Timezone)
	if err != nil {
		return bad("timezone %q: %v", p.Timezone, err)
	}
	p.loc = loc

	if p.Visitor.Validity <= 0 {
		return bad("visitor.validity must be positive")
	}
	if p.Visitor.ExpiringWindow <= 0 || p.Visitor.ExpiringWindow >= p.Visitor.Validity {
		return bad("visitor.expiring_window must be in (0, validity)")
	}
	if p.Visitor.IssueSkew < 0 {
		return bad("visitor.issue_skew must not be negative")
	}

	if !p.Schedule.Administrative.valid() {
		return bad("schedule.administrative: start must precede end")
	}
	for name, w := range p.Schedule.Shifts {
		switch name {
		case "MORNING", "AFTERNOON", "NIGHT":
		default:
			return bad("schedule.shifts: unknown shift %q", name)
		}
		if !w.valid() {
			return bad("schedule.shifts.%s: start must precede end", name)
		}
	}
	if p.Schedule.MaxOccupancyRatio <= 0 || p.Schedule.MaxOccupancyRatio > 1 {
		return bad("schedule.max_occupancy_ratio must be in (0, 1]")
	}

	d := p.Detector
	if d.SweepInterval <= 0 {
		return bad("detector.sweep_interval must be positive")
	}
	if d.OffSchedule.OpenHour < 0 || d.OffSchedule.CloseHour > 24 || d.OffSchedule.OpenHour >= d.OffSchedule.CloseHour {
		return bad("detector.off_schedule: need 0 <= open_hour < close_hour <= 24")
	}
	if d.FrequentAccess.Window <= 0 || d.FrequentAccess.MaxEntries <= 0 || d.FrequentAccess.HighAt <= d.FrequentAccess.MaxEntries {
		return bad("detector.frequent_access: need window > 0 and 0 < max_entries < high_at")
	}
	if d.FailedLogin.Window <= 0 || d.FailedLogin.MaxAttempts <= 0 || d.FailedLogin.CriticalAt <= d.FailedLogin.MaxAttempts {
		return bad("detector.failed_login: need window > 0 and 0 < max_attempts < critical_at")
	}
	if d.Suspicious.Window <= 0 || d.Suspicious.MinAccesses <= 0 {
		return bad("detector.suspicious: window and min_accesses must be positive")
	}
	return nil
}

func (w Window) valid() bool {
	return w.Start.Offset() < w.End.Offset()
}

// Location is the time zone schedule and day boundaries are evaluated in.
func (p Policy) Location() *time.Location {
	if p.loc == nil {
		return time.UTC
	}
	return p.loc
}

// ShiftWindow returns the configured window for shift; ok is false for
// MIXED or an unconfigured shift.
func (p Policy) ShiftWindow(shift string) (Window, bool) {
	w, ok := p.Schedule.Shifts[strings.ToUpper(shift)]
	return w, ok
}

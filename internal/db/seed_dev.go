package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

type SeedPerson struct {
	ID             string
	DocumentNumber string
	DocumentType   string
	GivenNames     string
	Surnames       string
	Role           string
	GroupCode      string // optional
}

type SeedDevOptions struct {
	Persons []SeedPerson
}

// Starter environment and group created by SeedDev.
const (
	SeedEnvironmentID       = "amb-101"
	SeedEnvironmentName     = "Ambiente 101"
	SeedEnvironmentCapacity = 30
	SeedGroupCode           = "ADSO-2758"
	SeedProgram             = "Analisis y Desarrollo de Software"
)

// DefaultSeedPersons is the starter roster used by `qraccess-server seed`.
var DefaultSeedPersons = []SeedPerson{
	{ID: "11111111-1111-4111-8111-111111111010", DocumentNumber: "1010", DocumentType: "CC", GivenNames: "Laura", Surnames: "Gomez", Role: "aprendiz", GroupCode: SeedGroupCode},
	{ID: "11111111-1111-4111-8111-111111111020", DocumentNumber: "1020", DocumentType: "CC", GivenNames: "Carlos", Surnames: "Rincon", Role: "instructor", GroupCode: SeedGroupCode},
	{ID: "11111111-1111-4111-8111-111111111030", DocumentNumber: "1030", DocumentType: "CC", GivenNames: "Marta", Surnames: "Suarez", Role: "administrative"},
}

// SeedDev creates a starter environment, a training group and a few
// members. It is idempotent.
func SeedDev(ctx context.Context, conn *sql.DB, opt SeedDevOptions) error {
	now := time.Now().UTC().UnixMilli()
	persons := opt.Persons
	if persons == nil {
		persons = DefaultSeedPersons
	}

	if _, err := conn.ExecContext(ctx, `
INSERT OR IGNORE INTO environments(environment_id, name, capacity)
VALUES (?, ?, ?);`, SeedEnvironmentID, SeedEnvironmentName, SeedEnvironmentCapacity); err != nil {
		return fmt.Errorf("seed environments: %w", err)
	}

	if _, err := conn.ExecContext(ctx, `
INSERT OR IGNORE INTO training_groups(group_code, program, shift, environment_id)
VALUES (?, ?, 'MORNING', ?);`, SeedGroupCode, SeedProgram, SeedEnvironmentID); err != nil {
		return fmt.Errorf("seed training_groups: %w", err)
	}

	for _, p := range persons {
		if _, err := conn.ExecContext(ctx, `
INSERT INTO persons(
  person_id, document_number, document_type, given_names, surnames,
  display_name, role, status, created_at_ms, updated_at_ms
) VALUES (?, ?, ?, ?, ?, ?, ?, 'ACTIVE', ?, ?)
ON CONFLICT(person_id) DO UPDATE SET
  given_names   = excluded.given_names,
  surnames      = excluded.surnames,
  display_name  = excluded.display_name,
  role          = excluded.role,
  updated_at_ms = excluded.updated_at_ms;
`, p.ID, p.DocumentNumber, p.DocumentType, p.GivenNames, p.Surnames,
			p.GivenNames+" "+p.Surnames, p.Role, now, now); err != nil {
			return fmt.Errorf("seed person %s: %w", p.DocumentNumber, err)
		}

		if p.GroupCode == "" {
			continue
		}
		if _, err := conn.ExecContext(ctx, `
INSERT INTO person_groups(person_id, group_code) VALUES (?, ?)
ON CONFLICT(person_id) DO UPDATE SET group_code = excluded.group_code;
`, p.ID, p.GroupCode); err != nil {
			return fmt.Errorf("seed person_group %s: %w", p.DocumentNumber, err)
		}
	}

	return nil
}

package model

import (
	"fmt"
	"strings"
	"time"
)

// Role is the closed set of roles the engine reasons about. Raw role
// strings are converted with ParseRole at the system boundary and never
// compared deeper in.
type Role int

const (
	RoleUnknown Role = iota
	RoleAprendiz
	RoleInstructor
	RoleAdministrative
	RoleVisitor
)

var roleNames = map[Role]string{
	RoleAprendiz:       "aprendiz",
	RoleInstructor:     "instructor",
	RoleAdministrative: "administrative",
	RoleVisitor:        "visitor",
}

// roleAliases maps every spelling seen from enrollment, import and the
// admin UI onto a Role. Keys are upper case.
var roleAliases = map[string]Role{
	"APRENDIZ":       RoleAprendiz,
	"STUDENT":        RoleAprendiz,
	"INSTRUCTOR":     RoleInstructor,
	"ADMIN":          RoleAdministrative,
	"ADMINISTRADOR":  RoleAdministrative,
	"ADMINISTRATIVO": RoleAdministrative,
	"ADMINISTRATIVE": RoleAdministrative,
	"FUNCIONARIO":    RoleAdministrative,
	"VISITANTE":      RoleVisitor,
	"VISITOR":        RoleVisitor,
}

func ParseRole(s string) (Role, error) {
	key := strings.ToUpper(strings.TrimSpace(s))
	if r, ok := roleAliases[key]; ok {
		return r, nil
	}
	return RoleUnknown, fmt.Errorf("unknown role %q", s)
}

func (r Role) String() string {
	if n, ok := roleNames[r]; ok {
		return n
	}
	return "unknown"
}

// IsMember reports whether r is one of the enrolled (non-visitor) roles.
func (r Role) IsMember() bool {
	return r == RoleAprendiz || r == RoleInstructor || r == RoleAdministrative
}

type Status string

const (
	StatusActive    Status = "ACTIVE"
	StatusInactive  Status = "INACTIVE"
	StatusSuspended Status = "SUSPENDED"
)

func ParseStatus(s string) (Status, error) {
	switch st := Status(strings.ToUpper(strings.TrimSpace(s))); st {
	case StatusActive, StatusInactive, StatusSuspended:
		return st, nil
	}
	return "", fmt.Errorf("unknown status %q", s)
}

type Person struct {
	ID             string
	DocumentNumber string
	DocumentType   string
	GivenNames     string
	Surnames       string
	DisplayName    string
	Role           Role
	Status         Status
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// NormalizeDocument strips whitespace anywhere in a document number.
func NormalizeDocument(doc string) string {
	return strings.Join(strings.Fields(doc), "")
}

// NormalizeDocumentType upper-cases and trims a document type ("cc" -> "CC").
func NormalizeDocumentType(t string) string {
	return strings.ToUpper(strings.TrimSpace(t))
}

// SplitDisplayName splits a free-form visitor name into given names and
// surnames. Best effort only: with up to three tokens the last one is the
// surname; with four or more the last two are (the common two-surname form).
// Multi-word surnames such as "De La Cruz" are not recognised.
func SplitDisplayName(name string) (given, surnames string) {
	tokens := strings.Fields(name)
	switch n := len(tokens); {
	case n == 0:
		return "", ""
	case n == 1:
		return tokens[0], ""
	case n <= 3:
		return strings.Join(tokens[:n-1], " "), tokens[n-1]
	default:
		return strings.Join(tokens[:n-2], " "), strings.Join(tokens[n-2:], " ")
	}
}

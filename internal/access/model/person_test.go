package model_test

import (
	"testing"

	"github.com/FERLEY2004/QRRR-sub001/internal/access/model"
)

func TestParseRole_Aliases(t *testing.T) {
	cases := map[string]model.Role{
		"ADMIN":          model.RoleAdministrative,
		"administrador":  model.RoleAdministrative,
		"Administrativo": model.RoleAdministrative,
		"aprendiz":       model.RoleAprendiz,
		"INSTRUCTOR":     model.RoleInstructor,
		"visitante":      model.RoleVisitor,
		"Visitor":        model.RoleVisitor,
	}
	for in, want := range cases {
		got, err := model.ParseRole(in)
		if err != nil {
			t.Errorf("ParseRole(%q): %v", in, err)
			continue
		}
		if got != want {
			t.Errorf("ParseRole(%q) = %v, want %v", in, got, want)
		}
	}

	if _, err := model.ParseRole("janitor"); err == nil {
		t.Error("expected error for unknown role")
	}
}

func TestRole_IsMember(t *testing.T) {
	if model.RoleVisitor.IsMember() {
		t.Error("visitor must not be a member role")
	}
	for _, r := range []model.Role{model.RoleAprendiz, model.RoleInstructor, model.RoleAdministrative} {
		if !r.IsMember() {
			t.Errorf("%v should be a member role", r)
		}
	}
}

func TestSplitDisplayName(t *testing.T) {
	tests := []struct {
		in, given, surnames string
	}{
		{"Ana", "Ana", ""},
		{"Ana Lopez", "Ana", "Lopez"},
		{"Ana Maria Lopez", "Ana Maria", "Lopez"},
		{"  Ana   Maria Lopez  Perez ", "Ana Maria", "Lopez Perez"},
		{"", "", ""},
	}
	for _, tc := range tests {
		g, s := model.SplitDisplayName(tc.in)
		if g != tc.given || s != tc.surnames {
			t.Errorf("SplitDisplayName(%q) = (%q, %q), want (%q, %q)", tc.in, g, s, tc.given, tc.surnames)
		}
	}
}

func TestDirectionAfter(t *testing.T) {
	if d := model.DirectionAfter(model.AccessEvent{}, false); d != model.DirectionEntry {
		t.Errorf("no history: got %s, want ENTRY", d)
	}
	if d := model.DirectionAfter(model.AccessEvent{Direction: model.DirectionEntry}, true); d != model.DirectionExit {
		t.Errorf("after ENTRY: got %s, want EXIT", d)
	}
	if d := model.DirectionAfter(model.AccessEvent{Direction: model.DirectionExit}, true); d != model.DirectionEntry {
		t.Errorf("after EXIT: got %s, want ENTRY", d)
	}
}

func TestNormalizeDocument(t *testing.T) {
	if got := model.NormalizeDocument(" 90 01 23 "); got != "900123" {
		t.Errorf("got %q", got)
	}
}

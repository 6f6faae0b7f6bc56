package rcon

import (
	"errors"
	"testing"
)

func TestLookup(t *testing.T) {
	tests := []struct {
		game   string
		family Family
		probe  string
	}{
		{"", FamilyValve, "echo test"},
		{"CS2", FamilyValve, "echo test"},
		{"minecraft", FamilyValve, "list"},
		{"arma3", FamilyBattlEye, "players"},
		{"dayz", FamilyBattlEye, "players"},
		{"scum", FamilySession, "players"},
		{"7dtd", FamilyTelnet, "version"},
		{"rust", FamilyWebRcon, "serverinfo"},
	}

	for _, tt := range tests {
		t.Run(tt.game, func(t *testing.T) {
			p, err := Lookup(tt.game)
			if err != nil {
				t.Fatalf("Lookup(%q) failed: %v", tt.game, err)
			}
			if p.Family != tt.family {
				t.Errorf("family = %s, want %s", p.Family, tt.family)
			}
			if p.Verifier.Command != tt.probe {
				t.Errorf("probe = %q, want %q", p.Verifier.Command, tt.probe)
			}
		})
	}
}

func TestLookupUnknown(t *testing.T) {
	if _, err := Lookup("quake"); !errors.Is(err, ErrUnknownGame) {
		t.Errorf("err = %v, want ErrUnknownGame", err)
	}
}

func TestVerifierCheck(t *testing.T) {
	mc := Verifier{Command: "list", Expect: "players", IgnoreCase: true}
	if !mc.Check("There are 0 of a max of 20 Players online") {
		t.Error("case-insensitive probe should match")
	}

	rust := Verifier{Command: "serverinfo", Expect: "Hostname"}
	if rust.Check(`{"hostname": "x"}`) {
		t.Error("case-sensitive probe must not match a different case")
	}
	if !rust.Check(`{"Hostname": "x"}`) {
		t.Error("case-sensitive probe should match")
	}
}

func TestGamesSorted(t *testing.T) {
	games := Games()
	if len(games) == 0 {
		t.Fatal("no games registered")
	}
	for i := 1; i < len(games); i++ {
		if games[i-1] >= games[i] {
			t.Fatalf("games not sorted at %d: %v", i, games)
		}
	}
}

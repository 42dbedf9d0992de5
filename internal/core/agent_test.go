package core

import (
	"strings"
	"testing"
)

func TestTeam_Validate(t *testing.T) {
	member := func(name string, pos int) TeamMember {
		return TeamMember{Agent: AgentDefinition{Name: name, Model: "m"}, Role: "r", Position: pos}
	}

	tests := []struct {
		name    string
		team    Team
		wantErr string
	}{
		{"valid", Team{Members: []TeamMember{member("a", 0), member("b", 1)}}, ""},
		{"empty", Team{}, "NO_TEAM_MEMBERS"},
		{"duplicate position", Team{Members: []TeamMember{member("a", 0), member("b", 0)}}, "DUPLICATE_POSITION"},
		{"gap", Team{Members: []TeamMember{member("a", 0), member("b", 2)}}, "POSITION_GAP"},
		{"unnamed agent", Team{Members: []TeamMember{member("", 0)}}, "AGENT_NAME_REQUIRED"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.team.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want code %s", err, tt.wantErr)
			}
		})
	}
}

func TestTeam_OrderedMembers(t *testing.T) {
	team := Team{Members: []TeamMember{
		{Agent: AgentDefinition{Name: "c"}, Position: 2},
		{Agent: AgentDefinition{Name: "a"}, Position: 0},
		{Agent: AgentDefinition{Name: "b"}, Position: 1},
	}}

	got := team.OrderedMembers()
	want := []string{"a", "b", "c"}
	for i, name := range want {
		if got[i].Agent.Name != name {
			t.Errorf("OrderedMembers()[%d] = %q, want %q", i, got[i].Agent.Name, name)
		}
	}
	// original slice untouched
	if team.Members[0].Agent.Name != "c" {
		t.Error("OrderedMembers must not mutate the team")
	}
}

func TestAgentDefinition_SortedOpinionKeys(t *testing.T) {
	a := AgentDefinition{Opinions: map[string]string{"zeta": "1", "alpha": "2", "mid": "3"}}
	got := a.SortedOpinionKeys()
	want := []string{"alpha", "mid", "zeta"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("SortedOpinionKeys() = %v, want %v", got, want)
		}
	}
}

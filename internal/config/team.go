package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/relay-run/relay/internal/core"
)

// TeamFile is the on-disk shape of a team definition. Agents are declared
// once and referenced by name from the member list.
type TeamFile struct {
	Name    string                 `yaml:"name"`
	Agents  []core.AgentDefinition `yaml:"agents"`
	Members []TeamMemberRef        `yaml:"members"`
}

// TeamMemberRef references a declared agent by name.
type TeamMemberRef struct {
	Agent    string `yaml:"agent"`
	Role     string `yaml:"role"`
	Position int    `yaml:"position"`
}

// LoadTeam reads a team definition from a YAML file and resolves agent
// references into a validated core.Team.
func LoadTeam(path string) (*core.Team, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading team file: %w", err)
	}
	return ParseTeam(data)
}

// ParseTeam parses and validates a team definition.
func ParseTeam(data []byte) (*core.Team, error) {
	var file TeamFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, core.ErrValidation("INVALID_TEAM_FILE",
			fmt.Sprintf("parsing team yaml: %v", err))
	}

	agents := make(map[string]core.AgentDefinition, len(file.Agents))
	for _, a := range file.Agents {
		if a.Name == "" {
			return nil, core.ErrValidation("AGENT_NAME_REQUIRED", "agent declared without a name")
		}
		if _, dup := agents[a.Name]; dup {
			return nil, core.ErrValidation("DUPLICATE_AGENT",
				fmt.Sprintf("agent %q declared twice", a.Name))
		}
		agents[a.Name] = a
	}

	team := &core.Team{Name: file.Name}
	for _, ref := range file.Members {
		agent, ok := agents[ref.Agent]
		if !ok {
			return nil, core.ErrValidation("UNKNOWN_AGENT",
				fmt.Sprintf("member references undeclared agent %q", ref.Agent))
		}
		team.Members = append(team.Members, core.TeamMember{
			Agent:    agent,
			Role:     ref.Role,
			Position: ref.Position,
		})
	}

	if err := team.Validate(); err != nil {
		return nil, err
	}
	return team, nil
}

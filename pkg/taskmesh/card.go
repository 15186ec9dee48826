package taskmesh

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/viper"

	"github.com/taskmesh/taskmesh-go/pkg/utils"
)

/*
Capabilities is the static discovery document a server publishes.  It is
computed once at startup from the handler's configuration and never
mutated afterwards.
*/
type Capabilities struct {
	// Name is the human-readable name of the service
	Name string `json:"name"`
	// Description is an optional description of the service
	Description *string `json:"description,omitempty"`
	// Version is the version identifier for the service or its API
	Version string `json:"version"`
	// Operations lists the protocol operations this server supports
	Operations []string `json:"operations"`
	// PartTypes lists the content part types accepted in messages
	PartTypes []PartType `json:"partTypes"`
	// Streaming indicates whether the incremental event stream is available
	Streaming bool `json:"streaming"`
	// Agents describes the agent capabilities reachable through this server
	Agents []AgentCard `json:"agents"`
}

/*
AgentCard describes one backing agent exposed through the protocol.  This
is the agent's "business card" that other agents discover.
*/
type AgentCard struct {
	// ID is the opaque identifier callers pass as agent_id
	ID string `json:"id"`
	// Name is the human-readable name of the agent
	Name string `json:"name"`
	// Description is an optional description of the agent
	Description *string `json:"description,omitempty"`
	// InputModes are the input content types the agent accepts
	InputModes []string `json:"inputModes,omitempty"`
	// OutputModes are the output content types the agent produces
	OutputModes []string `json:"outputModes,omitempty"`
	// Streaming indicates whether the agent implements the chunked path
	Streaming bool `json:"streaming"`
}

// DefaultOperations enumerates every protocol operation the handler serves.
var DefaultOperations = []string{
	"tasks/create",
	"tasks/get",
	"tasks/list",
	"tasks/messages",
	"tasks/cancel",
	"tasks/stream",
}

/*
NewAgentCardFromConfig builds a card for the agent registered under the
given config key.  Missing fields fall back to the key itself.
*/
func NewAgentCardFromConfig(key string) AgentCard {
	v := viper.GetViper()

	name := v.GetString(fmt.Sprintf("agents.%s.name", key))
	if name == "" {
		name = key
	}

	card := AgentCard{
		ID:          key,
		Name:        name,
		InputModes:  v.GetStringSlice(fmt.Sprintf("agents.%s.input_modes", key)),
		OutputModes: v.GetStringSlice(fmt.Sprintf("agents.%s.output_modes", key)),
		Streaming:   v.GetBool(fmt.Sprintf("agents.%s.streaming", key)),
	}

	if desc := v.GetString(fmt.Sprintf("agents.%s.description", key)); desc != "" {
		card.Description = utils.Ptr(desc)
	}

	return card
}

func (caps *Capabilities) String() string {
	var sb strings.Builder

	headerStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("212")).
		Bold(true)

	labelStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("39")).
		Bold(true)

	valueStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("252"))

	sectionStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("99")).
		Bold(true)

	indent := "   "
	bullet := "│ "

	sb.WriteString(headerStyle.Render("Capabilities") + "\n")
	sb.WriteString(bullet + labelStyle.Render("Name: ") + valueStyle.Render(caps.Name) + "\n")
	if caps.Description != nil {
		sb.WriteString(bullet + labelStyle.Render("Description: ") + valueStyle.Render(*caps.Description) + "\n")
	}
	sb.WriteString(bullet + labelStyle.Render("Version: ") + valueStyle.Render(caps.Version) + "\n")
	sb.WriteString(bullet + labelStyle.Render("Streaming: ") + valueStyle.Render(fmt.Sprintf("%v", caps.Streaming)) + "\n")
	sb.WriteString(bullet + labelStyle.Render("Operations: ") + valueStyle.Render(strings.Join(caps.Operations, ", ")) + "\n")

	if len(caps.Agents) > 0 {
		sb.WriteString("\n" + sectionStyle.Render("Agents") + "\n")
		for i, card := range caps.Agents {
			sb.WriteString(bullet + labelStyle.Render(fmt.Sprintf("Agent %d", i+1)) + "\n")
			sb.WriteString(bullet + indent + labelStyle.Render("ID: ") + valueStyle.Render(card.ID) + "\n")
			sb.WriteString(bullet + indent + labelStyle.Render("Name: ") + valueStyle.Render(card.Name) + "\n")
			if card.Description != nil {
				sb.WriteString(bullet + indent + labelStyle.Render("Description: ") + valueStyle.Render(*card.Description) + "\n")
			}
			if len(card.InputModes) > 0 {
				sb.WriteString(bullet + indent + labelStyle.Render("Input Modes: ") + valueStyle.Render(strings.Join(card.InputModes, ", ")) + "\n")
			}
			if len(card.OutputModes) > 0 {
				sb.WriteString(bullet + indent + labelStyle.Render("Output Modes: ") + valueStyle.Render(strings.Join(card.OutputModes, ", ")) + "\n")
			}
		}
	}

	return sb.String()
}

package memory

type Type string

const (
	TypeCore       Type = "CORE"
	TypeBehavior   Type = "BEHAVIOR"
	TypeCapability Type = "CAPABILITY"
	TypeIdentity   Type = "IDENTITY"
)

// Block is one agent memory file such as AGENTS.md or SOUL.md.
type Block struct {
	ID          string `json:"id" yaml:"id"`
	FileName    string `json:"fileName" yaml:"fileName"`
	AgentID     string `json:"agentId" yaml:"agentId"`
	Content     string `json:"content" yaml:"content"`
	LastUpdated string `json:"lastUpdated" yaml:"lastUpdated"`
	Type        Type   `json:"type" yaml:"type"`
}

func (b Block) GetID() string { return b.ID }

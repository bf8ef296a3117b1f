package skill

type Skill struct {
	ID          string            `json:"id" yaml:"id"`
	AgentID     string            `json:"agentId" yaml:"agentId"`
	Name        string            `json:"name" yaml:"name"`
	Description string            `json:"description" yaml:"description"`
	Enabled     bool              `json:"enabled" yaml:"enabled"`
	APIKey      string            `json:"apiKey,omitempty" yaml:"apiKey,omitempty"`
	Env         map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
	Category    string            `json:"category" yaml:"category"`
}

func (s Skill) GetID() string { return s.ID }

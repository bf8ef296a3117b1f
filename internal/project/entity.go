package project

type Status string

const (
	StatusActive   Status = "active"
	StatusPlanning Status = "planning"
	StatusArchived Status = "archived"
)

type Project struct {
	ID          string `json:"id" yaml:"id"`
	Title       string `json:"title" yaml:"title"`
	Description string `json:"description" yaml:"description"`
	AgentID     string `json:"agentId" yaml:"agentId"`
	// Link is the URL of the project's sub-app.
	Link     string `json:"link" yaml:"link"`
	Status   Status `json:"status" yaml:"status"`
	Category string `json:"category,omitempty" yaml:"category,omitempty"`
}

func (p Project) GetID() string { return p.ID }

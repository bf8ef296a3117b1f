package person

type Category string

const (
	CategoryX       Category = "X"
	CategoryYouTube Category = "YouTube"
	CategoryForum   Category = "Forum"
	CategoryThread  Category = "Thread"
	CategoryOther   Category = "Other"
)

type Status string

const (
	StatusFollowing Status = "following"
	StatusQueued    Status = "queued"
	StatusAnalyzed  Status = "analyzed"
)

// Person is a followed community source an agent learns from.
type Person struct {
	ID           string   `json:"id" yaml:"id"`
	Title        string   `json:"title" yaml:"title"`
	Link         string   `json:"link" yaml:"link"`
	Description  string   `json:"description" yaml:"description"`
	Category     Category `json:"category" yaml:"category"`
	AgentID      string   `json:"agentId" yaml:"agentId"`
	QualityScore float64  `json:"qualityScore" yaml:"qualityScore"`
	Votes        int      `json:"votes" yaml:"votes"`
	Status       Status   `json:"status" yaml:"status"`
	CreatedAt    string   `json:"createdAt" yaml:"createdAt"`
}

func (p Person) GetID() string { return p.ID }

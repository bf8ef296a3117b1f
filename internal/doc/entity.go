package doc

type FileType string

const (
	FileTypePDF   FileType = "PDF"
	FileTypeImage FileType = "IMAGE"
	FileTypeMD    FileType = "MD"
	FileTypeTXT   FileType = "TXT"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusLearned    Status = "learned"
	StatusProcessing Status = "processing"
)

// Document is a learning resource attached to an agent. Author is "USER" or
// an agent ID.
type Document struct {
	ID                   string   `json:"id" yaml:"id"`
	Title                string   `json:"title" yaml:"title"`
	Description          string   `json:"description" yaml:"description"`
	LearningInstructions string   `json:"learningInstructions" yaml:"learningInstructions"`
	AgentID              string   `json:"agentId" yaml:"agentId"`
	FileType             FileType `json:"fileType" yaml:"fileType"`
	FileURL              string   `json:"fileUrl" yaml:"fileUrl"`
	Votes                int      `json:"votes" yaml:"votes"`
	QualityScore         float64  `json:"qualityScore" yaml:"qualityScore"`
	CreatedAt            string   `json:"createdAt" yaml:"createdAt"`
	Status               Status   `json:"status" yaml:"status"`
	Author               string   `json:"author" yaml:"author"`
}

func (d Document) GetID() string { return d.ID }

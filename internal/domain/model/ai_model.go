package model

// AutoModelID is the selection value that delegates to the classifier.
const AutoModelID = "auto"

type AIModelType string

const (
	AIModelTypeText  AIModelType = "text"
	AIModelTypeImage AIModelType = "image"
)

// AIModel is an answerable model in the catalogue.
type AIModel struct {
	ID             string
	Name           string
	Description    string
	Type           AIModelType
	APIName        string
	Provider       string // provider registry key, e.g. "openai", "gemini"
	Endpoint       string
	Class          ResourceClass
	GenerationCost int64
	MinTier        Tier
	IsDefault      bool
}

// Cost is the number of generation units one answer consumes.
func (m *AIModel) Cost() int64 {
	if m.GenerationCost <= 0 {
		return 1
	}
	return m.GenerationCost
}

func (m *AIModel) AvailableFor(tier Tier) bool { return tier >= m.MinTier }

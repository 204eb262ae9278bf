package domain

// VectorQuery is a filtered nearest-neighbour request against the chunk store.
type VectorQuery struct {
	OwnerID     string
	Embedding   []float32
	Threshold   float64
	Limit       int
	DocumentIDs []string
}

// ScoredChunk is a stored chunk paired with its similarity to a query.
type ScoredChunk struct {
	Chunk      Chunk
	Similarity float64
}

type RetrievalOptions struct {
	DocumentIDs []string
	TopK        int
	// Threshold is the minimum cosine similarity. Nil or negative means the
	// configured default; zero keeps every match.
	Threshold *float64
}

// SimilarityThreshold returns a Threshold value for RetrievalOptions.
func SimilarityThreshold(v float64) *float64 { return &v }

type RetrievedChunk struct {
	DocumentID string  `json:"document_id"`
	Filename   string  `json:"filename"`
	Content    string  `json:"content"`
	PageNumber int     `json:"page_number"`
	ChunkIndex int     `json:"chunk_index"`
	Similarity float64 `json:"similarity"`
}

type Source struct {
	Filename   string  `json:"filename"`
	PageNumber int     `json:"page_number"`
	Excerpt    string  `json:"excerpt"`
	Similarity float64 `json:"similarity"`
}

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type ChatMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

type ChatRequest struct {
	OwnerID     string
	Query       string
	DocumentIDs []string
	History     []ChatMessage
}

type ChatAnswer struct {
	Answer  string   `json:"answer"`
	Sources []Source `json:"sources"`
	Model   string   `json:"model"`
}

// CompletionParams are the fixed decoding parameters sent to the language model.
type CompletionParams struct {
	Temperature float64
	MaxTokens   int
	TopP        float64
}

// StreamEvent is one logical event of a streamed answer: tokens, then done or error.
type StreamEvent struct {
	Token   string
	Done    bool
	Sources []Source
	Model   string
	Err     error
}

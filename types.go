package academick

import "strings"

// ChunkRecord is one stored span of chapter text with its embeddings.
// Records are immutable once published; they are only removed when their
// whole book is deleted.
type ChunkRecord struct {
	ID             string             `json:"chunk_id"`
	Book           string             `json:"book"`
	Chapter        string             `json:"chapter"`
	Topic          string             `json:"topic"`
	Text           string             `json:"text"`
	IsIntroduction bool               `json:"is_introduction"`
	Dense          []float32          `json:"-"`
	Sparse         map[string]float32 `json:"-"`
	// Seq is the storage order, assigned by the store on publish.
	Seq int64 `json:"-"`
}

// Embedding is one embedder output: a dense vector and an optional
// term-weight map.
type Embedding struct {
	Dense  []float32
	Sparse map[string]float32
}

// BookInfo summarizes one ingested book.
type BookInfo struct {
	Name   string `json:"name"`
	Chunks int    `json:"chunks"`
}

// IntentCategory classifies a search query and selects fusion weights.
type IntentCategory string

const (
	IntentQA            IntentCategory = "question_answering"
	IntentSummarization IntentCategory = "summarization"
	IntentCoding        IntentCategory = "coding"
	IntentSearch        IntentCategory = "searching_for_information"
)

// Intents lists every category in display order.
var Intents = []IntentCategory{IntentQA, IntentSummarization, IntentCoding, IntentSearch}

// ParseIntentCategory maps a label to a category. Short aliases ("qa",
// "search") are accepted. ok is false for unknown labels.
func ParseIntentCategory(s string) (IntentCategory, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "question_answering", "qa", "question":
		return IntentQA, true
	case "summarization", "summary", "summarize":
		return IntentSummarization, true
	case "coding", "code":
		return IntentCoding, true
	case "searching_for_information", "search", "searching":
		return IntentSearch, true
	}
	return "", false
}

// FusionWeights blends dense and sparse scores. Dense + Sparse == 1.
type FusionWeights struct {
	Dense  float64 `json:"dense"`
	Sparse float64 `json:"sparse"`
}

// FusionWeightTable is the fixed intent → weight mapping.
var FusionWeightTable = map[IntentCategory]FusionWeights{
	IntentQA:            {Dense: 0.6, Sparse: 0.4},
	IntentSummarization: {Dense: 0.7, Sparse: 0.3},
	IntentCoding:        {Dense: 0.4, Sparse: 0.6},
	IntentSearch:        {Dense: 0.5, Sparse: 0.5},
}

// WeightsFor returns the fusion weights for intent, falling back to the
// Search entry for unknown categories.
func WeightsFor(intent IntentCategory) FusionWeights {
	if w, ok := FusionWeightTable[intent]; ok {
		return w
	}
	return FusionWeightTable[IntentSearch]
}

// SearchCandidate is a per-query scoring record. Never persisted.
type SearchCandidate struct {
	ChunkID     string
	DenseScore  float64
	SparseScore float64
	FusedScore  float64
	seq         int64
}

// SearchResult is one ranked chunk returned to the caller.
type SearchResult struct {
	Chunk       ChunkRecord `json:"chunk"`
	DenseScore  float64     `json:"dense_score"`
	SparseScore float64     `json:"sparse_score"`
	Score       float64     `json:"score"`
}

// Degradation names a collaborator failure that search recovered from.
type Degradation string

const (
	QueryEnhancementDegraded Degradation = "query_enhancement_degraded"
	IntentResolutionDegraded Degradation = "intent_resolution_degraded"
)

// SearchResponse is the ranked result set plus the metadata needed to
// explain it.
type SearchResponse struct {
	Results  []SearchResult `json:"results"`
	Intent   IntentCategory `json:"intent"`
	Weights  FusionWeights  `json:"weights"`
	Queries  []string       `json:"queries"`
	Book     string         `json:"book,omitempty"`
	Degraded []Degradation  `json:"degraded,omitempty"`
	Warning  string         `json:"warning,omitempty"`
}

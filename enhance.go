package academick

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

// EnhancedQuery is one search string, optionally narrowed to a book.
type EnhancedQuery struct {
	Text string `json:"text"`
	Book string `json:"book,omitempty"`
}

// QueryEnhancer rewrites a query into alternative phrasings.
type QueryEnhancer interface {
	Enhance(ctx context.Context, query string, books []string) ([]EnhancedQuery, error)
}

// MaxEnhancedQueries is the number of phrasings requested from the LLM.
const MaxEnhancedQueries = 3

const enhancePrompt = `You rewrite a student's question into search queries for a textbook retrieval system.

Produce exactly %d alternative phrasings of the question. Each phrasing must be self-contained and use the vocabulary a textbook would use.
Wrap each phrasing in numbered tags: <retrieval1>...</retrieval1>, <retrieval2>...</retrieval2>, <retrieval3>...</retrieval3>.
%sOutput only the tags.`

const enhanceBooksHint = `If a phrasing clearly targets one of these books, add a book attribute with its exact name, e.g. <retrieval1 book="Name">: %s.
`

// LLMQueryEnhancer asks an LLM for alternative phrasings.
type LLMQueryEnhancer struct {
	provider Provider
}

var _ QueryEnhancer = (*LLMQueryEnhancer)(nil)

// NewLLMQueryEnhancer creates a QueryEnhancer backed by provider.
func NewLLMQueryEnhancer(provider Provider) *LLMQueryEnhancer {
	return &LLMQueryEnhancer{provider: provider}
}

// Enhance returns up to MaxEnhancedQueries phrasings. A reply without any
// retrieval tag is an error.
func (q *LLMQueryEnhancer) Enhance(ctx context.Context, query string, books []string) ([]EnhancedQuery, error) {
	hint := ""
	if len(books) > 0 {
		hint = fmt.Sprintf(enhanceBooksHint, strings.Join(books, ", "))
	}
	resp, err := q.provider.Chat(ctx, ChatRequest{
		Messages: []ChatMessage{
			SystemMessage(fmt.Sprintf(enhancePrompt, MaxEnhancedQueries, hint)),
			UserMessage(query),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("enhance query: %w", err)
	}
	out := ParseRetrievalTags(resp.Content, books)
	if len(out) == 0 {
		return nil, &ErrLLM{Provider: q.provider.Name(), Message: "no retrieval tags in enhancement reply"}
	}
	return out, nil
}

var retrievalTag = regexp.MustCompile(`(?s)<retrieval(\d+)(?:\s+book="([^"]*)")?\s*>(.*?)</retrieval(\d+)>`)

// ParseRetrievalTags extracts <retrievalN book="...">text</retrievalN> tags
// in order, up to MaxEnhancedQueries. Book attributes naming "all" or a book
// outside known (when known is non-empty) are dropped.
func ParseRetrievalTags(reply string, known []string) []EnhancedQuery {
	var out []EnhancedQuery
	for _, m := range retrievalTag.FindAllStringSubmatch(reply, -1) {
		if m[1] != m[4] {
			continue
		}
		text := strings.TrimSpace(m[3])
		if text == "" {
			continue
		}
		book := strings.TrimSpace(m[2])
		if strings.EqualFold(book, "all") {
			book = ""
		}
		if book != "" && len(known) > 0 {
			match, ok := MatchBook(book, known, 0.6)
			if !ok {
				book = ""
			} else {
				book = match
			}
		}
		out = append(out, EnhancedQuery{Text: text, Book: book})
		if len(out) == MaxEnhancedQueries {
			break
		}
	}
	return out
}

package academick

import (
	"context"
	"errors"
	"sync"
)

// --- Provider mocks ---

type mockProvider struct {
	name    string
	reply   string
	err     error
	mu      sync.Mutex
	calls   int
	lastReq ChatRequest
}

func (m *mockProvider) Name() string {
	if m.name == "" {
		return "mock"
	}
	return m.name
}

func (m *mockProvider) Chat(_ context.Context, req ChatRequest) (ChatResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.lastReq = req
	if m.err != nil {
		return ChatResponse{}, m.err
	}
	return ChatResponse{Content: m.reply}, nil
}

// blockingProvider waits for ctx to end, simulating a collaborator timeout.
type blockingProvider struct{}

func (blockingProvider) Name() string { return "blocking" }
func (blockingProvider) Chat(ctx context.Context, _ ChatRequest) (ChatResponse, error) {
	<-ctx.Done()
	return ChatResponse{}, ctx.Err()
}

// --- Embedder mock ---

// mapEmbedder returns fixed embeddings keyed by text. Unknown texts get a
// zero vector.
type mapEmbedder struct {
	dense  map[string][]float32
	sparse map[string]map[string]float32
	dims   int
	err    error
	calls  [][]string
}

func (m *mapEmbedder) Name() string { return "map" }

func (m *mapEmbedder) Embed(_ context.Context, texts []string) ([]Embedding, error) {
	m.calls = append(m.calls, texts)
	if m.err != nil {
		return nil, m.err
	}
	out := make([]Embedding, len(texts))
	for i, t := range texts {
		d, ok := m.dense[t]
		if !ok {
			d = make([]float32, m.dims)
		}
		out[i] = Embedding{Dense: d, Sparse: m.sparse[t]}
	}
	return out, nil
}

// --- Intent mock ---

type fixedIntent struct {
	intent IntentCategory
	err    error
}

func (f fixedIntent) Name() string { return "fixed" }
func (f fixedIntent) Classify(context.Context, string) (IntentCategory, error) {
	return f.intent, f.err
}

// --- Enhancer mock ---

type fixedEnhancer struct {
	queries []EnhancedQuery
	err     error
}

func (f fixedEnhancer) Enhance(context.Context, string, []string) ([]EnhancedQuery, error) {
	return f.queries, f.err
}

// --- ChunkStore mock ---

// memChunkStore keeps chunks in publish order.
type memChunkStore struct {
	mu     sync.Mutex
	chunks []ChunkRecord
	seq    int64
	err    error
}

func (s *memChunkStore) PublishChapter(_ context.Context, chunks []ChunkRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	for _, c := range chunks {
		s.seq++
		c.Seq = s.seq
		s.chunks = append(s.chunks, c)
	}
	return nil
}

func (s *memChunkStore) ScanChunks(_ context.Context, book string) ([]ChunkRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	var out []ChunkRecord
	for _, c := range s.chunks {
		if book == "" || c.Book == book {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *memChunkStore) ListBooks(context.Context) ([]BookInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []BookInfo
	idx := map[string]int{}
	for _, c := range s.chunks {
		i, ok := idx[c.Book]
		if !ok {
			idx[c.Book] = len(out)
			out = append(out, BookInfo{Name: c.Book})
			i = len(out) - 1
		}
		out[i].Chunks++
	}
	return out, nil
}

func (s *memChunkStore) DeleteBook(_ context.Context, book string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.chunks[:0]
	n := 0
	for _, c := range s.chunks {
		if c.Book == book {
			n++
			continue
		}
		kept = append(kept, c)
	}
	s.chunks = kept
	return n, nil
}

var errBoom = errors.New("boom")

// memCache is an in-process SearchCache.
type memCache struct {
	entries map[string]SearchResponse
	sets    int
}

func (c *memCache) Get(_ context.Context, key string) (SearchResponse, bool, error) {
	r, ok := c.entries[key]
	return r, ok, nil
}

func (c *memCache) Set(_ context.Context, key string, resp SearchResponse) error {
	if c.entries == nil {
		c.entries = map[string]SearchResponse{}
	}
	c.entries[key] = resp
	c.sets++
	return nil
}

func (c *memCache) Invalidate(context.Context) error {
	c.entries = nil
	return nil
}

package academick

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

// DefaultPrefilterK is the number of dense candidates kept per query string.
const DefaultPrefilterK = 50

// SearchRequest is one user query against the corpus.
type SearchRequest struct {
	Query string `json:"query"`
	// Book narrows the search to one book. Empty or "all" searches everything.
	Book string `json:"book,omitempty"`
	// TopN overrides the intent-dependent result count when > 0.
	TopN int `json:"top_n,omitempty"`
}

// SearchCache stores complete search responses.
type SearchCache interface {
	Get(ctx context.Context, key string) (SearchResponse, bool, error)
	Set(ctx context.Context, key string, resp SearchResponse) error
	// Invalidate drops every cached response.
	Invalidate(ctx context.Context) error
}

// SearchOption configures a HybridSearchEngine.
type SearchOption func(*searchConfig)

type searchConfig struct {
	enhancer       QueryEnhancer
	classifier     IntentClassifier
	cache          SearchCache
	prefilterK     int
	topNSearch     int
	topNDefault    int
	bookThreshold  float64
	enhanceTimeout time.Duration
	intentTimeout  time.Duration
	embedTimeout   time.Duration
	logger         *slog.Logger
	tracer         Tracer
}

// WithQueryEnhancer sets the collaborator producing alternative phrasings.
// Without one, every search runs in single-query mode.
func WithQueryEnhancer(e QueryEnhancer) SearchOption {
	return func(c *searchConfig) { c.enhancer = e }
}

// WithIntentClassifier sets the collaborator that picks fusion weights.
// Without one, Search weights are used.
func WithIntentClassifier(ic IntentClassifier) SearchOption {
	return func(c *searchConfig) { c.classifier = ic }
}

// WithSearchCache enables response caching.
func WithSearchCache(sc SearchCache) SearchOption {
	return func(c *searchConfig) { c.cache = sc }
}

// WithPrefilterK sets the dense prefilter size. Default 50.
func WithPrefilterK(k int) SearchOption {
	return func(c *searchConfig) { c.prefilterK = k }
}

// WithTopN sets the result counts for Search intent and for every other
// intent. Defaults 10 and 6.
func WithTopN(search, other int) SearchOption {
	return func(c *searchConfig) {
		c.topNSearch = search
		c.topNDefault = other
	}
}

// WithBookMatchThreshold sets the minimum similarity for resolving a
// misspelled book name. Default 0.6.
func WithBookMatchThreshold(t float64) SearchOption {
	return func(c *searchConfig) { c.bookThreshold = t }
}

// WithCollaboratorTimeouts bounds the enhancement, intent and embedding calls.
func WithCollaboratorTimeouts(enhance, intent, embed time.Duration) SearchOption {
	return func(c *searchConfig) {
		c.enhanceTimeout = enhance
		c.intentTimeout = intent
		c.embedTimeout = embed
	}
}

// WithSearchLogger sets the structured logger.
func WithSearchLogger(l *slog.Logger) SearchOption {
	return func(c *searchConfig) { c.logger = l }
}

// WithSearchTracer enables span creation for each search.
func WithSearchTracer(t Tracer) SearchOption {
	return func(c *searchConfig) { c.tracer = t }
}

// HybridSearchEngine ranks published chunks with a dense prefilter, a
// sparse rerank of the survivors and an intent-weighted fusion, repeated
// for every phrasing of the query and merged by maximum score.
type HybridSearchEngine struct {
	store    ChunkStore
	embedder Embedder
	cfg      searchConfig
}

// NewHybridSearchEngine creates a search engine over store.
func NewHybridSearchEngine(store ChunkStore, embedder Embedder, opts ...SearchOption) *HybridSearchEngine {
	cfg := searchConfig{
		prefilterK:     DefaultPrefilterK,
		topNSearch:     10,
		topNDefault:    6,
		bookThreshold:  0.6,
		enhanceTimeout: 30 * time.Second,
		intentTimeout:  10 * time.Second,
		embedTimeout:   30 * time.Second,
	}
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = NopLogger
	}
	return &HybridSearchEngine{store: store, embedder: embedder, cfg: cfg}
}

// Search ranks the corpus for req. Collaborator failures during
// enhancement or intent resolution degrade the response instead of
// failing it; only a blank query, a failed query embedding or an
// unreadable store return an error.
func (e *HybridSearchEngine) Search(ctx context.Context, req SearchRequest) (SearchResponse, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return SearchResponse{}, ErrEmptyQuery
	}

	if e.cfg.tracer != nil {
		var span Span
		ctx, span = e.cfg.tracer.Start(ctx, "search", StringAttr("search.book", req.Book))
		defer span.End()
	}
	start := time.Now()

	book, scope, err := e.resolveBook(ctx, req.Book)
	if err != nil {
		return SearchResponse{}, err
	}

	key := cacheKey(query, book, req.TopN)
	if e.cfg.cache != nil {
		if cached, ok, err := e.cfg.cache.Get(ctx, key); err != nil {
			e.cfg.logger.Warn("search cache read failed", "error", err)
		} else if ok {
			e.cfg.logger.Debug("search cache hit", "query", query)
			return cached, nil
		}
	}

	resp := SearchResponse{Book: book}
	var (
		enhanced   []EnhancedQuery
		enhanceErr error
		intent     IntentCategory
		intentErr  error
	)
	var g errgroup.Group
	g.Go(func() error {
		enhanced, enhanceErr = e.enhance(ctx, query, book)
		return nil
	})
	g.Go(func() error {
		intent, intentErr = e.classify(ctx, query)
		return nil
	})
	_ = g.Wait()

	if enhanceErr != nil {
		e.cfg.logger.Warn("query enhancement degraded", "error", enhanceErr)
		resp.Degraded = append(resp.Degraded, QueryEnhancementDegraded)
		enhanced = nil
	}
	if intentErr != nil {
		e.cfg.logger.Warn("intent resolution degraded", "error", intentErr)
		resp.Degraded = append(resp.Degraded, IntentResolutionDegraded)
		intent = IntentSearch
	}
	resp.Intent = intent
	resp.Weights = WeightsFor(intent)

	queries := buildQueryList(query, book, enhanced)
	texts := make([]string, len(queries))
	for i, q := range queries {
		texts[i] = q.Text
	}
	resp.Queries = texts

	embs, err := e.embedQueries(ctx, texts)
	if err != nil {
		return SearchResponse{}, err
	}

	corpora := make(map[string][]ChunkRecord)
	byID := make(map[string]ChunkRecord)
	sets := make([][]SearchCandidate, 0, len(queries))
	for i, q := range queries {
		corpus, ok := corpora[q.Book]
		if !ok {
			if q.Book == book && len(scope) > 1 {
				corpus, err = e.scanScope(ctx, scope)
			} else {
				corpus, err = e.store.ScanChunks(ctx, q.Book)
			}
			if err != nil {
				return SearchResponse{}, fmt.Errorf("scan chunks: %w", err)
			}
			corpora[q.Book] = corpus
			for _, c := range corpus {
				byID[c.ID] = c
			}
		}
		cands := DensePrefilter(embs[i].Dense, corpus, e.cfg.prefilterK)
		SparseRerank(cands, embs[i].Sparse, byID)
		Fuse(cands, resp.Weights)
		sets = append(sets, cands)
	}

	topN := req.TopN
	if topN <= 0 {
		topN = e.cfg.topNDefault
		if intent == IntentSearch {
			topN = e.cfg.topNSearch
		}
	}

	ranked := RankTop(UnionMax(sets), topN)
	resp.Results = make([]SearchResult, 0, len(ranked))
	for _, c := range ranked {
		resp.Results = append(resp.Results, SearchResult{
			Chunk:       byID[c.ChunkID],
			DenseScore:  c.DenseScore,
			SparseScore: c.SparseScore,
			Score:       c.FusedScore,
		})
	}
	resp.Warning = degradedWarning(resp.Degraded)

	e.cfg.logger.Debug("search completed",
		"query", query, "intent", intent, "queries", len(queries),
		"results", len(resp.Results), "duration", time.Since(start))

	if e.cfg.cache != nil && len(resp.Degraded) == 0 && len(resp.Results) > 0 {
		if err := e.cfg.cache.Set(ctx, key, resp); err != nil {
			e.cfg.logger.Warn("search cache write failed", "error", err)
		}
	}
	return resp, nil
}

// InvalidateCache drops cached responses. Call it whenever the searchable
// corpus changes: a chapter published or a book deleted.
func (e *HybridSearchEngine) InvalidateCache(ctx context.Context) error {
	if e.cfg.cache == nil {
		return nil
	}
	return e.cfg.cache.Invalidate(ctx)
}

// resolveBook maps a user-supplied book name onto stored books. It returns
// the label reported in the response and, when the name matches several
// books by containment, the full set to search. Unknown names are kept
// as-is and produce an empty result.
func (e *HybridSearchEngine) resolveBook(ctx context.Context, book string) (string, []string, error) {
	book = strings.TrimSpace(book)
	if book == "" || strings.EqualFold(book, "all") {
		return "", nil, nil
	}
	books, err := e.store.ListBooks(ctx)
	if err != nil {
		return "", nil, fmt.Errorf("list books: %w", err)
	}
	names := make([]string, len(books))
	for i, b := range books {
		names[i] = b.Name
	}
	switch matches := MatchBooks(book, names, e.cfg.bookThreshold); len(matches) {
	case 0:
		return book, nil, nil
	case 1:
		return matches[0], nil, nil
	default:
		return strings.Join(matches, ", "), matches, nil
	}
}

// scanScope returns the chunks of every book in scope, in storage order.
func (e *HybridSearchEngine) scanScope(ctx context.Context, scope []string) ([]ChunkRecord, error) {
	all, err := e.store.ScanChunks(ctx, "")
	if err != nil {
		return nil, err
	}
	in := make(map[string]bool, len(scope))
	for _, b := range scope {
		in[b] = true
	}
	var out []ChunkRecord
	for _, c := range all {
		if in[c.Book] {
			out = append(out, c)
		}
	}
	return out, nil
}

func (e *HybridSearchEngine) enhance(ctx context.Context, query, book string) ([]EnhancedQuery, error) {
	if e.cfg.enhancer == nil {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(ctx, e.cfg.enhanceTimeout)
	defer cancel()

	var books []string
	if book == "" {
		if infos, err := e.store.ListBooks(ctx); err == nil {
			for _, b := range infos {
				books = append(books, b.Name)
			}
		}
	}
	return e.cfg.enhancer.Enhance(ctx, query, books)
}

func (e *HybridSearchEngine) classify(ctx context.Context, query string) (IntentCategory, error) {
	if e.cfg.classifier == nil {
		return IntentSearch, nil
	}
	ctx, cancel := context.WithTimeout(ctx, e.cfg.intentTimeout)
	defer cancel()
	return e.cfg.classifier.Classify(ctx, query)
}

func (e *HybridSearchEngine) embedQueries(ctx context.Context, texts []string) ([]Embedding, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.embedTimeout)
	defer cancel()
	embs, err := e.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed queries: %w", err)
	}
	if len(embs) != len(texts) {
		return nil, fmt.Errorf("embed queries: got %d embeddings for %d texts", len(embs), len(texts))
	}
	return embs, nil
}

// buildQueryList puts the raw query first and appends distinct enhanced
// phrasings. An enhanced query inherits the request's book unless it
// names a narrower one.
func buildQueryList(query, book string, enhanced []EnhancedQuery) []EnhancedQuery {
	out := []EnhancedQuery{{Text: query, Book: book}}
	seen := map[string]bool{strings.ToLower(query) + "\x00" + book: true}
	for _, q := range enhanced {
		text := strings.TrimSpace(q.Text)
		if text == "" {
			continue
		}
		b := book
		if b == "" {
			b = q.Book
		}
		k := strings.ToLower(text) + "\x00" + b
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, EnhancedQuery{Text: text, Book: b})
	}
	return out
}

func degradedWarning(d []Degradation) string {
	if len(d) == 0 {
		return ""
	}
	parts := make([]string, 0, len(d))
	for _, x := range d {
		switch x {
		case QueryEnhancementDegraded:
			parts = append(parts, "query enhancement unavailable, searched with the original query only")
		case IntentResolutionDegraded:
			parts = append(parts, "intent classification unavailable, default search weights used")
		}
	}
	return strings.Join(parts, "; ")
}

func cacheKey(query, book string, topN int) string {
	h := sha256.Sum256([]byte(strings.ToLower(query) + "\x00" + book + "\x00" + strconv.Itoa(topN)))
	return hex.EncodeToString(h[:])
}

// --- Ranking stages ---

// DensePrefilter scores every chunk by cosine similarity to query and keeps
// the best k. Ties keep storage order. With fewer than k chunks, all are kept.
func DensePrefilter(query []float32, corpus []ChunkRecord, k int) []SearchCandidate {
	cands := make([]SearchCandidate, len(corpus))
	for i, c := range corpus {
		cands[i] = SearchCandidate{
			ChunkID:    c.ID,
			DenseScore: CosineSimilarity(query, c.Dense),
			seq:        c.Seq,
		}
	}
	sort.SliceStable(cands, func(i, j int) bool {
		return cands[i].DenseScore > cands[j].DenseScore
	})
	if k > 0 && len(cands) > k {
		cands = cands[:k]
	}
	return cands
}

// SparseRerank fills SparseScore for each candidate from the chunk's sparse
// representation. Chunks without one score 0.
func SparseRerank(cands []SearchCandidate, query map[string]float32, chunks map[string]ChunkRecord) {
	for i := range cands {
		cands[i].SparseScore = SparseScore(query, chunks[cands[i].ChunkID].Sparse)
	}
}

// Fuse computes FusedScore = dense·w.Dense + sparse·w.Sparse.
func Fuse(cands []SearchCandidate, w FusionWeights) {
	for i := range cands {
		cands[i].FusedScore = w.Dense*cands[i].DenseScore + w.Sparse*cands[i].SparseScore
	}
}

// UnionMax merges candidate sets by chunk id, keeping the candidate with the
// highest fused score for each chunk.
func UnionMax(sets [][]SearchCandidate) []SearchCandidate {
	best := make(map[string]int)
	var out []SearchCandidate
	for _, set := range sets {
		for _, c := range set {
			i, ok := best[c.ChunkID]
			if !ok {
				best[c.ChunkID] = len(out)
				out = append(out, c)
				continue
			}
			if c.FusedScore > out[i].FusedScore {
				out[i] = c
			}
		}
	}
	return out
}

// RankTop orders candidates by fused score, then dense score, then storage
// order, and returns the first n.
func RankTop(cands []SearchCandidate, n int) []SearchCandidate {
	sort.SliceStable(cands, func(i, j int) bool {
		a, b := cands[i], cands[j]
		if a.FusedScore != b.FusedScore {
			return a.FusedScore > b.FusedScore
		}
		if a.DenseScore != b.DenseScore {
			return a.DenseScore > b.DenseScore
		}
		return a.seq < b.seq
	})
	if n > 0 && len(cands) > n {
		cands = cands[:n]
	}
	return cands
}

// CosineSimilarity returns the cosine of the angle between a and b, or 0 when
// the lengths differ or either vector is zero.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// SparseScore is the weighted term overlap Σ q[t]·c[t] over shared terms,
// divided by the norms of both maps so the result lies in [0, 1] for
// non-negative weights.
func SparseScore(query, chunk map[string]float32) float64 {
	if len(query) == 0 || len(chunk) == 0 {
		return 0
	}
	small, large := query, chunk
	if len(small) > len(large) {
		small, large = large, small
	}
	var dot float64
	for term, w := range small {
		if cw, ok := large[term]; ok {
			dot += float64(w) * float64(cw)
		}
	}
	if dot == 0 {
		return 0
	}
	return dot / (sparseNorm(query) * sparseNorm(chunk))
}

func sparseNorm(m map[string]float32) float64 {
	var s float64
	for _, w := range m {
		s += float64(w) * float64(w)
	}
	return math.Sqrt(s)
}

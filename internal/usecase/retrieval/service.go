// Package retrieval answers assistant questions with knowledge-base snippets.
// It never fails the conversation: any error degrades to an empty result.
package retrieval

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"

	"github.com/pawrescue/kbengine/internal/domain"
	"github.com/pawrescue/kbengine/internal/domain/knowledge"
	"github.com/pawrescue/kbengine/internal/domain/search/filter"
	"github.com/pawrescue/kbengine/internal/domain/search/request"
	"github.com/pawrescue/kbengine/internal/domain/search/result"
	"github.com/pawrescue/kbengine/internal/logger"
	"github.com/pawrescue/kbengine/internal/metrics"
)

// Searcher runs similarity queries (the engine).
type Searcher interface {
	Search(ctx context.Context, q request.Query) ([]result.Result, error)
}

// Request is an assistant retrieval request. Zero TopK and nil MinScore fall
// back to the configured defaults.
type Request struct {
	Text      string   `json:"text"`
	AgentType string   `json:"agentType,omitempty"`
	Audience  []string `json:"audience,omitempty"`
	Category  string   `json:"category,omitempty"`
	TopK      int      `json:"topK,omitempty"`
	MinScore  *float64 `json:"minScore,omitempty"`
}

// Snippet is one retrieved knowledge entry.
type Snippet struct {
	ID       string  `json:"id"`
	Title    string  `json:"title"`
	Content  string  `json:"content"`
	Category string  `json:"category"`
	Score    float64 `json:"score"`
}

// Config holds orchestrator defaults.
type Config struct {
	TopK     int
	MinScore float64 // 0 disables the threshold
}

// Service is the knowledge retrieval orchestrator.
type Service struct {
	embedder domain.Embedder
	searcher Searcher
	cache    *expirable.LRU[string, []Snippet]
	cfg      Config
	logger   *zap.Logger
}

// NewCache builds the result cache. size <= 0 disables caching.
func NewCache(size int, ttl time.Duration) *expirable.LRU[string, []Snippet] {
	if size <= 0 {
		return nil
	}
	return expirable.NewLRU[string, []Snippet](size, nil, ttl)
}

// New creates the orchestrator. cache may be nil.
func New(
	embedder domain.Embedder, searcher Searcher,
	cache *expirable.LRU[string, []Snippet], cfg Config, l *zap.Logger,
) *Service {
	if cfg.TopK <= 0 {
		cfg.TopK = request.DefaultTopK
	}
	return &Service{embedder: embedder, searcher: searcher, cache: cache, cfg: cfg, logger: logger.Or(l)}
}

// Retrieve embeds the question, searches with the request's audience, agent
// and category constraints and returns snippets by descending score.
func (s *Service) Retrieve(ctx context.Context, req Request) []Snippet {
	req.Text = strings.TrimSpace(req.Text)
	if req.Text == "" {
		metrics.RetrievalRequestsTotal.WithLabelValues("empty").Inc()
		return []Snippet{}
	}

	key := s.cacheKey(&req)
	if s.cache != nil {
		if cached, ok := s.cache.Get(key); ok {
			metrics.RetrievalCacheTotal.WithLabelValues("hit").Inc()
			metrics.RetrievalRequestsTotal.WithLabelValues(outcome(cached)).Inc()
			return slices.Clone(cached)
		}
		metrics.RetrievalCacheTotal.WithLabelValues("miss").Inc()
	}

	snippets, err := s.retrieve(ctx, &req)
	if err != nil {
		metrics.RetrievalRequestsTotal.WithLabelValues("degraded").Inc()
		s.logger.Warn("Knowledge retrieval degraded",
			zap.String("agent_type", req.AgentType),
			zap.String("kind", domain.Kind(err)),
			zap.Error(err),
		)
		return []Snippet{}
	}

	if s.cache != nil {
		s.cache.Add(key, slices.Clone(snippets))
	}
	metrics.RetrievalRequestsTotal.WithLabelValues(outcome(snippets)).Inc()
	return snippets
}

func (s *Service) retrieve(ctx context.Context, req *Request) ([]Snippet, error) {
	f, err := buildFilter(req)
	if err != nil {
		return nil, err
	}

	emb, err := s.embedder.Embed(ctx, req.Text)
	if err != nil {
		return nil, fmt.Errorf("embed question: %w", err)
	}
	domain.UsageFromContext(ctx).AddTokens(emb.TotalTokens)

	topK := req.TopK
	if topK <= 0 {
		topK = s.cfg.TopK
	}
	minScore := req.MinScore
	if minScore == nil && s.cfg.MinScore > 0 {
		minScore = &s.cfg.MinScore
	}
	q, err := request.New(emb.Embedding, topK, f, minScore)
	if err != nil {
		return nil, fmt.Errorf("build query: %w: %w", err, domain.ErrValidation)
	}

	rs, err := s.searcher.Search(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("search knowledge: %w", err)
	}

	out := make([]Snippet, 0, len(rs))
	for i := range rs {
		doc := rs[i].Document()
		title, body := knowledge.SplitEmbeddingText(doc.Content())
		out = append(out, Snippet{
			ID:       rs[i].ID(),
			Title:    title,
			Content:  body,
			Category: doc.Metadata().Category,
			Score:    rs[i].Score(),
		})
	}
	return out, nil
}

func buildFilter(req *Request) (filter.Filter, error) {
	var opts []filter.Option
	if len(req.Audience) > 0 {
		opts = append(opts, filter.WithAudience(req.Audience...))
	}
	if req.AgentType != "" {
		opts = append(opts, filter.WithTags(knowledge.AgentTag(req.AgentType)))
	}
	if req.Category != "" {
		opts = append(opts, filter.WithCategory(req.Category))
	}
	f, err := filter.New(opts...)
	if err != nil {
		return filter.Filter{}, fmt.Errorf("build filter: %w: %w", err, domain.ErrValidation)
	}
	return f, nil
}

// cacheKey identifies a request after defaults are applied. Audience order
// does not matter.
func (s *Service) cacheKey(req *Request) string {
	aud := slices.Clone(req.Audience)
	slices.Sort(aud)

	topK := req.TopK
	if topK <= 0 {
		topK = s.cfg.TopK
	}
	minScore := s.cfg.MinScore
	if req.MinScore != nil {
		minScore = *req.MinScore
	}

	var b strings.Builder
	for _, part := range []string{
		req.Text,
		req.AgentType,
		strings.Join(aud, ","),
		req.Category,
		strconv.Itoa(topK),
		strconv.FormatFloat(minScore, 'g', -1, 64),
	} {
		b.WriteString(part)
		b.WriteByte(0)
	}
	return b.String()
}

func outcome(snippets []Snippet) string {
	if len(snippets) == 0 {
		return "empty"
	}
	return "hit"
}

// FormatContext renders snippets as a context block for the assistant prompt.
// No snippets yields an empty string.
func FormatContext(snippets []Snippet) string {
	if len(snippets) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Relevant knowledge base entries:\n")
	for i, sn := range snippets {
		b.WriteString("\n[")
		b.WriteString(strconv.Itoa(i + 1))
		b.WriteString("] ")
		if sn.Title != "" {
			b.WriteString(sn.Title)
		} else {
			b.WriteString(sn.ID)
		}
		if sn.Category != "" {
			b.WriteString(" (")
			b.WriteString(sn.Category)
			b.WriteString(")")
		}
		b.WriteByte('\n')
		b.WriteString(strings.TrimSpace(sn.Content))
		b.WriteByte('\n')
	}
	return b.String()
}

package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/kirillkom/docs-assistant/internal/core/domain"
	"github.com/kirillkom/docs-assistant/internal/core/ports"
)

const (
	defaultTopK                = 5
	defaultCandidates          = 20
	defaultRerankMaxDocs       = 20
	defaultConfidenceThreshold = 0.3
	defaultMaxQueryChars       = 2000
	maxLimit                   = 50
)

// RetrievalUseCase is the retrieval orchestrator:
// classify, retrieve, fuse, rerank, confidence gate.
type RetrievalUseCase struct {
	classifier ports.QueryClassifier
	embedder   ports.Embedder
	vectors    ports.VectorStore
	keyword    ports.KeywordSearcher
	reranker   *Reranker
	settings   domain.RetrievalSettings
	now        func() time.Time
}

func NewRetrievalUseCase(
	classifier ports.QueryClassifier,
	embedder ports.Embedder,
	vectors ports.VectorStore,
	keyword ports.KeywordSearcher,
	reranker *Reranker,
	settings domain.RetrievalSettings,
) *RetrievalUseCase {
	if settings.TopK <= 0 {
		settings.TopK = defaultTopK
	}
	if settings.Candidates <= 0 {
		settings.Candidates = defaultCandidates
	}
	if settings.Candidates < settings.TopK {
		settings.Candidates = settings.TopK
	}
	if settings.Fusion == "" {
		settings.Fusion = domain.FusionRRF
	}
	if settings.RRFK <= 0 {
		settings.RRFK = DefaultRRFK
	}
	if settings.SemanticWeight <= 0 && settings.KeywordWeight <= 0 {
		settings.SemanticWeight = DefaultSemanticWeight
		settings.KeywordWeight = DefaultKeywordWeight
	}
	if settings.RerankMaxDocs <= 0 {
		settings.RerankMaxDocs = defaultRerankMaxDocs
	}
	if settings.ConfidenceThreshold <= 0 {
		settings.ConfidenceThreshold = defaultConfidenceThreshold
	}
	if settings.RerankConfidenceThreshold <= 0 {
		settings.RerankConfidenceThreshold = defaultConfidenceThreshold
	}
	if settings.MaxQueryChars <= 0 {
		settings.MaxQueryChars = defaultMaxQueryChars
	}
	if reranker == nil {
		reranker = NewReranker(nil)
	}

	return &RetrievalUseCase{
		classifier: classifier,
		embedder:   embedder,
		vectors:    vectors,
		keyword:    keyword,
		reranker:   reranker,
		settings:   settings,
		now:        time.Now,
	}
}

// retrievalPlan carries the BM25 ceiling of the keyword results so the gate
// can calibrate keyword scores.
type retrievalPlan struct {
	query          domain.ClassifiedQuery
	strategy       domain.Strategy
	limit          int
	degraded       domain.Degradation
	keywordCeiling float64
}

func (uc *RetrievalUseCase) Retrieve(ctx context.Context, req domain.QueryRequest) (*domain.RetrievalOutcome, error) {
	started := uc.now()

	plan, err := uc.plan(req)
	if err != nil {
		return nil, err
	}

	semantic, keyword, err := uc.retrieve(ctx, plan)
	if err != nil {
		return nil, err
	}
	if len(keyword) > 0 {
		plan.keywordCeiling = keyword[0].Ceiling
	}

	fused := uc.fuse(plan, semantic, keyword)
	outcome := &domain.RetrievalOutcome{
		Query:    plan.query,
		Strategy: plan.strategy,
		Degraded: plan.degraded,
	}
	uc.rerankAndPackage(ctx, plan, fused, outcome)
	uc.gate(plan, req.Threshold, outcome)
	outcome.Duration = uc.now().Sub(started)
	return outcome, nil
}

// plan validates the request, classifies it and resolves the strategy.
// Failures here are rejected before any retrieval work.
func (uc *RetrievalUseCase) plan(req domain.QueryRequest) (retrievalPlan, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return retrievalPlan{}, domain.WrapError(domain.ErrInvalidInput, "retrieve", errors.New("query is empty"))
	}
	if n := utf8.RuneCountInString(query); n > uc.settings.MaxQueryChars {
		return retrievalPlan{}, domain.WrapError(domain.ErrInvalidInput, "retrieve", fmt.Errorf("query has %d characters, limit is %d", n, uc.settings.MaxQueryChars))
	}
	requested, ok := domain.ParseStrategy(string(req.Strategy))
	if !ok {
		return retrievalPlan{}, domain.WrapError(domain.ErrInvalidInput, "retrieve", fmt.Errorf("unknown strategy %q", req.Strategy))
	}
	limit := req.Limit
	if limit <= 0 {
		limit = uc.settings.TopK
	}
	if limit > maxLimit {
		limit = maxLimit
	}

	classified := uc.classifier.Classify(query)
	strategy := classified.Strategy
	if requested != domain.StrategyAuto {
		strategy = requested
	}
	if strategy == "" || strategy == domain.StrategyAuto {
		strategy = domain.StrategyHybrid
	}

	plan := retrievalPlan{query: classified, strategy: strategy, limit: limit}
	if strategy != domain.StrategySemantic && !uc.keywordReady() {
		plan.strategy = domain.StrategySemantic
		plan.degraded.KeywordUnavailable = true
		plan.degraded.SemanticOnly = true
	}
	return plan, nil
}

func (uc *RetrievalUseCase) keywordReady() bool {
	return uc.keyword != nil && uc.keyword.Ready()
}

// retrieve runs the semantic and keyword sides concurrently.
func (uc *RetrievalUseCase) retrieve(ctx context.Context, plan retrievalPlan) ([]domain.RetrievalResult, []domain.KeywordResult, error) {
	var (
		semantic []domain.RetrievalResult
		keyword  []domain.KeywordResult
	)
	g, gctx := errgroup.WithContext(ctx)
	if plan.strategy != domain.StrategyKeyword {
		g.Go(func() error {
			results, err := uc.semanticSearch(gctx, plan.query.Expanded)
			if err != nil {
				return err
			}
			semantic = results
			return nil
		})
	}
	if plan.strategy != domain.StrategySemantic {
		g.Go(func() error {
			keyword = uc.keywordSearch(plan.query)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return semantic, keyword, nil
}

func (uc *RetrievalUseCase) semanticSearch(ctx context.Context, text string) ([]domain.RetrievalResult, error) {
	vector, err := uc.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, upstreamError("embed query", err)
	}
	results, err := uc.vectors.Query(ctx, vector, uc.settings.Candidates)
	if err != nil {
		return nil, upstreamError("query vector store", err)
	}
	return results, nil
}

// keywordSearch uses proximity scoring for lookups, where exact phrasing
// matters, and bag-of-words over the extracted keywords otherwise.
func (uc *RetrievalUseCase) keywordSearch(query domain.ClassifiedQuery) []domain.KeywordResult {
	if query.Intent == domain.IntentLookup {
		return uc.keyword.SearchPhrase(query.Original, uc.settings.Candidates)
	}
	text := strings.Join(query.Keywords, " ")
	if text == "" {
		text = query.Original
	}
	return uc.keyword.Search(text, uc.settings.Candidates)
}

func (uc *RetrievalUseCase) chunkLookup() ChunkLookup {
	if uc.keyword == nil {
		return nil
	}
	return uc.keyword.Chunk
}

func (uc *RetrievalUseCase) fuse(plan retrievalPlan, semantic []domain.RetrievalResult, keyword []domain.KeywordResult) []domain.FusedResult {
	var fused []domain.FusedResult
	switch plan.strategy {
	case domain.StrategySemantic, domain.StrategyKeyword:
		fused = singleSource(semantic, keyword, uc.chunkLookup())
	default:
		if uc.settings.Fusion == domain.FusionWeighted {
			fused = WeightedScoreFusion(semantic, keyword, uc.chunkLookup(), uc.settings.SemanticWeight, uc.settings.KeywordWeight)
		} else {
			fused = ReciprocalRankFusion(semantic, keyword, uc.chunkLookup(), uc.settings.RRFK)
		}
	}
	return trimFused(fused, uc.settings.Candidates)
}

// singleSource keeps raw scores when only one retriever ran.
func singleSource(semantic []domain.RetrievalResult, keyword []domain.KeywordResult, lookup ChunkLookup) []domain.FusedResult {
	raw := func(_ int, score float64) float64 { return score }
	acc := newFusionAccumulator(len(semantic) + len(keyword))
	acc.addSemantic(semantic, raw)
	acc.addKeyword(keyword, raw)
	return acc.results(lookup)
}

func (uc *RetrievalUseCase) rerankAndPackage(ctx context.Context, plan retrievalPlan, fused []domain.FusedResult, outcome *domain.RetrievalOutcome) {
	if len(fused) == 0 {
		outcome.Passages = []domain.Passage{}
		return
	}
	if !uc.settings.RerankEnabled {
		outcome.Passages = passagesFromFused(trimFused(fused, plan.limit))
		return
	}

	shortlist := trimFused(fused, uc.settings.RerankMaxDocs)
	docs := make([]domain.RerankDocument, len(shortlist))
	for i, f := range shortlist {
		docs[i] = domain.RerankDocument{ID: f.ID, Content: f.Chunk.Title + "\n" + f.Chunk.Content}
	}
	results, fellBack := uc.reranker.Rerank(ctx, plan.query.Original, docs, plan.limit)
	if fellBack {
		outcome.Degraded.RerankFallback = true
		outcome.Passages = passagesFromFused(trimFused(fused, plan.limit))
		return
	}

	outcome.Reranked = true
	outcome.Passages = make([]domain.Passage, 0, len(results))
	for i, r := range results {
		outcome.Passages = append(outcome.Passages, domain.Passage{
			Chunk: shortlist[r.OriginalRank].Chunk,
			Score: r.RelevanceScore,
			Rank:  i + 1,
		})
	}
}

func passagesFromFused(fused []domain.FusedResult) []domain.Passage {
	out := make([]domain.Passage, 0, len(fused))
	for i, f := range fused {
		out = append(out, domain.Passage{Chunk: f.Chunk, Score: f.FusedScore, Rank: i + 1})
	}
	return out
}

// gate compares the top score, calibrated to [0,1] for the scale it came
// from, against the threshold. Low confidence never drops passages.
func (uc *RetrievalUseCase) gate(plan retrievalPlan, override *float64, outcome *domain.RetrievalOutcome) {
	threshold := uc.settings.ConfidenceThreshold
	switch {
	case outcome.Reranked:
		outcome.Scale = domain.ScaleRerank
		threshold = uc.settings.RerankConfidenceThreshold
	case plan.strategy == domain.StrategySemantic:
		outcome.Scale = domain.ScaleSemantic
	case plan.strategy == domain.StrategyKeyword:
		outcome.Scale = domain.ScaleBM25
	case uc.settings.Fusion == domain.FusionWeighted:
		outcome.Scale = domain.ScaleWeighted
	default:
		outcome.Scale = domain.ScaleRRF
	}
	if override != nil {
		threshold = *override
	}

	if len(outcome.Passages) == 0 {
		outcome.LowConfidence = true
		return
	}
	outcome.TopScore = outcome.Passages[0].Score
	outcome.Confidence = uc.calibrate(outcome.Scale, outcome.TopScore, plan.keywordCeiling)
	outcome.LowConfidence = outcome.Confidence < threshold
}

// calibrate maps a BM25 score onto the fraction of the query's reachable
// score when the ceiling is known, and squashes it otherwise.
func (uc *RetrievalUseCase) calibrate(scale domain.ScoreScale, score, bm25Ceiling float64) float64 {
	var c float64
	switch scale {
	case domain.ScaleRRF:
		c = score / (2.0 / float64(uc.settings.RRFK+1))
	case domain.ScaleBM25:
		switch {
		case score <= 0:
		case bm25Ceiling > 0:
			c = score / bm25Ceiling
		default:
			c = score / (score + 1)
		}
	default:
		c = score
	}
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

// upstreamError keeps an existing error kind and marks everything else as an
// upstream failure.
func upstreamError(op string, err error) error {
	if domain.IsKind(err, domain.ErrTemporary) || domain.IsKind(err, domain.ErrUpstream) ||
		domain.IsKind(err, domain.ErrConfiguration) || errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return domain.WrapError(domain.ErrUpstream, op, err)
}

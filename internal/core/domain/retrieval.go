package domain

import "time"

type Intent string

const (
	IntentLookup          Intent = "lookup"
	IntentConceptual      Intent = "conceptual"
	IntentTroubleshooting Intent = "troubleshooting"
	IntentComparison      Intent = "comparison"
)

type Strategy string

const (
	StrategyAuto     Strategy = "auto"
	StrategySemantic Strategy = "semantic"
	StrategyKeyword  Strategy = "keyword"
	StrategyHybrid   Strategy = "hybrid"
)

// ParseStrategy maps caller input to a Strategy. Empty input means auto.
func ParseStrategy(raw string) (Strategy, bool) {
	switch Strategy(raw) {
	case "", StrategyAuto:
		return StrategyAuto, true
	case StrategySemantic, StrategyKeyword, StrategyHybrid:
		return Strategy(raw), true
	default:
		return "", false
	}
}

type FusionMethod string

const (
	FusionRRF      FusionMethod = "rrf"
	FusionWeighted FusionMethod = "weighted"
)

// ClassifiedQuery is derived once per query. Original is kept untouched for
// display and logging; Expanded feeds the semantic retriever.
type ClassifiedQuery struct {
	Original string   `json:"original"`
	Expanded string   `json:"expanded"`
	Intent   Intent   `json:"intent"`
	Strategy Strategy `json:"strategy"`
	Keywords []string `json:"keywords"`
}

// RetrievalResult is one semantic hit. Score is a similarity in [0,1].
type RetrievalResult struct {
	ChunkID string  `json:"chunk_id"`
	Score   float64 `json:"score"`
	Chunk   *Chunk  `json:"chunk,omitempty"`
}

// KeywordResult is one BM25 hit. Ceiling is the highest score the query could reach in the index it was
// scored against; zero when unknown.
type KeywordResult struct {
	ChunkID string  `json:"chunk_id"`
	Score   float64 `json:"score"`
	Ceiling float64 `json:"ceiling,omitempty"`
}

// FusedResult is the normalized record produced by fusion. A nil rank/score
// means the chunk was absent from that source list.
type FusedResult struct {
	ID            string   `json:"id"`
	Chunk         Chunk    `json:"chunk"`
	SemanticRank  *int     `json:"semantic_rank,omitempty"`
	SemanticScore *float64 `json:"semantic_score,omitempty"`
	KeywordRank   *int     `json:"keyword_rank,omitempty"`
	KeywordScore  *float64 `json:"keyword_score,omitempty"`
	FusedScore    float64  `json:"fused_score"`
}

type RerankDocument struct {
	ID      string `json:"id"`
	Content string `json:"content"`
}

type RerankResult struct {
	ID             string  `json:"id"`
	Content        string  `json:"content"`
	RelevanceScore float64 `json:"relevance_score"`
	OriginalRank   int     `json:"original_rank"`
}

// Degradation makes every fallback taken during retrieval observable.
// SemanticOnly is set when a keyword or hybrid request ran without the
// keyword side.
type Degradation struct {
	RerankFallback     bool `json:"rerank_fallback"`
	KeywordUnavailable bool `json:"keyword_unavailable"`
	SemanticOnly       bool `json:"semantic_only"`
}

func (d Degradation) Any() bool {
	return d.RerankFallback || d.KeywordUnavailable || d.SemanticOnly
}

// Passage is a final retrieved passage handed to answer generation.
type Passage struct {
	Chunk Chunk   `json:"chunk"`
	Score float64 `json:"score"`
	Rank  int     `json:"rank"`
}

type ScoreScale string

const (
	ScaleRerank   ScoreScale = "rerank"
	ScaleRRF      ScoreScale = "rrf"
	ScaleWeighted ScoreScale = "weighted"
	ScaleSemantic ScoreScale = "semantic"
	ScaleBM25     ScoreScale = "bm25"
)

type RetrievalOutcome struct {
	Query         ClassifiedQuery `json:"query"`
	Strategy      Strategy        `json:"strategy"`
	Passages      []Passage       `json:"passages"`
	TopScore      float64         `json:"top_score"`
	Confidence    float64         `json:"confidence"`
	Scale         ScoreScale      `json:"scale"`
	LowConfidence bool            `json:"low_confidence"`
	Reranked      bool            `json:"reranked"`
	Degraded      Degradation     `json:"degraded"`
	Duration      time.Duration   `json:"duration"`
}

// Empty reports the valid terminal state where nothing relevant was found.
func (o *RetrievalOutcome) Empty() bool {
	return o == nil || len(o.Passages) == 0
}

type QueryRequest struct {
	Query     string   `json:"query"`
	Limit     int      `json:"limit"`
	Strategy  Strategy `json:"strategy"`
	Threshold *float64 `json:"threshold,omitempty"`
}

type Answer struct {
	QueryID       string      `json:"query_id"`
	Text          string      `json:"text"`
	Sources       []Passage   `json:"sources"`
	Strategy      Strategy    `json:"strategy"`
	Intent        Intent      `json:"intent"`
	LowConfidence bool        `json:"low_confidence"`
	NoResults     bool        `json:"no_results"`
	Degraded      Degradation `json:"degraded"`
}

type QueryLogEntry struct {
	ID            string    `json:"id"`
	Query         string    `json:"query"`
	Intent        Intent    `json:"intent"`
	Strategy      Strategy  `json:"strategy"`
	TopScore      float64   `json:"top_score"`
	LowConfidence bool      `json:"low_confidence"`
	ResultCount   int       `json:"result_count"`
	LatencyMS     int64     `json:"latency_ms"`
	CreatedAt     time.Time `json:"created_at"`
}

type Feedback struct {
	QueryID   string    `json:"query_id"`
	Helpful   bool      `json:"helpful"`
	Comment   string    `json:"comment,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// RetrievalSettings tune the retrieval orchestrator.
type RetrievalSettings struct {
	TopK                      int
	Candidates                int
	Fusion                    FusionMethod
	RRFK                      int
	SemanticWeight            float64
	KeywordWeight             float64
	RerankEnabled             bool
	RerankMaxDocs             int
	ConfidenceThreshold       float64
	RerankConfidenceThreshold float64
	MaxQueryChars             int
}

// Package queryclass classifies documentation queries by intent, picks a
// default retrieval strategy and expands known abbreviations.
package queryclass

import (
	"regexp"
	"slices"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/kirillkom/docs-assistant/internal/core/domain"
	"github.com/kirillkom/docs-assistant/internal/infrastructure/lexical"
)

const DefaultCacheSize = 4096

var wordPattern = regexp.MustCompile(`[A-Za-z0-9_]+`)

// Classifier is a pure pattern classifier with an LRU cache in front.
type Classifier struct {
	synonyms Synonyms
	cache    *lru.Cache[string, domain.ClassifiedQuery]
}

func New(synonyms Synonyms, cacheSize int) *Classifier {
	if synonyms == nil {
		synonyms = DefaultSynonyms()
	}
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	cache, _ := lru.New[string, domain.ClassifiedQuery](cacheSize)
	return &Classifier{synonyms: synonyms, cache: cache}
}

func (c *Classifier) Classify(query string) domain.ClassifiedQuery {
	if cached, ok := c.cache.Get(query); ok {
		return clone(cached)
	}
	result := c.classify(query)
	c.cache.Add(query, result)
	return clone(result)
}

func (c *Classifier) classify(query string) domain.ClassifiedQuery {
	intent := DetectIntent(query)
	return domain.ClassifiedQuery{
		Original: query,
		Expanded: c.Expand(query),
		Intent:   intent,
		Strategy: StrategyFor(intent, HasCodeReference(query)),
		Keywords: ExtractKeywords(query),
	}
}

// DetectIntent applies the pattern families in precedence order. Queries
// matching nothing are lookups when short and conceptual otherwise.
func DetectIntent(query string) domain.Intent {
	switch {
	case matchesAny(troubleshootingPatterns, query):
		return domain.IntentTroubleshooting
	case matchesAny(comparisonPatterns, query):
		return domain.IntentComparison
	case matchesAny(lookupPatterns, query):
		return domain.IntentLookup
	case matchesAny(conceptualPatterns, query):
		return domain.IntentConceptual
	}
	if len(strings.Fields(query)) <= 3 {
		return domain.IntentLookup
	}
	return domain.IntentConceptual
}

func HasCodeReference(query string) bool {
	return matchesAny(codeReferencePatterns, query)
}

func StrategyFor(intent domain.Intent, codeReference bool) domain.Strategy {
	switch intent {
	case domain.IntentLookup:
		if codeReference {
			return domain.StrategyKeyword
		}
		return domain.StrategyHybrid
	case domain.IntentConceptual, domain.IntentComparison:
		return domain.StrategySemantic
	default:
		return domain.StrategyHybrid
	}
}

// ExtractKeywords returns backticked spans verbatim followed by lowercase
// tokens longer than two characters, deduplicated case-insensitively in
// first-seen order.
func ExtractKeywords(query string) []string {
	seen := make(map[string]struct{})
	out := make([]string, 0)
	add := func(keyword string) {
		key := strings.ToLower(keyword)
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		out = append(out, keyword)
	}

	for _, m := range backtickSpan.FindAllStringSubmatch(query, -1) {
		if span := strings.TrimSpace(m[1]); span != "" {
			add(span)
		}
	}
	for _, token := range lexical.Tokenize(query) {
		if len(token) <= 2 {
			continue
		}
		add(token)
	}
	return out
}

// Expand appends the primary long form of every abbreviation that occurs
// as a whole word. The original text is kept as the prefix.
func (c *Classifier) Expand(query string) string {
	lower := strings.ToLower(query)
	var additions []string
	for _, word := range wordPattern.FindAllString(lower, -1) {
		long, ok := c.synonyms.primary(word)
		if !ok {
			continue
		}
		long = strings.ToLower(long)
		if strings.Contains(lower, long) || slices.Contains(additions, long) {
			continue
		}
		additions = append(additions, long)
	}
	if len(additions) == 0 {
		return query
	}
	return query + " " + strings.Join(additions, " ")
}

func clone(q domain.ClassifiedQuery) domain.ClassifiedQuery {
	q.Keywords = slices.Clone(q.Keywords)
	return q
}

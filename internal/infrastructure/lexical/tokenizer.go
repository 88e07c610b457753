// Package lexical implements the keyword side of retrieval: tokenization, the
// inverted term index, Okapi BM25 scoring with phrase proximity, and the
// serialized form of the index.
package lexical

import (
	"regexp"
	"strings"
)

// nonTokenChars matches everything that is not a word character, whitespace or hyphen.
var nonTokenChars = regexp.MustCompile(`[^\w\s-]`)

var stopWords = buildStopWords(
	"a", "about", "after", "all", "also", "an", "and", "any", "are", "as",
	"at", "be", "because", "been", "but", "by", "can", "could", "did", "do",
	"does", "for", "from", "had", "has", "have", "he", "her", "his", "how",
	"if", "in", "into", "is", "it", "its", "just", "may", "me", "more",
	"my", "no", "not", "of", "on", "or", "our", "out", "she", "should",
	"so", "some", "than", "that", "the", "their", "them", "then", "there", "these",
	"they", "this", "to", "up", "was", "we", "were", "what", "when", "which",
	"who", "will", "with", "would", "you", "your",
)

func buildStopWords(words ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}

// IsStopWord reports whether the lowercase token is ignored by the index.
func IsStopWord(token string) bool {
	_, ok := stopWords[token]
	return ok
}

// Tokenize lowercases text, strips punctuation except hyphens and underscores,
// and drops single-character tokens and stop words. Output order is the token
// order in the text, so slice indexes are token positions.
func Tokenize(text string) []string {
	if text == "" {
		return nil
	}
	cleaned := nonTokenChars.ReplaceAllString(strings.ToLower(text), " ")
	fields := strings.Fields(cleaned)
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		if len(f) <= 1 {
			continue
		}
		if IsStopWord(f) {
			continue
		}
		tokens = append(tokens, f)
	}
	return tokens
}

package queryclass

import "regexp"

var (
	troubleshootingPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(errors?|exceptions?|bugs?|crash(es|ed|ing)?|panics?|fail(s|ed|ing|ure|ures)?|broken|fix(es|ed|ing)?|issues?|problems?|stuck|hangs?|timeouts?|troubleshoot\w*|debug\w*)\b`),
		regexp.MustCompile(`(?i)\b(not working|doesn'?t work|does not work|won'?t start|can'?t connect|cannot connect|unable to)\b`),
	}

	comparisonPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(vs|versus|compared? to|comparison|better than|alternatives? to)\b`),
		regexp.MustCompile(`(?i)\bdifferences? between\b`),
		regexp.MustCompile(`(?i)^\s*which\b`),
		regexp.MustCompile(`(?i)\bwhich\b.*\b(one|better|best|should|use|choose|prefer|faster)\b`),
		regexp.MustCompile(`(?i)\bpros\s*(and|&|/)\s*cons\b`),
	}

	// codeReferencePatterns mark queries that name concrete code or files.
	codeReferencePatterns = []*regexp.Regexp{
		regexp.MustCompile("`[^`]+`"),
		regexp.MustCompile(`(?i)\b[\w./-]+\.(go|ts|tsx|js|jsx|py|rb|java|rs|md|json|ya?ml|toml|ini|env|conf|sh|sql)\b`),
		regexp.MustCompile(`\b(func|function|def|class|interface|type|const|var|let|struct|enum)\s+[A-Za-z_]\w*`),
		regexp.MustCompile(`\b[A-Za-z_]\w*\(\)`),
		regexp.MustCompile(`\b[A-Z][A-Z0-9]*(_[A-Z0-9]+)+\b`),
		regexp.MustCompile(`\b[a-z]+([A-Z][a-z0-9]+)+\b`),
		regexp.MustCompile(`(^|\s)--?[a-z][\w-]*`),
	}

	lookupPatterns = append([]*regexp.Regexp{
		regexp.MustCompile(`(?i)^\s*(find|locate|where (is|are|do|does)|show me|list)\b`),
		regexp.MustCompile(`(?i)\b(default value|signature|parameters? of|endpoint for|flag for|env(ironment)? var(iable)? for)\b`),
	}, codeReferencePatterns...)

	conceptualPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)^\s*(how|what|why|when|explain|describe|tell me about)\b`),
		regexp.MustCompile(`(?i)\b(overview|getting started|introduction|intro to|concepts?|architecture|tutorial|guide|best practices?)\b`),
	}

	backtickSpan = regexp.MustCompile("`([^`]+)`")
)

func matchesAny(patterns []*regexp.Regexp, query string) bool {
	for _, p := range patterns {
		if p.MatchString(query) {
			return true
		}
	}
	return false
}

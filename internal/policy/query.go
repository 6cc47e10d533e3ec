package policy

import (
	"fmt"
	"regexp"
	"strings"
)

// MaxJoins bounds statement complexity.
const MaxJoins = 3

var forbiddenQueryKeywords = []string{
	"DROP", "DELETE", "INSERT", "UPDATE", "CREATE", "ALTER", "TRUNCATE",
	"ATTACH", "DETACH", "PRAGMA",
}

var (
	selectPrefixPattern = regexp.MustCompile(`(?i)^select\b`)
	fromPattern         = regexp.MustCompile(`(?i)\bfrom\b`)
	unionSelectPattern  = regexp.MustCompile(`(?i)\bunion\b(?:\s+all)?\s+select\b`)
	joinPattern         = regexp.MustCompile(`(?i)\bjoin\b`)
	timeDelayPatterns   = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(?:sleep|pg_sleep|benchmark|delay)\s*\(`),
		regexp.MustCompile(`(?i)\bwaitfor\s+delay\b`),
	}
	keywordPatterns = compileKeywordPatterns(forbiddenQueryKeywords)
)

func compileKeywordPatterns(keywords []string) map[string]*regexp.Regexp {
	out := make(map[string]*regexp.Regexp, len(keywords))
	for _, kw := range keywords {
		out[kw] = regexp.MustCompile(`(?i)\b` + kw + `\b`)
	}
	return out
}

// ValidateQuery checks a generated query statement. The returned reason is
// meant to be shown to the user as-is.
func ValidateQuery(statement string) Decision {
	stmt := strings.TrimSpace(statement)
	if stmt == "" {
		return reject("empty", "query is empty")
	}
	if !selectPrefixPattern.MatchString(stmt) {
		return reject("select_only", "only SELECT queries are allowed")
	}
	if !fromPattern.MatchString(stmt) {
		return reject("missing_from", "query must include a FROM clause")
	}
	for _, kw := range forbiddenQueryKeywords {
		if keywordPatterns[kw].MatchString(stmt) {
			return reject("forbidden_keyword", "query contains forbidden keyword: "+kw)
		}
	}
	if unionSelectPattern.MatchString(stmt) {
		return reject("union_select", "UNION SELECT patterns are not allowed")
	}
	if n := len(joinPattern.FindAllStringIndex(stmt, -1)); n > MaxJoins {
		return reject("too_many_joins", fmt.Sprintf("query uses %d JOINs, at most %d are allowed", n, MaxJoins))
	}
	for _, re := range timeDelayPatterns {
		if re.MatchString(stmt) {
			return reject("time_delay", "time-delay functions are not allowed")
		}
	}
	if strings.Contains(stmt, "--") || strings.Contains(stmt, "/*") || strings.Contains(stmt, "*/") {
		return reject("comment", "SQL comments are not allowed")
	}
	if strings.Contains(strings.TrimRight(stmt, "; \t\r\n"), ";") {
		return reject("multiple_statements", "multiple statements are not allowed")
	}
	return accept()
}

package chains

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	fencePattern    = regexp.MustCompile("(?i)```(?:sqlite|sql)?")
	limitPattern    = regexp.MustCompile(`(?i)\blimit\s+\d+`)
	wildcardPattern = regexp.MustCompile(`(?i)\bselect\s+(?:distinct\s+)?(?:\w+\.)?\*`)
	labelPattern    = regexp.MustCompile(`(?i)^(?:sql query|sql|query|response)\s*:\s*`)

	referencePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(?:that|previous|last)\s+query\b`),
		regexp.MustCompile(`(?i)\brun\s+(?:that|it)\s+again\b`),
		regexp.MustCompile(`(?i)\bsame\s+(?:query|thing)\b`),
		regexp.MustCompile(`(?i)\brepeat\b`),
	}
)

// CleanStatement strips code fences and labels, collapses whitespace and
// terminates the statement with a semicolon.
func CleanStatement(raw string) string {
	s := fencePattern.ReplaceAllString(raw, " ")
	s = strings.Join(strings.Fields(s), " ")
	s = labelPattern.ReplaceAllString(s, "")
	s = strings.TrimSpace(strings.Trim(s, "`"))
	if s == "" {
		return ""
	}
	s = strings.TrimRight(s, "; ")
	return s + ";"
}

// EnsureLimit appends a LIMIT clause when the statement has none.
func EnsureLimit(statement string, limit int) string {
	if statement == "" || limitPattern.MatchString(statement) {
		return statement
	}
	base := strings.TrimRight(strings.TrimSpace(statement), "; ")
	return fmt.Sprintf("%s LIMIT %d;", base, limit)
}

// HasWildcardSelect reports a SELECT * or SELECT t.* column list.
func HasWildcardSelect(statement string) bool {
	return wildcardPattern.MatchString(statement)
}

// IsReference reports whether the request points at a previously run query.
func IsReference(request string) bool {
	for _, p := range referencePatterns {
		if p.MatchString(request) {
			return true
		}
	}
	return false
}

func isNotApplicable(raw string) bool {
	s := strings.ToUpper(strings.Trim(CleanStatement(raw), "; ."))
	return s == NotApplicableMarker
}

// SuggestRelated returns up to three follow-up requests for a statement.
func SuggestRelated(statement string) []string {
	lower := strings.ToLower(statement)
	var out []string
	if strings.Contains(lower, "processes") {
		out = append(out,
			"Show processes using the most CPU",
			"Show processes using the most memory",
			"Show processes with open network connections",
		)
	}
	if strings.Contains(lower, "listening_ports") {
		out = append(out,
			"Show active network connections",
			"Show processes listening on privileged ports (< 1024)",
			"Show all network-related processes",
		)
	}
	if strings.Contains(lower, "users") {
		out = append(out,
			"Show currently logged in users",
			"Show users with sudo privileges",
			"Show user login history",
		)
	}
	if len(out) > 3 {
		out = out[:3]
	}
	return out
}

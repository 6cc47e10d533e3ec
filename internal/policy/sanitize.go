package policy

import "strings"

var sensitiveColumnMarkers = []string{
	"password", "passwd", "secret", "key", "token", "credential", "cookie", "private",
}

// IsSensitiveColumn reports whether a result column name looks like it holds
// secret material.
func IsSensitiveColumn(name string) bool {
	lower := strings.ToLower(name)
	for _, marker := range sensitiveColumnMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// SanitizeRows returns copies of rows with sensitive columns removed. Each
// row is cleaned on its own, so rows with different shapes are all handled.
func SanitizeRows(rows []map[string]any) []map[string]any {
	if rows == nil {
		return nil
	}
	out := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		clean := make(map[string]any, len(row))
		for k, v := range row {
			if IsSensitiveColumn(k) {
				continue
			}
			clean[k] = v
		}
		out = append(out, clean)
	}
	return out
}

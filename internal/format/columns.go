package format

import (
	"regexp"
	"sort"
	"strings"
)

var (
	selectListPattern = regexp.MustCompile(`(?is)^\s*select\s+(?:distinct\s+)?(.*?)\s+from\s`)
	aliasPattern      = regexp.MustCompile(`(?i)\s+as\s+"?(\w+)"?\s*$`)
)

// Columns orders the keys present in rows: first as they appear in the
// statement's select list, then the rest in the order rows introduce them.
// Keys first seen in the same row are sorted, since map order is random.
func Columns(statement string, rows []map[string]any) []string {
	var order []string
	present := map[string]bool{}
	for _, row := range rows {
		var fresh []string
		for k := range row {
			if !present[k] {
				present[k] = true
				fresh = append(fresh, k)
			}
		}
		sort.Strings(fresh)
		order = append(order, fresh...)
	}

	out := make([]string, 0, len(order))
	seen := map[string]bool{}
	for _, name := range selectNames(statement) {
		if present[name] && !seen[name] {
			out = append(out, name)
			seen[name] = true
		}
	}
	for _, k := range order {
		if !seen[k] {
			out = append(out, k)
		}
	}
	return out
}

func selectNames(statement string) []string {
	m := selectListPattern.FindStringSubmatch(statement)
	if m == nil {
		return nil
	}
	var names []string
	for _, expr := range splitTopLevel(m[1]) {
		expr = strings.TrimSpace(expr)
		if a := aliasPattern.FindStringSubmatch(expr); a != nil {
			names = append(names, a[1])
			continue
		}
		fields := strings.Fields(expr)
		if len(fields) == 0 {
			continue
		}
		name := fields[len(fields)-1]
		if i := strings.LastIndex(name, "."); i >= 0 {
			name = name[i+1:]
		}
		names = append(names, strings.Trim(name, `"`))
	}
	return names
}

func splitTopLevel(list string) []string {
	var parts []string
	depth, start := 0, 0
	for i, r := range list {
		switch r {
		case '(':
			depth++
		case ')':
			depth--
		case ',':
			if depth == 0 {
				parts = append(parts, list[start:i])
				start = i + 1
			}
		}
	}
	return append(parts, list[start:])
}

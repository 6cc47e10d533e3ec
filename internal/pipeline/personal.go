package pipeline

import (
	"regexp"
	"strings"
)

var personalInfoPatterns = []struct {
	key string
	re  *regexp.Regexp
}{
	{"name", regexp.MustCompile(`(?i)\bmy name is\s+([^.,!?;\n]+)`)},
	{"favorite_food", regexp.MustCompile(`(?i)\bmy favou?rite food is\s+([^.,!?;\n]+)`)},
	{"hobby", regexp.MustCompile(`(?i)\bmy hobby is\s+([^.,!?;\n]+)`)},
}

const maxPersonalValue = 80

// extractPersonalInfo returns the facts a request states about the user.
func extractPersonalInfo(request string) map[string]string {
	var out map[string]string
	for _, p := range personalInfoPatterns {
		m := p.re.FindStringSubmatch(request)
		if m == nil {
			continue
		}
		value := strings.TrimSpace(m[1])
		if value == "" {
			continue
		}
		if r := []rune(value); len(r) > maxPersonalValue {
			value = strings.TrimSpace(string(r[:maxPersonalValue]))
		}
		if out == nil {
			out = map[string]string{}
		}
		out[p.key] = value
	}
	return out
}

package policy

import (
	"regexp"
	"strings"
)

type redaction struct {
	pattern *regexp.Regexp
	replace func(match string) string
}

func mask(marker string) func(string) string {
	return func(string) string { return marker }
}

var (
	secretPattern = regexp.MustCompile(`(?i)((?:password|passwd|secret|token|api_?key)"?\s*[:=]\s*"?)[^",\s}]+`)
	ipv4Pattern   = regexp.MustCompile(`\b(?:(?:25[0-5]|2[0-4]\d|1?\d?\d)\.){3}(?:25[0-5]|2[0-4]\d|1?\d?\d)\b`)
)

// Order matters: cards and MAC addresses are masked before the looser
// phone pattern can claim their digits.
var redactions = []redaction{
	{regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`), mask("[REDACTED_EMAIL]")},
	{secretPattern, func(m string) string {
		return secretPattern.ReplaceAllString(m, "${1}[REDACTED_SECRET]")
	}},
	{regexp.MustCompile(`\b\d{4}(?:[ -]\d{4}){3}\b|\b\d{4}[ -]\d{6}[ -]\d{5}\b`), mask("[REDACTED_CARD]")},
	{regexp.MustCompile(`\b(?:[0-9A-Fa-f]{2}[:-]){5}[0-9A-Fa-f]{2}\b`), mask("[REDACTED_MAC]")},
	{ipv4Pattern, redactAddress},
	{regexp.MustCompile(`\+\d[\d\-() ]{7,}\d|\(\d{3}\)\s?\d{3}-\d{4}\b|\b\d{3}-\d{3}-\d{4}\b`), mask("[REDACTED_PHONE]")},
}

// Loopback and wildcard addresses say nothing about the host's network.
func redactAddress(ip string) string {
	if strings.HasPrefix(ip, "127.") || ip == "0.0.0.0" {
		return ip
	}
	return "[REDACTED_IP]"
}

// RedactPII masks personal and host-identifying values before text is kept
// in memory: emails, credentials, card and phone numbers, MAC addresses and
// non-loopback IPv4 addresses. Bare digit runs such as pids, epoch times and
// byte counts are left alone.
func RedactPII(input string) (redacted string, changed bool) {
	out := input
	for _, r := range redactions {
		out = r.pattern.ReplaceAllStringFunc(out, r.replace)
	}
	return out, out != input
}
